package territory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gridrun/internal/geo"
	"gridrun/internal/model"
	"gridrun/internal/util"

	"github.com/paulmach/orb"
)

// Transfer records one cell taken away from a previous owner during a
// processing run. The conquest aggregator groups these per previous owner.
type Transfer struct {
	Cell            geo.CellIndex
	PreviousOwnerID string
}

// ProcessResult is the per-activity outcome of the capture pipeline. A run
// that did not close into a loop is reported with LoopClosed=false and empty
// cell lists; that is a normal outcome, distinct from a processing error.
type ProcessResult struct {
	ActivityID     string     `json:"activity_id"`
	UserID         string     `json:"user_id"`
	LoopClosed     bool       `json:"loop_closed"`
	CellsInLoop    int        `json:"cells_in_loop"`
	GainedCells    []string   `json:"gained_cells"`
	RefreshedCells []string   `json:"refreshed_cells"`
	SkippedCells   []string   `json:"skipped_cells"`
	Transfers      []Transfer `json:"-"`
}

// TerritoryService runs the capture pipeline: decode trace, validate loop,
// rasterize, resolve per-cell claims against the store. It holds no grid
// state in process; every ownership decision is delegated to a conditional
// store write.
type TerritoryService struct {
	store          Store
	logRefreshRows bool
	initialized    bool
	initMutex      sync.RWMutex
}

var (
	territoryServiceInstance *TerritoryService
	territoryServiceOnce     sync.Once
)

// GetTerritoryService returns the singleton instance of the TerritoryService.
func GetTerritoryService() *TerritoryService {
	territoryServiceOnce.Do(func() {
		territoryServiceInstance = &TerritoryService{}
	})
	return territoryServiceInstance
}

// InitService wires the persistence store and engine options.
func (s *TerritoryService) InitService(store Store, logRefreshRows bool) {
	s.initMutex.Lock()
	defer s.initMutex.Unlock()

	if s.initialized {
		log.Println("TerritoryService already initialized, skipping")
		return
	}

	s.store = store
	s.logRefreshRows = logRefreshRows
	s.initialized = true
}

// IngestActivity stores a newly uploaded run. The route is not claimed here;
// claiming happens once, when the activity is processed.
func (s *TerritoryService) IngestActivity(ctx context.Context, userID, name, polyline string, startedAt time.Time) (*model.Activity, error) {
	activity := &model.Activity{
		ID:        util.ShortUUID(),
		UserID:    userID,
		Name:      name,
		Polyline:  polyline,
		StartedAt: startedAt,
	}

	points := util.DecodePolyline(polyline)
	activity.DistanceMeters = util.RouteDistance(points)

	if err := s.store.SaveActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("failed to save activity: %w", err)
	}
	return activity, nil
}

// GetActivity returns one stored activity, nil when absent.
func (s *TerritoryService) GetActivity(ctx context.Context, activityID string) (*model.Activity, error) {
	return s.store.GetActivity(ctx, activityID)
}

// ProcessPending runs the capture pipeline over unprocessed activities. A
// failure inside one activity is logged and skipped; the batch continues and
// the failed activity stays pending for the next run.
func (s *TerritoryService) ProcessPending(ctx context.Context, limit int) []*ProcessResult {
	activities, err := s.store.PendingActivities(ctx, limit)
	if err != nil {
		log.Printf("territory: failed to load pending activities: %v", err)
		return nil
	}

	var results []*ProcessResult
	for _, activity := range activities {
		result, err := s.ProcessActivity(ctx, activity)
		if err != nil {
			log.Printf("territory: processing activity %s failed, will retry: %v", activity.ID, err)
			continue
		}

		if err := s.store.MarkActivityProcessed(ctx, activity.ID); err != nil {
			log.Printf("territory: failed to mark activity %s processed: %v", activity.ID, err)
			continue
		}
		results = append(results, result)
	}
	return results
}

// ProcessActivity turns one activity's trace into cell claims. Non-closing
// or degenerate traces yield a zero-cell result with no error; the activity
// itself is always kept.
func (s *TerritoryService) ProcessActivity(ctx context.Context, activity *model.Activity) (*ProcessResult, error) {
	result := &ProcessResult{
		ActivityID:     activity.ID,
		UserID:         activity.UserID,
		GainedCells:    []string{},
		RefreshedCells: []string{},
		SkippedCells:   []string{},
	}

	points := util.DecodePolyline(activity.Polyline)
	if len(points) == 0 {
		return result, nil
	}

	// Closure is judged on the raw trace, cleanliness on the deduplicated
	// ring. Both must hold before any cell is claimed.
	if !geo.IsClaimableLoop(points) {
		return result, nil
	}

	ring := geo.CleanRing(points)
	if ring == nil {
		return result, nil
	}
	result.LoopClosed = true

	// Cache the derived loop on the activity before claiming, so viewport
	// queries can find it even when every cell stays locked against us.
	if err := s.cacheLoop(ctx, activity, ring); err != nil {
		return nil, err
	}

	cells := geo.Rasterize(ring)
	result.CellsInLoop = len(cells)

	now := time.Now().UTC()
	for _, cell := range cells {
		if err := s.claimCell(ctx, cell, activity, now, result); err != nil {
			// Abandon this activity's remaining cells; applied claims stay
			// durable and re-processing only refreshes them.
			return nil, fmt.Errorf("claim for cell %s: %w", cell.Key(), err)
		}
	}
	return result, nil
}

// claimCell resolves and applies the ownership transition for one cell. A
// lost conditional write means a concurrent claimer got there first; the
// cell is skipped, matching what a slightly later read would have decided.
func (s *TerritoryService) claimCell(ctx context.Context, idx geo.CellIndex, activity *model.Activity, now time.Time, result *ProcessResult) error {
	key := idx.Key()

	current, err := s.store.GetCell(ctx, key)
	if err != nil {
		return err
	}

	tr := resolveClaim(current, activity.UserID, now)

	if tr.Kind == transitionCreate {
		created, err := s.store.CreateCell(ctx, &model.TerritoryCell{
			CellKey:        key,
			CellX:          idx.X,
			CellY:          idx.Y,
			OwnerID:        activity.UserID,
			LockUntil:      tr.NewLock,
			LastClaimedAt:  now,
			LastActivityID: activity.ID,
		})
		if err != nil {
			return err
		}
		if !created {
			// Lost the insert race; re-read once and resolve against the
			// winner's row.
			if current, err = s.store.GetCell(ctx, key); err != nil {
				return err
			}
			if current == nil {
				result.SkippedCells = append(result.SkippedCells, key)
				return nil
			}
			tr = resolveClaim(current, activity.UserID, now)
		}
	}

	switch tr.Kind {
	case transitionCreate:
		result.GainedCells = append(result.GainedCells, key)

	case transitionSkip:
		result.SkippedCells = append(result.SkippedCells, key)
		return nil

	case transitionRefresh, transitionCapture:
		updated, err := s.store.UpdateCellOwner(ctx, &model.TerritoryCell{
			CellKey:        key,
			CellX:          idx.X,
			CellY:          idx.Y,
			OwnerID:        activity.UserID,
			LockUntil:      tr.NewLock,
			LastClaimedAt:  now,
			LastActivityID: activity.ID,
		}, tr.PriorLock)
		if err != nil {
			return err
		}
		if !updated {
			result.SkippedCells = append(result.SkippedCells, key)
			return nil
		}

		if tr.Kind == transitionCapture {
			result.GainedCells = append(result.GainedCells, key)
			result.Transfers = append(result.Transfers, Transfer{
				Cell:            idx,
				PreviousOwnerID: *tr.PreviousOwnerID,
			})
		} else {
			result.RefreshedCells = append(result.RefreshedCells, key)
			if !s.logRefreshRows {
				return nil
			}
		}
	}

	return s.store.AppendClaim(ctx, &model.TerritoryClaim{
		ID:              util.ShortUUID(),
		CellKey:         key,
		ClaimerID:       activity.UserID,
		PreviousOwnerID: tr.PreviousOwnerID,
		ActivityID:      activity.ID,
		Reason:          tr.Reason,
		ClaimedAt:       now,
	})
}

// cacheLoop writes the derived ring and its geographic bounding box onto the
// activity row. The ring is stored as an encoded polyline.
func (s *TerritoryService) cacheLoop(ctx context.Context, activity *model.Activity, ring orb.Ring) error {
	encoded := encodeRing(ring)
	bound := ring.Bound()

	if err := s.store.UpdateActivityLoopCache(ctx, activity.ID, encoded, bound); err != nil {
		return fmt.Errorf("failed to cache loop for activity %s: %w", activity.ID, err)
	}

	// Keep the in-memory row in sync for callers holding it.
	activity.LoopGeometry = encoded
	activity.MinLng, activity.MinLat = bound.Min[0], bound.Min[1]
	activity.MaxLng, activity.MaxLat = bound.Max[0], bound.Max[1]
	return nil
}

func encodeRing(ring orb.Ring) string {
	points := make([][2]float64, len(ring))
	for i, p := range ring {
		points[i] = [2]float64{p[1], p[0]} // polyline codec wants [lat, lng]
	}
	return util.EncodePolyline(points)
}

// DecodeRing is the inverse of the loop cache encoding, returning the stored
// [lng, lat] ring.
func DecodeRing(encoded string) orb.Ring {
	points := util.DecodePolyline(encoded)
	ring := make(orb.Ring, len(points))
	for i, p := range points {
		ring[i] = orb.Point{p[1], p[0]}
	}
	return ring
}
