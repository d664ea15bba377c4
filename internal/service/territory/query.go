package territory

import (
	"context"
	"fmt"
	"log"
	"sync"

	"gridrun/internal/geo"
	"gridrun/internal/model"
	"gridrun/internal/service/storage"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// FriendLister resolves the friend set used by the "friends" viewport scope.
type FriendLister interface {
	FriendsOf(ctx context.Context, userID string) ([]string, error)
}

// LoopSpatial wraps a processed activity's cached loop for R-tree indexing.
type LoopSpatial struct {
	Activity *model.Activity
}

// Bounds implements the rtreego.Spatial interface
func (l *LoopSpatial) Bounds() rtreego.Rect {
	minX, minY := l.Activity.MinLng, l.Activity.MinLat
	maxX, maxY := l.Activity.MaxLng, l.Activity.MaxLat

	rect, _ := rtreego.NewRect(
		rtreego.Point{minX, minY},
		[]float64{maxX - minX, maxY - minY},
	)
	return rect
}

// LoopFeature is a viewport query result: one activity's loop rendered back
// to geographic ring coordinates.
type LoopFeature struct {
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	Ring       orb.Ring  `json:"ring"`
	Bound      orb.Bound `json:"bound"`
}

// QueryService serves the read side: viewport to cell range, cell to polygon,
// and loop lookups over an in-memory R-tree of cached loop bounding boxes.
type QueryService struct {
	store        Store
	social       FriendLister
	loops        storage.Storage[string, *model.Activity]
	spatialIndex *rtreego.Rtree
	indexMutex   sync.RWMutex
	initialized  bool
	initMutex    sync.RWMutex
}

var (
	queryServiceInstance *QueryService
	queryServiceOnce     sync.Once
)

// GetQueryService returns the singleton instance of the QueryService.
func GetQueryService() *QueryService {
	queryServiceOnce.Do(func() {
		queryServiceInstance = &QueryService{
			loops:        storage.NewMemoryStorage[string, *model.Activity](),
			spatialIndex: rtreego.NewTree(2, 25, 50),
		}
	})
	return queryServiceInstance
}

// InitService wires dependencies and builds the initial loop index.
func (s *QueryService) InitService(ctx context.Context, store Store, social FriendLister) error {
	s.initMutex.Lock()
	defer s.initMutex.Unlock()

	if s.initialized {
		log.Println("QueryService already initialized, skipping")
		return nil
	}

	s.store = store
	s.social = social

	if err := s.RefreshLoopIndex(ctx); err != nil {
		return fmt.Errorf("failed to build loop index: %w", err)
	}

	s.initialized = true
	return nil
}

// RefreshLoopIndex reloads processed loop activities and rebuilds the R-tree.
// Called at startup and after every sync run.
func (s *QueryService) RefreshLoopIndex(ctx context.Context) error {
	activities, err := s.store.ProcessedLoopActivities(ctx)
	if err != nil {
		return err
	}

	s.indexMutex.Lock()
	defer s.indexMutex.Unlock()

	s.loops.Clear()
	s.spatialIndex = rtreego.NewTree(2, 25, 50)

	for _, activity := range activities {
		s.loops.Set(activity.ID, activity)
		s.spatialIndex.Insert(&LoopSpatial{Activity: activity})
	}

	log.Printf("QueryService: loop index rebuilt with %d loops", s.loops.Count())
	return nil
}

// CellsInViewport returns the owned cells inside a geographic viewport,
// filtered by the scope predicate. Unknown scopes behave like "everyone".
func (s *QueryService) CellsInViewport(ctx context.Context, minLng, minLat, maxLng, maxLat float64, scope, userID string) ([]*model.TerritoryCell, error) {
	lo, hi := geo.CellRangeForBound(minLng, minLat, maxLng, maxLat)

	cells, err := s.store.CellsInRange(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells in range: %w", err)
	}

	switch scope {
	case "mine":
		return filterCellsByOwners(cells, map[string]bool{userID: true}), nil
	case "friends":
		friends, err := s.social.FriendsOf(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve friends of %s: %w", userID, err)
		}
		owners := map[string]bool{userID: true}
		for _, f := range friends {
			owners[f] = true
		}
		return filterCellsByOwners(cells, owners), nil
	default:
		return cells, nil
	}
}

func filterCellsByOwners(cells []*model.TerritoryCell, owners map[string]bool) []*model.TerritoryCell {
	filtered := make([]*model.TerritoryCell, 0, len(cells))
	for _, c := range cells {
		if owners[c.OwnerID] {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// LoopsInViewport returns the cached loops intersecting the viewport, without
// re-decoding any activity polyline.
func (s *QueryService) LoopsInViewport(minLng, minLat, maxLng, maxLat float64) []*LoopFeature {
	s.indexMutex.RLock()
	defer s.indexMutex.RUnlock()

	searchRect, err := rtreego.NewRect(
		rtreego.Point{min(minLng, maxLng), min(minLat, maxLat)},
		[]float64{abs(maxLng - minLng), abs(maxLat - minLat)},
	)
	if err != nil {
		log.Printf("invalid search rect: %v", err)
		return nil
	}

	results := s.spatialIndex.SearchIntersect(searchRect)

	features := make([]*LoopFeature, 0, len(results))
	for _, item := range results {
		activity := item.(*LoopSpatial).Activity
		features = append(features, &LoopFeature{
			ActivityID: activity.ID,
			UserID:     activity.UserID,
			Ring:       DecodeRing(activity.LoopGeometry),
			Bound: orb.Bound{
				Min: orb.Point{activity.MinLng, activity.MinLat},
				Max: orb.Point{activity.MaxLng, activity.MaxLat},
			},
		})
	}
	return features
}

// CellPolygonRing renders a cell key as its four-corner geographic ring.
func (s *QueryService) CellPolygonRing(key string) (orb.Ring, error) {
	idx, err := geo.ParseCellKey(key)
	if err != nil {
		return nil, err
	}
	return idx.Ring(), nil
}

// OwnedCellCount returns how many cells a user currently holds.
func (s *QueryService) OwnedCellCount(ctx context.Context, userID string) (int64, error) {
	return s.store.CountCellsOwnedBy(ctx, userID)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
