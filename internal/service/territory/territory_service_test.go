package territory

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"gridrun/internal/config"
	"gridrun/internal/geo"
	"gridrun/internal/model"
	"gridrun/internal/service/storage"
	"gridrun/internal/util"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// fakeStore implements Store in memory with the same conditional-write
// semantics the postgres implementation provides.
type fakeStore struct {
	cells      map[string]*model.TerritoryCell
	claims     []*model.TerritoryClaim
	activities map[string]*model.Activity
	order      []string

	failAppendClaims int // fail this many AppendClaim calls

	// Race hooks, run before the conditional write checks its condition.
	// They let a test slip a concurrent claimer between the service's read
	// and its write.
	beforeCreateCell func(cellKey string)
	beforeUpdateCell func(cellKey string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cells:      make(map[string]*model.TerritoryCell),
		activities: make(map[string]*model.Activity),
	}
}

func (f *fakeStore) GetCell(_ context.Context, cellKey string) (*model.TerritoryCell, error) {
	cell, ok := f.cells[cellKey]
	if !ok {
		return nil, nil
	}
	copied := *cell
	return &copied, nil
}

func (f *fakeStore) CreateCell(_ context.Context, cell *model.TerritoryCell) (bool, error) {
	if f.beforeCreateCell != nil {
		f.beforeCreateCell(cell.CellKey)
	}
	if _, exists := f.cells[cell.CellKey]; exists {
		return false, nil
	}
	copied := *cell
	f.cells[cell.CellKey] = &copied
	return true, nil
}

func (f *fakeStore) UpdateCellOwner(_ context.Context, cell *model.TerritoryCell, priorLock time.Time) (bool, error) {
	if f.beforeUpdateCell != nil {
		f.beforeUpdateCell(cell.CellKey)
	}
	current, exists := f.cells[cell.CellKey]
	if !exists || !current.LockUntil.Equal(priorLock) {
		return false, nil
	}
	copied := *cell
	f.cells[cell.CellKey] = &copied
	return true, nil
}

func (f *fakeStore) AppendClaim(_ context.Context, claim *model.TerritoryClaim) error {
	if f.failAppendClaims > 0 {
		f.failAppendClaims--
		return errors.New("claim insert failed")
	}
	f.claims = append(f.claims, claim)
	return nil
}

func (f *fakeStore) UpdateActivityLoopCache(_ context.Context, activityID, loopGeometry string, bound orb.Bound) error {
	activity, ok := f.activities[activityID]
	if !ok {
		return errors.New("activity not found")
	}
	activity.LoopGeometry = loopGeometry
	activity.MinLng, activity.MinLat = bound.Min[0], bound.Min[1]
	activity.MaxLng, activity.MaxLat = bound.Max[0], bound.Max[1]
	return nil
}

func (f *fakeStore) PendingActivities(_ context.Context, limit int) ([]*model.Activity, error) {
	var pending []*model.Activity
	for _, id := range f.order {
		if a := f.activities[id]; !a.Processed {
			pending = append(pending, a)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (f *fakeStore) MarkActivityProcessed(_ context.Context, activityID string) error {
	f.activities[activityID].Processed = true
	return nil
}

func (f *fakeStore) SaveActivity(_ context.Context, activity *model.Activity) error {
	f.activities[activity.ID] = activity
	f.order = append(f.order, activity.ID)
	return nil
}

func (f *fakeStore) GetActivity(_ context.Context, activityID string) (*model.Activity, error) {
	return f.activities[activityID], nil
}

func (f *fakeStore) CellsInRange(_ context.Context, lo, hi geo.CellIndex) ([]*model.TerritoryCell, error) {
	var cells []*model.TerritoryCell
	for _, c := range f.cells {
		if c.CellX >= lo.X && c.CellX <= hi.X && c.CellY >= lo.Y && c.CellY <= hi.Y {
			cells = append(cells, c)
		}
	}
	return cells, nil
}

func (f *fakeStore) CountCellsOwnedBy(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, c := range f.cells {
		if c.OwnerID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ProcessedLoopActivities(_ context.Context) ([]*model.Activity, error) {
	var activities []*model.Activity
	for _, id := range f.order {
		if a := f.activities[id]; a.Processed && a.HasLoop() {
			activities = append(activities, a)
		}
	}
	return activities, nil
}

func newTestService(store Store) *TerritoryService {
	return &TerritoryService{store: store, logRefreshRows: true, initialized: true}
}

// polylineFromPlanar encodes a trace given as planar meter points.
func polylineFromPlanar(corners []orb.Point) string {
	points := make([][2]float64, len(corners))
	for i, p := range corners {
		lng, lat := geo.Unproject(p)
		points[i] = [2]float64{lat, lng}
	}
	return util.EncodePolyline(points)
}

// squareLoopPolyline traces a grid-aligned 500 m x 500 m square, start==end.
// Cell centers stay 25 m away from every edge, so the 1e-5 encoding rounding
// cannot flip membership.
func squareLoopPolyline() string {
	return polylineFromPlanar([]orb.Point{
		{1000, 1000},
		{1500, 1000},
		{1500, 1500},
		{1000, 1500},
		{1000, 1000},
	})
}

// oneCellLoopPolyline traces a 50 m x 50 m grid-aligned square: exactly one
// cell center (cell 20:20) falls inside.
func oneCellLoopPolyline() string {
	return polylineFromPlanar([]orb.Point{
		{1000, 1000},
		{1050, 1000},
		{1050, 1050},
		{1000, 1050},
		{1000, 1000},
	})
}

func seedCell(store *fakeStore, key, owner string, lockUntil time.Time) {
	idx, _ := geo.ParseCellKey(key)
	store.cells[key] = &model.TerritoryCell{
		CellKey:   key,
		CellX:     idx.X,
		CellY:     idx.Y,
		OwnerID:   owner,
		LockUntil: lockUntil,
	}
}

func ingest(t *testing.T, svc *TerritoryService, userID, polyline string) *model.Activity {
	t.Helper()
	activity, err := svc.IngestActivity(context.Background(), userID, "morning run", polyline, time.Now())
	require.NoError(t, err)
	return activity
}

func expireAllLocks(store *fakeStore) {
	past := time.Now().UTC().Add(-time.Minute)
	for _, c := range store.cells {
		c.LockUntil = past
	}
}

// A perfect square loop on an empty grid captures exactly 100
// cells for the runner, each locked for the cooldown.
func TestProcessActivityCapturesEmptyGrid(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	activity := ingest(t, svc, "u1", squareLoopPolyline())

	before := time.Now().UTC()
	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)
	after := time.Now().UTC()

	require.True(t, result.LoopClosed)
	require.Equal(t, 100, result.CellsInLoop)
	require.Len(t, result.GainedCells, 100)
	require.Empty(t, result.RefreshedCells)
	require.Empty(t, result.SkippedCells)
	require.Empty(t, result.Transfers)

	require.Len(t, store.claims, 100)
	for _, claim := range store.claims {
		require.Equal(t, model.ClaimReasonLoopCapture, claim.Reason)
		require.Equal(t, "u1", claim.ClaimerID)
		require.Nil(t, claim.PreviousOwnerID)
		require.Equal(t, activity.ID, claim.ActivityID)
	}

	require.Len(t, store.cells, 100)
	for _, cell := range store.cells {
		require.Equal(t, "u1", cell.OwnerID)
		require.False(t, cell.LockUntil.Before(before.Add(config.CellLockDuration)))
		require.False(t, cell.LockUntil.After(after.Add(config.CellLockDuration)))
	}

	require.True(t, activity.HasLoop())
}

// A second user retracing the loop while locked changes nothing.
func TestProcessActivityRespectsCooldown(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	first := ingest(t, svc, "u1", squareLoopPolyline())
	_, err := svc.ProcessActivity(context.Background(), first)
	require.NoError(t, err)

	second := ingest(t, svc, "u2", squareLoopPolyline())
	result, err := svc.ProcessActivity(context.Background(), second)
	require.NoError(t, err)

	require.True(t, result.LoopClosed)
	require.Empty(t, result.GainedCells)
	require.Len(t, result.SkippedCells, 100)
	require.Empty(t, result.Transfers)

	// No claim rows for skipped cells; ownership untouched.
	require.Len(t, store.claims, 100)
	for _, cell := range store.cells {
		require.Equal(t, "u1", cell.OwnerID)
	}

	// The loop cache is still written even though every cell was locked.
	require.True(t, second.HasLoop())
}

// After lock expiry the same retrace transfers every cell.
func TestProcessActivityCapturesAfterExpiry(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	first := ingest(t, svc, "u1", squareLoopPolyline())
	_, err := svc.ProcessActivity(context.Background(), first)
	require.NoError(t, err)

	expireAllLocks(store)

	second := ingest(t, svc, "u2", squareLoopPolyline())
	result, err := svc.ProcessActivity(context.Background(), second)
	require.NoError(t, err)

	require.Len(t, result.GainedCells, 100)
	require.Len(t, result.Transfers, 100)
	for _, tr := range result.Transfers {
		require.Equal(t, "u1", tr.PreviousOwnerID)
	}
	for _, cell := range store.cells {
		require.Equal(t, "u2", cell.OwnerID)
	}

	require.Len(t, store.claims, 200)
	capture := store.claims[100]
	require.Equal(t, model.ClaimReasonLoopCapture, capture.Reason)
	require.NotNil(t, capture.PreviousOwnerID)
	require.Equal(t, "u1", *capture.PreviousOwnerID)
}

// Submitting the same activity twice leaves ownership and lock expiry as a
// single submission would, only the claim log grows.
func TestProcessActivityIdempotentRefresh(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	activity := ingest(t, svc, "u1", squareLoopPolyline())
	_, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	require.Empty(t, result.GainedCells)
	require.Len(t, result.RefreshedCells, 100)
	require.Len(t, store.claims, 200)

	for _, claim := range store.claims[100:] {
		require.Equal(t, model.ClaimReasonLoopDefendRefresh, claim.Reason)
	}
	for _, cell := range store.cells {
		require.Equal(t, "u1", cell.OwnerID)
	}
}

func TestProcessActivityRefreshRowsDisabled(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	svc.logRefreshRows = false

	activity := ingest(t, svc, "u1", squareLoopPolyline())
	_, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	before := make(map[string]time.Time)
	for k, c := range store.cells {
		before[k] = c.LockUntil
	}

	_, err = svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	// Lock still refreshed, but no second wave of claim rows.
	require.Len(t, store.claims, 100)
	for k, c := range store.cells {
		require.False(t, c.LockUntil.Before(before[k]))
	}
}

// A trace whose endpoints sit 150 m apart claims nothing, but
// the activity is still kept and marked processed.
func TestProcessActivityOpenTrace(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	open := polylineFromPlanar([]orb.Point{
		{1000, 1000},
		{1500, 1000},
		{1500, 1500},
		{1000, 1500},
		{1150, 1000}, // 150 m from the start
	})
	activity := ingest(t, svc, "u1", open)

	results := svc.ProcessPending(context.Background(), 10)
	require.Len(t, results, 1)
	require.False(t, results[0].LoopClosed)
	require.Empty(t, results[0].GainedCells)
	require.Zero(t, results[0].CellsInLoop)

	require.Empty(t, store.cells)
	require.Empty(t, store.claims)
	require.True(t, store.activities[activity.ID].Processed)
	require.False(t, activity.HasLoop())
}

func TestProcessActivityEmptyPolyline(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	activity := ingest(t, svc, "u1", "")
	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)
	require.False(t, result.LoopClosed)
	require.Empty(t, result.GainedCells)
}

// A storage failure inside one activity abandons its remaining cells but the
// batch moves on; the failed activity stays pending for the next run.
func TestProcessPendingIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	failing := ingest(t, svc, "u1", squareLoopPolyline())
	healthy := ingest(t, svc, "u2", polylineFromPlanar([]orb.Point{
		{9000, 9000},
		{9500, 9000},
		{9500, 9500},
		{9000, 9500},
		{9000, 9000},
	}))

	store.failAppendClaims = 1

	results := svc.ProcessPending(context.Background(), 10)
	require.Len(t, results, 1)
	require.Equal(t, healthy.ID, results[0].ActivityID)
	require.Len(t, results[0].GainedCells, 100)

	require.False(t, store.activities[failing.ID].Processed)
	require.True(t, store.activities[healthy.ID].Processed)
}

// A rival who wins the first-claim insert between our read and write holds a
// fresh lock: the re-read resolves to skip, with no claim row for the cell.
func TestClaimCellCreateRaceLostToLockedRival(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	store.beforeCreateCell = func(key string) {
		store.beforeCreateCell = nil
		seedCell(store, key, "rival", time.Now().UTC().Add(config.CellLockDuration))
	}

	activity := ingest(t, svc, "u1", oneCellLoopPolyline())
	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	require.Equal(t, 1, result.CellsInLoop)
	require.Empty(t, result.GainedCells)
	require.Equal(t, []string{"20:20"}, result.SkippedCells)
	require.Empty(t, store.claims)
	require.Equal(t, "rival", store.cells["20:20"].OwnerID)
}

// Losing the insert race to a row whose lock already expired falls through
// to a capture of the winner's cell.
func TestClaimCellCreateRaceCapturesExpiredWinner(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	store.beforeCreateCell = func(key string) {
		store.beforeCreateCell = nil
		seedCell(store, key, "rival", time.Now().UTC().Add(-time.Minute))
	}

	activity := ingest(t, svc, "u1", oneCellLoopPolyline())
	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	require.Equal(t, []string{"20:20"}, result.GainedCells)
	require.Len(t, result.Transfers, 1)
	require.Equal(t, "rival", result.Transfers[0].PreviousOwnerID)
	require.Equal(t, "u1", store.cells["20:20"].OwnerID)

	require.Len(t, store.claims, 1)
	require.Equal(t, model.ClaimReasonLoopCapture, store.claims[0].Reason)
	require.NotNil(t, store.claims[0].PreviousOwnerID)
	require.Equal(t, "rival", *store.claims[0].PreviousOwnerID)
}

// Losing the insert race to one's own concurrent claim resolves to a refresh.
func TestClaimCellCreateRaceAgainstSelfRefreshes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	store.beforeCreateCell = func(key string) {
		store.beforeCreateCell = nil
		seedCell(store, key, "u1", time.Now().UTC().Add(config.CellLockDuration))
	}

	activity := ingest(t, svc, "u1", oneCellLoopPolyline())
	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	require.Empty(t, result.GainedCells)
	require.Equal(t, []string{"20:20"}, result.RefreshedCells)
	require.Equal(t, "u1", store.cells["20:20"].OwnerID)

	require.Len(t, store.claims, 1)
	require.Equal(t, model.ClaimReasonLoopDefendRefresh, store.claims[0].Reason)
}

// A capture whose compare-and-swap loses (the lock changed after our read)
// is skipped: ownership keeps the concurrent winner and no claim is logged.
func TestClaimCellUpdateRaceLostSwapSkips(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	// Cell is capturable when read, but a rival refreshes it before our
	// conditional write lands.
	seedCell(store, "20:20", "rival", time.Now().UTC().Add(-time.Minute))
	store.beforeUpdateCell = func(key string) {
		store.beforeUpdateCell = nil
		store.cells[key].LockUntil = time.Now().UTC().Add(config.CellLockDuration)
	}

	activity := ingest(t, svc, "u1", oneCellLoopPolyline())
	result, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)

	require.Empty(t, result.GainedCells)
	require.Empty(t, result.Transfers)
	require.Equal(t, []string{"20:20"}, result.SkippedCells)
	require.Empty(t, store.claims)
	require.Equal(t, "rival", store.cells["20:20"].OwnerID)
}

func TestQueryServiceViewport(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	activity := ingest(t, svc, "u1", squareLoopPolyline())
	_, err := svc.ProcessActivity(context.Background(), activity)
	require.NoError(t, err)
	require.NoError(t, store.MarkActivityProcessed(context.Background(), activity.ID))

	qs := &QueryService{
		store:  store,
		social: staticFriends{},
		loops:  storage.NewMemoryStorage[string, *model.Activity](),
	}
	require.NoError(t, qs.RefreshLoopIndex(context.Background()))

	// A viewport covering the loop returns all 100 cells and the loop.
	minLng, minLat := geo.Unproject(orb.Point{900, 900})
	maxLng, maxLat := geo.Unproject(orb.Point{1600, 1600})

	cells, err := qs.CellsInViewport(context.Background(), minLng, minLat, maxLng, maxLat, "everyone", "")
	require.NoError(t, err)
	require.Len(t, cells, 100)

	mine, err := qs.CellsInViewport(context.Background(), minLng, minLat, maxLng, maxLat, "mine", "u2")
	require.NoError(t, err)
	require.Empty(t, mine)

	loops := qs.LoopsInViewport(minLng, minLat, maxLng, maxLat)
	require.Len(t, loops, 1)
	require.Equal(t, activity.ID, loops[0].ActivityID)
	require.Len(t, loops[0].Ring, 5)

	// Ring cache round-trips through the polyline encoding.
	decoded := DecodeRing(activity.LoopGeometry)
	require.Equal(t, decoded[0], decoded[len(decoded)-1])
}

func TestCellPolygonRing(t *testing.T) {
	qs := &QueryService{}

	ring, err := qs.CellPolygonRing("20:20")
	require.NoError(t, err)
	require.Len(t, ring, 5)

	keys := sortedCellKeys(geo.Rasterize(ring))
	require.Equal(t, []string{"20:20"}, keys)

	_, err = qs.CellPolygonRing("garbage")
	require.Error(t, err)
}

type staticFriends struct{}

func (staticFriends) FriendsOf(context.Context, string) ([]string, error) { return nil, nil }

func sortedCellKeys(cells []geo.CellIndex) []string {
	keys := make([]string, len(cells))
	for i, c := range cells {
		keys[i] = c.Key()
	}
	sort.Strings(keys)
	return keys
}
