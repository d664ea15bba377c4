package territory

import (
	"context"
	"time"

	"gridrun/internal/geo"
	"gridrun/internal/model"

	"github.com/paulmach/orb"
)

// Store is the persistence boundary of the capture engine. Implementations
// must make CreateCell and UpdateCellOwner atomic with respect to concurrent
// claimers: CreateCell fails cleanly when another claimer inserted the row
// first, and UpdateCellOwner is a compare-and-swap keyed on the lock value
// the caller read. Claim rows are insert-only.
type Store interface {
	// GetCell returns the cell row, or nil when the cell has never been
	// claimed.
	GetCell(ctx context.Context, cellKey string) (*model.TerritoryCell, error)

	// CreateCell inserts the first ownership row for a cell. Returns false
	// without error when a concurrent claimer won the insert.
	CreateCell(ctx context.Context, cell *model.TerritoryCell) (bool, error)

	// UpdateCellOwner rewrites owner/lock/provenance only if the stored lock
	// still equals priorLock. Returns false without error when the swap lost
	// a race.
	UpdateCellOwner(ctx context.Context, cell *model.TerritoryCell, priorLock time.Time) (bool, error)

	// AppendClaim inserts one immutable claim row.
	AppendClaim(ctx context.Context, claim *model.TerritoryClaim) error

	// UpdateActivityLoopCache writes the derived loop ring and bounding box
	// onto the activity row.
	UpdateActivityLoopCache(ctx context.Context, activityID, loopGeometry string, bound orb.Bound) error

	// PendingActivities returns unprocessed activities, oldest first.
	PendingActivities(ctx context.Context, limit int) ([]*model.Activity, error)

	// MarkActivityProcessed flags an activity as handled by the engine.
	MarkActivityProcessed(ctx context.Context, activityID string) error

	// SaveActivity inserts a newly ingested activity.
	SaveActivity(ctx context.Context, activity *model.Activity) error

	// GetActivity returns one activity by ID, or nil when absent.
	GetActivity(ctx context.Context, activityID string) (*model.Activity, error)

	// CellsInRange returns all cells whose indices fall inside the inclusive
	// range.
	CellsInRange(ctx context.Context, lo, hi geo.CellIndex) ([]*model.TerritoryCell, error)

	// CountCellsOwnedBy returns the number of cells a user currently holds.
	CountCellsOwnedBy(ctx context.Context, userID string) (int64, error)

	// ProcessedLoopActivities returns processed activities that cached a
	// loop polygon, for the viewport loop index.
	ProcessedLoopActivities(ctx context.Context) ([]*model.Activity, error)
}
