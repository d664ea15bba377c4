package postgres

import (
	"context"
	"errors"
	"time"

	"gridrun/internal/geo"
	"gridrun/internal/model"

	"github.com/paulmach/orb"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TerritoryStore is the gorm-backed implementation of the capture engine's
// store boundary. Per-cell atomicity rides on PostgreSQL conditional writes:
// ON CONFLICT DO NOTHING for first claims and an UPDATE guarded by the
// previously read lock value for ownership changes.
type TerritoryStore struct {
	db *gorm.DB
}

// NewTerritoryStore wraps a gorm connection.
func NewTerritoryStore(db *gorm.DB) *TerritoryStore {
	return &TerritoryStore{db: db}
}

// GetCell returns the cell row, or nil when the cell was never claimed.
func (s *TerritoryStore) GetCell(ctx context.Context, cellKey string) (*model.TerritoryCell, error) {
	var cell model.TerritoryCell
	result := s.db.WithContext(ctx).First(&cell, "cell_key = ?", cellKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cell, nil
}

// CreateCell inserts the first ownership row for a cell. Reports false when a
// concurrent claimer already inserted it.
func (s *TerritoryStore) CreateCell(ctx context.Context, cell *model.TerritoryCell) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(cell)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateCellOwner is the compare-and-swap write: it applies only while the
// stored lock still equals the lock the caller based its decision on.
func (s *TerritoryStore) UpdateCellOwner(ctx context.Context, cell *model.TerritoryCell, priorLock time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&model.TerritoryCell{}).
		Where("cell_key = ? AND lock_until = ?", cell.CellKey, priorLock).
		Updates(map[string]interface{}{
			"owner_id":         cell.OwnerID,
			"lock_until":       cell.LockUntil,
			"last_claimed_at":  cell.LastClaimedAt,
			"last_activity_id": cell.LastActivityID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AppendClaim inserts one claim row. Claims are write-once; no update path
// exists anywhere in the codebase.
func (s *TerritoryStore) AppendClaim(ctx context.Context, claim *model.TerritoryClaim) error {
	return s.db.WithContext(ctx).Create(claim).Error
}

// UpdateActivityLoopCache writes the derived loop ring and bbox columns.
func (s *TerritoryStore) UpdateActivityLoopCache(ctx context.Context, activityID, loopGeometry string, bound orb.Bound) error {
	return s.db.WithContext(ctx).
		Model(&model.Activity{}).
		Where("id = ?", activityID).
		Updates(map[string]interface{}{
			"loop_geometry": loopGeometry,
			"min_lng":       bound.Min[0],
			"min_lat":       bound.Min[1],
			"max_lng":       bound.Max[0],
			"max_lat":       bound.Max[1],
		}).Error
}

// PendingActivities returns unprocessed activities, oldest first.
func (s *TerritoryStore) PendingActivities(ctx context.Context, limit int) ([]*model.Activity, error) {
	var activities []*model.Activity
	result := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at asc").
		Limit(limit).
		Find(&activities)
	return activities, result.Error
}

// MarkActivityProcessed flags an activity as handled.
func (s *TerritoryStore) MarkActivityProcessed(ctx context.Context, activityID string) error {
	return s.db.WithContext(ctx).
		Model(&model.Activity{}).
		Where("id = ?", activityID).
		Update("processed", true).Error
}

// SaveActivity inserts a newly ingested activity.
func (s *TerritoryStore) SaveActivity(ctx context.Context, activity *model.Activity) error {
	return s.db.WithContext(ctx).Create(activity).Error
}

// GetActivity returns one activity, or nil when absent.
func (s *TerritoryStore) GetActivity(ctx context.Context, activityID string) (*model.Activity, error) {
	var activity model.Activity
	result := s.db.WithContext(ctx).First(&activity, "id = ?", activityID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &activity, nil
}

// CellsInRange returns all cells inside the inclusive index range.
func (s *TerritoryStore) CellsInRange(ctx context.Context, lo, hi geo.CellIndex) ([]*model.TerritoryCell, error) {
	var cells []*model.TerritoryCell
	result := s.db.WithContext(ctx).
		Where("cell_x BETWEEN ? AND ? AND cell_y BETWEEN ? AND ?", lo.X, hi.X, lo.Y, hi.Y).
		Find(&cells)
	return cells, result.Error
}

// CountCellsOwnedBy returns how many cells a user currently holds.
func (s *TerritoryStore) CountCellsOwnedBy(ctx context.Context, userID string) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).
		Model(&model.TerritoryCell{}).
		Where("owner_id = ?", userID).
		Count(&count)
	return count, result.Error
}

// ProcessedLoopActivities returns processed activities carrying a cached loop.
func (s *TerritoryStore) ProcessedLoopActivities(ctx context.Context) ([]*model.Activity, error) {
	var activities []*model.Activity
	result := s.db.WithContext(ctx).
		Where("processed = ? AND loop_geometry <> ''", true).
		Find(&activities)
	return activities, result.Error
}
