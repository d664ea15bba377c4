package model

import (
	"time"
)

// TerritoryCell is the mutable ownership row for one ever-claimed grid cell.
// A cell with no row has no owner; a row always has exactly one owner.
// Rows are created lazily on first capture and never deleted.
type TerritoryCell struct {
	CellKey        string    `json:"cell_key" gorm:"primaryKey;size:64"`
	CellX          int       `json:"cell_x" gorm:"not null;index:idx_cells_xy,priority:1"`
	CellY          int       `json:"cell_y" gorm:"not null;index:idx_cells_xy,priority:2"`
	OwnerID        string    `json:"owner_id" gorm:"size:64;not null;index"`
	LockUntil      time.Time `json:"lock_until" gorm:"not null"`
	LastClaimedAt  time.Time `json:"last_claimed_at" gorm:"not null"`
	LastActivityID string    `json:"last_activity_id" gorm:"size:64"`

	CreatedAt time.Time `json:"-" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"-" gorm:"column:updated_at"`
}

// TableName overrides the table name
func (TerritoryCell) TableName() string {
	return "territory_cells"
}

// LockedAgainst reports whether a different user is still barred from taking
// the cell at the given instant. The owner is never locked out of their own
// cell.
func (c *TerritoryCell) LockedAgainst(userID string, now time.Time) bool {
	return c.OwnerID != userID && c.LockUntil.After(now)
}
