package model

import (
	"time"
)

// ClaimReason tags why a claim row was written.
type ClaimReason int

const (
	// ClaimReasonLoopCapture marks a cell newly created for or transferred
	// to the claimer.
	ClaimReasonLoopCapture ClaimReason = iota
	// ClaimReasonLoopDefendRefresh marks an owner re-running their own
	// territory, extending the lock.
	ClaimReasonLoopDefendRefresh
)

// String returns the stable wire name of the reason.
func (r ClaimReason) String() string {
	switch r {
	case ClaimReasonLoopCapture:
		return "LOOP_CAPTURE"
	case ClaimReasonLoopDefendRefresh:
		return "LOOP_DEFEND_REFRESH"
	default:
		return "UNKNOWN"
	}
}

// TerritoryClaim is one resolved ownership decision for one cell arising from
// one activity. Rows are append-only: never mutated, never deleted. The last
// claim per cell reproduces the current TerritoryCell state.
type TerritoryClaim struct {
	ID              string      `json:"id" gorm:"primaryKey;size:32"`
	CellKey         string      `json:"cell_key" gorm:"size:64;not null;index"`
	ClaimerID       string      `json:"claimer_id" gorm:"size:64;not null;index"`
	PreviousOwnerID *string     `json:"previous_owner_id" gorm:"size:64"`
	ActivityID      string      `json:"activity_id" gorm:"size:64;not null;index"`
	Reason          ClaimReason `json:"reason" gorm:"not null"`
	ClaimedAt       time.Time   `json:"claimed_at" gorm:"not null"`
}

// TableName overrides the table name
func (TerritoryClaim) TableName() string {
	return "territory_claims"
}
