package model

import (
	"github.com/paulmach/orb"
)

// ConquestSummary is the ephemeral per-previous-owner notification payload
// built after one processing run. It is handed to the notification sink and
// discarded; nothing here is persisted.
type ConquestSummary struct {
	PreviousOwnerID string    `json:"previous_owner_id"`
	LostCellCount   int       `json:"lost_cell_count"`
	CellKeys        []string  `json:"cell_keys"` // capped sample
	Bound           orb.Bound `json:"bound"`     // geographic bbox of lost cell centers
	Centroid        orb.Point `json:"centroid"`  // [lng, lat]

	// AttackerName is set only when claimer and previous owner are mutual
	// friends; otherwise the conquest stays anonymous.
	AttackerName string `json:"attacker_name,omitempty"`
}
