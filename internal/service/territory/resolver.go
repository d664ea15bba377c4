package territory

import (
	"time"

	"gridrun/internal/config"
	"gridrun/internal/model"
)

// transitionKind enumerates the four possible outcomes of resolving one cell
// claim against its stored state.
type transitionKind int

const (
	transitionCreate transitionKind = iota
	transitionRefresh
	transitionCapture
	transitionSkip
)

// transition is the decision produced by resolveClaim. PriorLock carries the
// lock value the decision was based on, so the store write can compare-and
// swap against it.
type transition struct {
	Kind            transitionKind
	Reason          model.ClaimReason
	PreviousOwnerID *string
	PriorLock       time.Time
	NewLock         time.Time
}

// resolveClaim is the ownership state machine, pure over its inputs:
//
//	no record                      -> create, LOOP_CAPTURE
//	owned by claimer               -> refresh, LOOP_DEFEND_REFRESH
//	owned by other, lock expired   -> capture, LOOP_CAPTURE
//	owned by other, lock active    -> skip
//
// Every non-skip outcome sets the lock to now + the cooldown. Correctness
// under concurrency comes from executing the returned transition as a
// conditional store write, not from any in-process locking.
func resolveClaim(current *model.TerritoryCell, claimerID string, now time.Time) transition {
	newLock := now.Add(config.CellLockDuration)

	if current == nil {
		return transition{
			Kind:    transitionCreate,
			Reason:  model.ClaimReasonLoopCapture,
			NewLock: newLock,
		}
	}

	if current.OwnerID == claimerID {
		return transition{
			Kind:      transitionRefresh,
			Reason:    model.ClaimReasonLoopDefendRefresh,
			PriorLock: current.LockUntil,
			NewLock:   newLock,
		}
	}

	if current.LockedAgainst(claimerID, now) {
		return transition{Kind: transitionSkip, PriorLock: current.LockUntil}
	}

	prev := current.OwnerID
	return transition{
		Kind:            transitionCapture,
		Reason:          model.ClaimReasonLoopCapture,
		PreviousOwnerID: &prev,
		PriorLock:       current.LockUntil,
		NewLock:         newLock,
	}
}
