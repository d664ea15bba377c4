package conquest

import (
	"context"
	"log"
	"sync"

	"gridrun/internal/config"
	"gridrun/internal/model"
	"gridrun/internal/service/territory"

	"github.com/paulmach/orb"
)

// Social is the slice of the friend graph the aggregator needs: attribution
// is only revealed between mutual friends.
type Social interface {
	AreMutualFriends(ctx context.Context, a, b string) (bool, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Sink accepts one conquest payload per previous owner and owns delivery.
type Sink interface {
	Deliver(ctx context.Context, summary *model.ConquestSummary) error
}

// ConquestService turns the transfers of one processing run into
// per-previous-owner notification payloads. Summaries are ephemeral; nothing
// here is persisted.
type ConquestService struct {
	social      Social
	sink        Sink
	initialized bool
	initMutex   sync.RWMutex
}

var (
	conquestServiceInstance *ConquestService
	conquestServiceOnce     sync.Once
)

// GetConquestService returns the singleton instance of the ConquestService.
func GetConquestService() *ConquestService {
	conquestServiceOnce.Do(func() {
		conquestServiceInstance = &ConquestService{}
	})
	return conquestServiceInstance
}

// InitService wires the friend graph and the notification sink.
func (s *ConquestService) InitService(social Social, sink Sink) {
	s.initMutex.Lock()
	defer s.initMutex.Unlock()

	if s.initialized {
		log.Println("ConquestService already initialized, skipping")
		return
	}

	s.social = social
	s.sink = sink
	s.initialized = true
}

// Summarize groups lost cells per previous owner and computes the payload
// geometry: count, a capped sample of cell keys, and the geographic bounding
// box and centroid of the lost cells' centers.
func Summarize(claimerID string, transfers []territory.Transfer) []*model.ConquestSummary {
	byOwner := make(map[string][]territory.Transfer)
	var owners []string
	for _, t := range transfers {
		if t.PreviousOwnerID == "" || t.PreviousOwnerID == claimerID {
			continue
		}
		if _, seen := byOwner[t.PreviousOwnerID]; !seen {
			owners = append(owners, t.PreviousOwnerID)
		}
		byOwner[t.PreviousOwnerID] = append(byOwner[t.PreviousOwnerID], t)
	}

	summaries := make([]*model.ConquestSummary, 0, len(owners))
	for _, owner := range owners {
		lost := byOwner[owner]

		summary := &model.ConquestSummary{
			PreviousOwnerID: owner,
			LostCellCount:   len(lost),
		}

		var sumX, sumY float64
		bound := orb.Bound{}
		for i, t := range lost {
			if i < config.ConquestSampleLimit {
				summary.CellKeys = append(summary.CellKeys, t.Cell.Key())
			}

			center := t.Cell.Center()
			sumX += center[0]
			sumY += center[1]
			if i == 0 {
				bound = orb.Bound{Min: center, Max: center}
			} else {
				bound = bound.Extend(center)
			}
		}

		n := float64(len(lost))
		summary.Centroid = orb.Point{sumX / n, sumY / n}
		summary.Bound = bound

		summaries = append(summaries, summary)
	}
	return summaries
}

// NotifyConquests summarizes one run's transfers, resolves attribution, and
// hands each payload to the sink. Delivery failures are logged and skipped;
// losing a notification never fails the capture run.
func (s *ConquestService) NotifyConquests(ctx context.Context, claimerID string, transfers []territory.Transfer) []*model.ConquestSummary {
	summaries := Summarize(claimerID, transfers)

	for _, summary := range summaries {
		mutual, err := s.social.AreMutualFriends(ctx, claimerID, summary.PreviousOwnerID)
		if err != nil {
			log.Printf("conquest: friendship check %s/%s failed, anonymizing: %v",
				claimerID, summary.PreviousOwnerID, err)
			mutual = false
		}
		if mutual {
			name, err := s.social.DisplayName(ctx, claimerID)
			if err != nil {
				log.Printf("conquest: display name lookup for %s failed: %v", claimerID, err)
			}
			summary.AttackerName = name
		}

		if err := s.sink.Deliver(ctx, summary); err != nil {
			log.Printf("conquest: delivery to %s failed: %v", summary.PreviousOwnerID, err)
		}
	}
	return summaries
}
