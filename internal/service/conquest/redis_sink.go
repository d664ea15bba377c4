package conquest

import (
	"context"
	"encoding/json"
	"fmt"

	"gridrun/internal/model"
	redis_client "gridrun/internal/redis"
)

// RedisSink queues conquest payloads on a per-owner Redis list. The delivery
// collaborator (push, email, in-app) drains these lists; this service only
// produces the payloads.
type RedisSink struct{}

// NewRedisSink returns a sink backed by the global Redis client.
func NewRedisSink() *RedisSink {
	return &RedisSink{}
}

// Deliver pushes the JSON payload onto the previous owner's queue.
func (s *RedisSink) Deliver(ctx context.Context, summary *model.ConquestSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal conquest summary: %w", err)
	}

	key := fmt.Sprintf("conquest:notifications:%s", summary.PreviousOwnerID)
	return redis_client.ListPush(ctx, key, payload)
}
