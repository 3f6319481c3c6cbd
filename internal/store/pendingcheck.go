package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddTriggerCheck adds id to the pending-check set, deduplicated: an
// identical (id, cacheKey) pair invoked again within cacheTTL of the last
// call is skipped entirely, so a burst of ingestion events for one trigger
// produces at most one pending entry per cacheTTL (§4.A, §8 invariant).
func (s *Store) AddTriggerCheck(ctx context.Context, id, cacheKey string, cacheTTL time.Duration) error {
	dedupKey := id + "\x00" + cacheKey

	s.dedupMu.Lock()
	last, seen := s.dedupLast[dedupKey]
	now := time.Now()
	if seen && now.Sub(last) < cacheTTL {
		s.dedupMu.Unlock()
		return nil
	}
	s.dedupLast[dedupKey] = now
	s.dedupMu.Unlock()

	if err := s.client.SAdd(ctx, keyTriggersToCheck(), id).Err(); err != nil {
		return fmt.Errorf("store: add trigger check %s: %w", id, err)
	}
	return nil
}

// GetTriggerToCheck pops one trigger id from the pending-check set, or
// returns ("", false) if the set is empty.
func (s *Store) GetTriggerToCheck(ctx context.Context) (string, bool, error) {
	id, err := s.client.SPop(ctx, keyTriggersToCheck()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: pop trigger to check: %w", err)
	}
	return id, true, nil
}
