package store

import (
	"context"
	"fmt"
	"time"
)

const checkLockPollInterval = 500 * time.Millisecond

// SetTriggerCheckLock attempts to acquire the per-trigger check lock with
// the given TTL, set-if-absent. Returns false without error if another
// worker already holds it.
func (s *Store) SetTriggerCheckLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyCheckLock(id), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: set check lock %s: %w", id, err)
	}
	return ok, nil
}

// ReleaseTriggerCheckLock releases the lock early (the worker finished
// before the TTL expired).
func (s *Store) ReleaseTriggerCheckLock(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyCheckLock(id)).Err(); err != nil {
		return fmt.Errorf("store: release check lock %s: %w", id, err)
	}
	return nil
}

// AcquireTriggerCheckLock polls every 0.5s until the lock is acquired or
// timeout elapses, at which point it returns an error (§4.A, §5). Used by
// API-side metric-delete and maintenance paths, which wait up to 10s for the
// same lock a worker's check holds.
func (s *Store) AcquireTriggerCheckLock(ctx context.Context, id string, ttl, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := s.SetTriggerCheckLock(ctx, id, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("store: acquire check lock %s: timed out after %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(checkLockPollInterval):
		}
	}
}
