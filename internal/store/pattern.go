package store

import (
	"context"
	"fmt"
)

// GetTriggers returns every trigger id currently registered, used by the
// no-data sweep to re-enqueue every trigger on a periodic cadence (§4.A).
func (s *Store) GetTriggers(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, keyTriggersList()).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get triggers: %w", err)
	}
	return ids, nil
}

// GetPatternTriggers returns the ids of every trigger whose targets touch
// pattern, the reverse index SaveTrigger maintains.
func (s *Store) GetPatternTriggers(ctx context.Context, pattern string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, keyPatternTriggers(pattern)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get pattern triggers %s: %w", pattern, err)
	}
	return ids, nil
}

// RemoveOrphanPattern drops pattern and every metric it matched once no
// trigger references it any longer (master.py's messageReceived: a pattern
// whose trigger set just emptied has no one left to evaluate its metrics).
// Safe to call even if the pattern still has triggers; it checks first.
func (s *Store) RemoveOrphanPattern(ctx context.Context, pattern string) error {
	triggers, err := s.GetPatternTriggers(ctx, pattern)
	if err != nil {
		return err
	}
	if len(triggers) > 0 {
		return nil
	}

	metrics, err := s.GetPatternMetrics(ctx, pattern)
	if err != nil {
		return fmt.Errorf("store: list pattern metrics %s: %w", pattern, err)
	}
	for _, m := range metrics {
		if err := s.DeleteMetric(ctx, m); err != nil {
			return fmt.Errorf("store: delete orphaned metric %s: %w", m, err)
		}
	}
	if err := s.DelPatternMetrics(ctx, pattern); err != nil {
		return err
	}
	if err := s.client.SRem(ctx, keyPatternList(), pattern).Err(); err != nil {
		return fmt.Errorf("store: remove pattern %s: %w", pattern, err)
	}
	return nil
}
