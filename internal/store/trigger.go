package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/moira-alert/moira/internal/moira"
)

// GetTrigger reads a trigger document plus its tag set and normalizes the
// fields (sorted tags). Returns (nil, nil) if the trigger doesn't exist.
func (s *Store) GetTrigger(ctx context.Context, id string) (*moira.Trigger, error) {
	raw, err := s.client.Get(ctx, keyTrigger(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get trigger %s: %w", id, err)
	}

	var trigger moira.Trigger
	if err := json.Unmarshal(raw, &trigger); err != nil {
		return nil, fmt.Errorf("store: decode trigger %s: %w", id, err)
	}
	trigger.ID = id

	tags, err := s.client.SMembers(ctx, keyTriggerTags(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get trigger tags %s: %w", id, err)
	}
	sort.Strings(tags)
	trigger.Tags = tags

	return &trigger, nil
}

// SaveTrigger atomically writes the trigger document and updates every
// cross-index it participates in (global trigger list, pattern->triggers,
// tag->triggers), adding what `existing` didn't have and removing what it
// had but `trigger` no longer does. After the transaction commits, any
// pattern whose reverse index became empty is cascade-removed along with
// its metrics (§4.A).
func (s *Store) SaveTrigger(ctx context.Context, trigger *moira.Trigger, existing *moira.Trigger) error {
	var oldPatterns, oldTags []string
	if existing != nil {
		oldPatterns = existing.Patterns
		oldTags = existing.Tags
	}

	doc, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("store: encode trigger %s: %w", trigger.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyTrigger(trigger.ID), doc, 0)
		pipe.SAdd(ctx, keyTriggersList(), trigger.ID)

		for _, p := range diff(trigger.Patterns, oldPatterns) {
			pipe.SAdd(ctx, keyPatternList(), p)
			pipe.SAdd(ctx, keyPatternTriggers(p), trigger.ID)
		}
		for _, p := range diff(oldPatterns, trigger.Patterns) {
			pipe.SRem(ctx, keyPatternTriggers(p), trigger.ID)
		}

		if len(trigger.Tags) > 0 {
			pipe.SAdd(ctx, keyTriggerTags(trigger.ID), toInterfaceSlice(trigger.Tags)...)
		}
		for _, t := range diff(trigger.Tags, oldTags) {
			pipe.SAdd(ctx, keyTags(), t)
			pipe.SAdd(ctx, keyTagTriggers(t), trigger.ID)
		}
		for _, t := range diff(oldTags, trigger.Tags) {
			pipe.SRem(ctx, keyTriggerTags(trigger.ID), t)
			pipe.SRem(ctx, keyTagTriggers(t), trigger.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save trigger %s: %w", trigger.ID, err)
	}

	return s.cascadeRemoveEmptyPatterns(ctx, diff(oldPatterns, trigger.Patterns))
}

// RemoveTrigger deletes a trigger document and every reverse index it
// participated in, then cascades pattern removal the same way SaveTrigger
// does for patterns dropped from a trigger.
func (s *Store) RemoveTrigger(ctx context.Context, id string, existing *moira.Trigger) error {
	if existing == nil {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyTrigger(id))
		pipe.SRem(ctx, keyTriggersList(), id)
		pipe.Del(ctx, keyTriggerTags(id))

		for _, p := range existing.Patterns {
			pipe.SRem(ctx, keyPatternTriggers(p), id)
		}
		for _, t := range existing.Tags {
			pipe.SRem(ctx, keyTagTriggers(t), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: remove trigger %s: %w", id, err)
	}

	return s.cascadeRemoveEmptyPatterns(ctx, existing.Patterns)
}

// cascadeRemoveEmptyPatterns drops every pattern in candidates whose
// pattern->triggers set is now empty, along with its metrics and
// pattern-metrics set.
func (s *Store) cascadeRemoveEmptyPatterns(ctx context.Context, candidates []string) error {
	for _, p := range candidates {
		count, err := s.client.SCard(ctx, keyPatternTriggers(p)).Result()
		if err != nil {
			return fmt.Errorf("store: check pattern triggers %s: %w", p, err)
		}
		if count > 0 {
			continue
		}

		metrics, err := s.client.SMembers(ctx, keyPatternMetrics(p)).Result()
		if err != nil {
			return fmt.Errorf("store: list pattern metrics %s: %w", p, err)
		}

		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, keyPatternList(), p)
			pipe.Del(ctx, keyPatternMetrics(p))
			pipe.Del(ctx, keyPatternTriggers(p))
			for _, m := range metrics {
				pipe.Del(ctx, keyMetricData(m))
				pipe.Del(ctx, keyMetricRetention(m))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("store: cascade remove pattern %s: %w", p, err)
		}
	}
	return nil
}

func diff(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, x := range b {
		inB[x] = struct{}{}
	}
	var out []string
	for _, x := range a {
		if _, ok := inB[x]; !ok {
			out = append(out, x)
		}
	}
	return out
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
