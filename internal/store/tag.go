package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moira-alert/moira/internal/moira"
)

// GetTag reads the per-tag maintenance document at moira-tag:{tag}. A tag
// that was only ever created implicitly via SaveTrigger's tag index (and
// never placed under maintenance) has no document yet; that is not an
// error, it just carries a zero Maintenance.
func (s *Store) GetTag(ctx context.Context, tag string) (*moira.Tag, error) {
	raw, err := s.client.Get(ctx, keyTag(tag)).Bytes()
	if err == redis.Nil {
		return &moira.Tag{Name: tag}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tag %s: %w", tag, err)
	}

	var t moira.Tag
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("store: decode tag %s: %w", tag, err)
	}
	t.Name = tag
	return &t, nil
}

// GetTags resolves maintenance documents for every name in tags, in order.
func (s *Store) GetTags(ctx context.Context, tags []string) ([]*moira.Tag, error) {
	out := make([]*moira.Tag, 0, len(tags))
	for _, name := range tags {
		t, err := s.GetTag(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SetTagMaintenance writes a tag's maintenance epoch, registering the tag
// name in the global tag set if it isn't already there.
func (s *Store) SetTagMaintenance(ctx context.Context, tag string, until int64) error {
	doc, err := json.Marshal(&moira.Tag{Name: tag, Maintenance: until})
	if err != nil {
		return fmt.Errorf("store: encode tag %s: %w", tag, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyTag(tag), doc, 0)
		pipe.SAdd(ctx, keyTags(), tag)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: set tag maintenance %s: %w", tag, err)
	}
	return nil
}

// RemoveTag deletes a tag's maintenance document and its membership in the
// global tag set, but leaves moira-tag-triggers:{tag} alone — that index is
// owned by SaveTrigger/RemoveTrigger, not this method.
func (s *Store) RemoveTag(ctx context.Context, tag string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyTag(tag))
		pipe.SRem(ctx, keyTags(), tag)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: remove tag %s: %w", tag, err)
	}
	return nil
}

// EffectiveMaintenance resolves a trigger's effective maintenance window as
// the max Maintenance epoch across all of its tags (checker §4.F step 2):
// a trigger carrying any tag that is still under maintenance is itself
// under maintenance until the latest of those tags' expiries.
func (s *Store) EffectiveMaintenance(ctx context.Context, tags []string) (int64, error) {
	var max int64
	for _, name := range tags {
		t, err := s.GetTag(ctx, name)
		if err != nil {
			return 0, err
		}
		if t.Maintenance > max {
			max = t.Maintenance
		}
	}
	return max, nil
}
