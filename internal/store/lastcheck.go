package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moira-alert/moira/internal/moira"
)

// GetTriggerLastCheck reads the persisted LastCheck snapshot for a trigger,
// or (nil, nil) if the trigger has never been checked.
func (s *Store) GetTriggerLastCheck(ctx context.Context, id string) (*moira.LastCheck, error) {
	raw, err := s.client.Get(ctx, keyLastCheck(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get last check %s: %w", id, err)
	}
	var check moira.LastCheck
	if err := json.Unmarshal(raw, &check); err != nil {
		return nil, fmt.Errorf("store: decode last check %s: %w", id, err)
	}
	return &check, nil
}

// SetTriggerLastCheck transactionally persists LastCheck and updates the
// severity sorted-set ranking and the bad-state membership set to match the
// check's score (§4.A).
func (s *Store) SetTriggerLastCheck(ctx context.Context, id string, check *moira.LastCheck) error {
	check.UpdateScore()

	doc, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("store: encode last check %s: %w", id, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyLastCheck(id), doc, 0)
		pipe.ZAdd(ctx, keyTriggersChecks(), redis.Z{Score: float64(check.Score), Member: id})
		if check.Score > 0 {
			pipe.SAdd(ctx, keyBadStateTriggers(), id)
		} else {
			pipe.SRem(ctx, keyBadStateTriggers(), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: set last check %s: %w", id, err)
	}
	return nil
}
