package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moira-alert/moira/internal/moira"
)

const maintenanceCASRetries = 10

// SetTriggerMetricsMaintenance patches `metrics[m].Maintenance = until` for
// each entry in untilByMetric using WATCH/MULTI optimistic locking on the
// LastCheck key: read, patch, write back only if nothing else modified the
// key first. Retries up to maintenanceCASRetries times on conflict before
// surfacing an error (§9's CAS design note).
func (s *Store) SetTriggerMetricsMaintenance(ctx context.Context, id string, untilByMetric map[string]int64) error {
	key := keyLastCheck(id)

	for attempt := 0; attempt < maintenanceCASRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return fmt.Errorf("store: set metrics maintenance %s: no last check", id)
			}
			if err != nil {
				return err
			}

			var check moira.LastCheck
			if err := json.Unmarshal(raw, &check); err != nil {
				return err
			}

			for metric, until := range untilByMetric {
				state, ok := check.Metrics[metric]
				if !ok {
					continue
				}
				state.Maintenance = until
				check.Metrics[metric] = state
			}
			check.UpdateScore()

			doc, err := json.Marshal(&check)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, doc, 0)
				pipe.ZAdd(ctx, keyTriggersChecks(), redis.Z{Score: float64(check.Score), Member: id})
				if check.Score > 0 {
					pipe.SAdd(ctx, keyBadStateTriggers(), id)
				} else {
					pipe.SRem(ctx, keyBadStateTriggers(), id)
				}
				return nil
			})
			return err
		}, key)

		if err == nil {
			return nil
		}
		if err != redis.TxFailedErr {
			return fmt.Errorf("store: set metrics maintenance %s: %w", id, err)
		}
		// key was modified concurrently between WATCH and EXEC — retry.
	}
	return fmt.Errorf("store: set metrics maintenance %s: exhausted %d retries", id, maintenanceCASRetries)
}
