package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moira-alert/moira/internal/moira"
)

const (
	eventRetention = 30 * 24 * time.Hour
	uiEventCap     = 100
)

// PushEvent appends an event to the global events list and the per-trigger
// sorted-set event log (trimmed to the last 30 days on every write); when
// pushToUI is true the global list is also capped to its newest 100 entries
// (§4.A).
func (s *Store) PushEvent(ctx context.Context, event *moira.Event, pushToUI bool) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: encode event: %w", err)
	}

	trimBefore := event.Timestamp - int64(eventRetention/time.Second)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyTriggerEvents(event.TriggerID), redis.Z{
			Score: float64(event.Timestamp), Member: doc,
		})
		pipe.ZRemRangeByScore(ctx, keyTriggerEvents(event.TriggerID), "-inf", fmt.Sprintf("(%d", trimBefore))

		pipe.LPush(ctx, keyEventsList(), doc)
		if pushToUI {
			pipe.LTrim(ctx, keyEventsList(), 0, uiEventCap-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: push event for trigger %s: %w", event.TriggerID, err)
	}
	return nil
}
