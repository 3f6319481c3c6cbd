package store

import (
	"context"
	"encoding/json"

	"github.com/moira-alert/moira/internal/moira"
)

// PublishMetricEvent publishes the ingress envelope on the given channel.
func (s *Store) PublishMetricEvent(ctx context.Context, channel string, event moira.MetricEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// SubscribeMetricEvents subscribes to channel and forwards decoded
// MetricEvent messages on the returned channel until ctx is done. Malformed
// payloads are dropped silently — the caller is expected to log via its own
// counter, matching §7's "malformed inbound message" error kind, which the
// store layer has no logger to report through itself.
func (s *Store) SubscribeMetricEvents(ctx context.Context, channel string) (<-chan moira.MetricEvent, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan moira.MetricEvent)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case msg := <-ch:
				if msg == nil {
					return
				}
				var event moira.MetricEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
