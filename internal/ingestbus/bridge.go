package ingestbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/moira-alert/moira/common"
	"github.com/moira-alert/moira/internal/moira"
	"github.com/moira-alert/moira/internal/store"
)

// Config names the broker and durable queue the bridge consumes from.
type Config struct {
	URL          string
	Queue        string // default "moira.metric-event"
	RedisChannel string // default "metric-event"
}

// DefaultQueue is used when Config.Queue is empty.
const DefaultQueue = "moira.metric-event"

// Bridge consumes metric-event envelopes from an AMQP queue and republishes
// them on the Redis channel the dispatcher subscribes to.
type Bridge struct {
	conn    Connection
	channel Channel
	cfg     Config
	log     *common.ContextLogger
}

// NewBridge dials cfg.URL with the real AMQP client.
func NewBridge(cfg Config) (*Bridge, error) {
	return NewBridgeWithDialer(cfg, RealDialer{})
}

// NewBridgeWithDialer builds a Bridge using dialer, so tests can inject a
// fake broker. Declares the durable queue and sets prefetch to 1, so at most
// one message is in flight per bridge instance at a time.
func NewBridgeWithDialer(cfg Config, dialer Dialer) (*Bridge, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.RedisChannel == "" {
		cfg.RedisChannel = "metric-event"
	}

	conn, err := dialer.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ingestbus: connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingestbus: open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("ingestbus: declare queue %s: %w", cfg.Queue, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("ingestbus: set qos: %w", err)
	}

	return &Bridge{
		conn:    conn,
		channel: ch,
		cfg:     cfg,
		log:     common.NewContextLogger(common.Logger, map[string]interface{}{"component": "ingestbus", "queue": cfg.Queue}),
	}, nil
}

// Run consumes deliveries until ctx is cancelled, republishing each
// successfully-decoded envelope onto s's Redis ingest channel. Malformed
// payloads are rejected without requeue (§7's "malformed inbound message");
// a republish failure is nacked with requeue so the message isn't lost.
func (b *Bridge) Run(ctx context.Context, s *store.Store) error {
	deliveries, err := b.channel.Consume(b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("ingestbus: start consuming %s: %w", b.cfg.Queue, err)
	}
	b.log.Info("Consuming AMQP ingest queue")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			b.handleDelivery(ctx, s, d)
		}
	}
}

func (b *Bridge) handleDelivery(ctx context.Context, s *store.Store, d amqp.Delivery) {
	var event moira.MetricEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		b.log.WithError(err).Warn("Dropping malformed ingest message")
		d.Nack(false, false)
		return
	}

	if err := s.PublishMetricEvent(ctx, b.cfg.RedisChannel, event); err != nil {
		b.log.WithError(err).Error("Failed to republish ingest event, requeueing")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// Close releases the channel and connection.
func (b *Bridge) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
