package ingestbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewFromClient(client)
}

func TestDefaultQueueName(t *testing.T) {
	require.Equal(t, "moira.metric-event", DefaultQueue)
}

func TestBridgeRepublishesDecodedEnvelope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub, err := s.SubscribeMetricEvents(ctx, "metric-event")
	require.NoError(t, err)

	b := newBridgeForTest(t)
	defer b.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.Run(runCtx, s)

	select {
	case ev := <-sub:
		require.Equal(t, "host.cpu", ev.Pattern)
		require.Equal(t, "host.cpu.load", ev.Metric)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for republished event")
	}
}

func TestBridgeDropsMalformedPayload(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 1)
	ack := &fakeAcknowledger{}
	deliveries <- amqp.Delivery{Body: []byte(`not json`), Acknowledger: ack}

	ch := &mockChannel{deliveries: deliveries}
	conn := &mockConnection{channel: ch}
	dialer := &mockDialer{conn: conn}

	b, err := NewBridgeWithDialer(Config{URL: "amqp://test"}, dialer)
	require.NoError(t, err)
	defer b.Close()

	s := newTestStore(t)
	runCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	b.Run(runCtx, s)

	require.Len(t, ack.nacked, 1)
	require.Equal(t, []bool{false}, ack.requeue)
}

func newBridgeForTest(t *testing.T) *Bridge {
	t.Helper()

	deliveries := make(chan amqp.Delivery, 1)
	ack := &fakeAcknowledger{}
	deliveries <- amqp.Delivery{
		Body:         []byte(`{"pattern":"host.cpu","metric":"host.cpu.load"}`),
		Acknowledger: ack,
	}

	ch := &mockChannel{deliveries: deliveries}
	conn := &mockConnection{channel: ch}
	dialer := &mockDialer{conn: conn}

	b, err := NewBridgeWithDialer(Config{URL: "amqp://test"}, dialer)
	require.NoError(t, err)
	require.Equal(t, "moira.metric-event", ch.lastQueue)
	require.Equal(t, 1, ch.lastPrefetch)
	return b
}
