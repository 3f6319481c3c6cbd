package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/dispatcher"
	"github.com/moira-alert/moira/internal/moira"
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

func TestRunEnqueuesTriggersForIncomingPattern(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := &moira.Trigger{ID: "t1", Targets: []string{"host.cpu"}, Patterns: []string{"host.cpu"}}
	require.NoError(t, s.SaveTrigger(ctx, trigger, nil))

	cfg := dispatcher.DefaultConfig()
	cfg.CheckInterval = 0
	d := dispatcher.New(s, cfg)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.Client().Publish(ctx, cfg.Channel, `{"pattern":"host.cpu","metric":"host.cpu"}`).Err() == nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		id, ok, err := s.GetTriggerToCheck(ctx)
		return err == nil && ok && id == "t1"
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHandleEventGarbageCollectsOrphanPattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPatternMetric(ctx, "orphan.metric", "orphan.metric"))
	require.NoError(t, s.AddMetricPoint(ctx, "orphan.metric", 0, 1))

	d := dispatcher.New(s, dispatcher.DefaultConfig())
	done := make(chan error, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	go func() { done <- d.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return s.Client().Publish(context.Background(), "metric-event", `{"pattern":"orphan.metric","metric":"orphan.metric"}`).Err() == nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		metrics, err := s.GetPatternMetrics(context.Background(), "orphan.metric")
		return err == nil && len(metrics) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
