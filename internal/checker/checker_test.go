package checker_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/checker"
	"github.com/moira-alert/moira/internal/fetcher"
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

func TestCheckStepsThroughStatesAndPersistsLastCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trigger := &moira.Trigger{
		ID:         "t1",
		Name:       "cpu steps",
		Targets:    []string{"metric.one"},
		WarnValue:  moira.Float64Ptr(10),
		ErrorValue: moira.Float64Ptr(20),
		Patterns:   []string{"metric.one"},
	}
	require.NoError(t, s.SaveTrigger(ctx, trigger, nil))
	require.NoError(t, s.AddPatternMetric(ctx, "metric.one", "metric.one"))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 0, 5))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 60, 15))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 120, 25))

	c := checker.New(s, fetcher.New(s))
	require.NoError(t, c.Check(ctx, "t1", nil, 180, 0))

	got, err := s.GetTriggerLastCheck(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, moira.StateOK, got.State)

	metric, ok := got.Metrics["metric.one"]
	require.True(t, ok)
	require.Equal(t, moira.StateError, metric.State)
	require.Equal(t, int64(120), metric.Timestamp)
	require.NotNil(t, metric.Value)
	require.Equal(t, 25.0, *metric.Value)

	count, err := s.Client().ZCard(ctx, "moira-trigger-events:t1").Result()
	require.NoError(t, err)
	require.Greater(t, count, int64(0)) // at least the transition(s) into WARN/ERROR were pushed
}

func TestCheckMissingTriggerIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := checker.New(s, fetcher.New(s))

	require.NoError(t, c.Check(ctx, "does-not-exist", nil, 100, 0))
}

func TestCheckNoMetricsEmitsTTLState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trigger := &moira.Trigger{
		ID:       "t1",
		Targets:  []string{"no.such.metric"},
		TTL:      600,
		TTLState: moira.StateNoData,
		Patterns: []string{"no.such.metric"},
	}
	require.NoError(t, s.SaveTrigger(ctx, trigger, nil))

	c := checker.New(s, fetcher.New(s))
	require.NoError(t, c.Check(ctx, "t1", nil, 100, 0))

	got, err := s.GetTriggerLastCheck(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, moira.StateNoData, got.State)
	require.Equal(t, "Trigger has no metrics", got.Message)
}

func TestCheckRespectsMaintenanceSuppression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trigger := &moira.Trigger{
		ID:         "t1",
		Targets:    []string{"metric.one"},
		WarnValue:  moira.Float64Ptr(10),
		ErrorValue: moira.Float64Ptr(20),
		Tags:       []string{"infra"},
		Patterns:   []string{"metric.one"},
	}
	require.NoError(t, s.SaveTrigger(ctx, trigger, nil))
	require.NoError(t, s.AddPatternMetric(ctx, "metric.one", "metric.one"))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 60, 25))
	require.NoError(t, s.SetTagMaintenance(ctx, "infra", 1000))

	c := checker.New(s, fetcher.New(s))
	require.NoError(t, c.Check(ctx, "t1", nil, 120, 0))

	metric, ok := getMetric(t, s, "t1", "metric.one")
	require.True(t, ok)
	require.True(t, metric.Suppressed)
}

func getMetric(t *testing.T, s *store.Store, triggerID, metric string) (moira.MetricState, bool) {
	t.Helper()
	got, err := s.GetTriggerLastCheck(context.Background(), triggerID)
	require.NoError(t, err)
	m, ok := got.Metrics[metric]
	return m, ok
}
