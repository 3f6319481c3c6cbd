package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

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

func TestSaveTriggerGetTriggerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trigger := &moira.Trigger{
		ID:       "trigger-1",
		Name:     "high cpu",
		Targets:  []string{"metric.one"},
		Tags:     []string{"infra", "cpu"},
		Patterns: []string{"metric.one"},
	}

	require.NoError(t, s.SaveTrigger(ctx, trigger, nil))

	got, err := s.GetTrigger(ctx, "trigger-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, trigger.Name, got.Name)
	require.ElementsMatch(t, trigger.Tags, got.Tags)
}

func TestSaveTriggerCascadeRemovesEmptiedPattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	original := &moira.Trigger{ID: "t1", Patterns: []string{"A.*.M"}}
	require.NoError(t, s.SaveTrigger(ctx, original, nil))
	require.NoError(t, s.AddPatternMetric(ctx, "A.*.M", "A.one.M"))
	require.NoError(t, s.AddMetricPoint(ctx, "A.one.M", 100, 1.0))

	updated := &moira.Trigger{ID: "t1", Patterns: []string{"A.*.N"}}
	require.NoError(t, s.SaveTrigger(ctx, updated, original))

	metrics, err := s.GetPatternMetrics(ctx, "A.*.M")
	require.NoError(t, err)
	require.Empty(t, metrics)

	values, err := s.GetMetricsValues(ctx, []string{"A.one.M"}, 0, 200)
	require.NoError(t, err)
	require.Empty(t, values["A.one.M"])
}

func TestRemoveTriggerClearsReverseIndices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trigger := &moira.Trigger{ID: "t1", Tags: []string{"infra"}, Patterns: []string{"A.*.M"}}
	require.NoError(t, s.SaveTrigger(ctx, trigger, nil))
	require.NoError(t, s.RemoveTrigger(ctx, "t1", trigger))

	got, err := s.GetTrigger(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, got)

	metrics, err := s.GetPatternMetrics(ctx, "A.*.M")
	require.NoError(t, err)
	require.Empty(t, metrics)
}

func TestAddTriggerCheckDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddTriggerCheck(ctx, "t1", "ingest", 5*time.Second))
	id, ok, err := s.GetTriggerToCheck(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t1", id)

	// pop again: set should be empty now.
	_, ok, err = s.GetTriggerToCheck(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// re-adding within the dedup window of the first add skips the
	// underlying SADD, so the drained set stays empty.
	require.NoError(t, s.AddTriggerCheck(ctx, "t1", "ingest", 5*time.Second))
	require.NoError(t, s.AddTriggerCheck(ctx, "t1", "ingest", 5*time.Second))
	_, ok, err = s.GetTriggerToCheck(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetTriggerLastCheckUpdatesBadStateSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	check := &moira.LastCheck{
		State: moira.StateError,
		Metrics: map[string]moira.MetricState{
			"metric.one": {State: moira.StateError},
		},
	}
	require.NoError(t, s.SetTriggerLastCheck(ctx, "t1", check))
	require.Equal(t, int64(200), check.Score) // ERROR(100) trigger + ERROR(100) metric

	got, err := s.GetTriggerLastCheck(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(200), got.Score)
}

func TestAcquireTriggerCheckLockTimesOutWhenHeld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetTriggerCheckLock(ctx, "t1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.AcquireTriggerCheckLock(ctx, "t1", time.Minute, 600*time.Millisecond)
	require.Error(t, err)
}

func TestPushEventTrimsOldEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &moira.Event{TriggerID: "t1", Metric: "m", State: moira.StateOK, Timestamp: 0}
	fresh := &moira.Event{TriggerID: "t1", Metric: "m", State: moira.StateError, Timestamp: 40 * 24 * 3600}

	require.NoError(t, s.PushEvent(ctx, old, false))
	require.NoError(t, s.PushEvent(ctx, fresh, false))

	// fresh is 40 days after old, so old falls outside the 30-day window.
	count, err := s.Client().ZCard(ctx, "moira-trigger-events:t1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
