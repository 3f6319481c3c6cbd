package fetcher_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/fetcher"
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

func TestFetchDataStubWhenNoMetricsMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := fetcher.New(s)

	series, err := f.FetchData(ctx, "no.such.pattern", 0, 120, false)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.True(t, series[0].Stub)
	require.Equal(t, "no.such.pattern", series[0].Name)
}

func TestFetchDataConservativeKeepsFullBuckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := fetcher.New(s)

	require.NoError(t, s.AddPatternMetric(ctx, "metric.one", "metric.one"))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 0, 10))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 60, 100))

	series, err := f.FetchData(ctx, "metric.one", 0, 120, false)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Values, 2)
	require.Equal(t, 10.0, *series[0].Values[0])
	require.Equal(t, 100.0, *series[0].Values[1])
}

func TestFetchDataRealTimeIncludesPartialBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := fetcher.New(s)

	require.NoError(t, s.AddPatternMetric(ctx, "metric.one", "metric.one"))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 0, 10))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 60, 100))

	series, err := f.FetchData(ctx, "metric.one", 0, 60, true)
	require.NoError(t, err)
	require.Len(t, series[0].Values, 2) // one full bucket + the partial last bucket
	require.Equal(t, 10.0, *series[0].Values[0])
	require.Equal(t, 100.0, *series[0].Values[1])
}

func TestFetchDataConservativeOmitsPartialBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := fetcher.New(s)

	require.NoError(t, s.AddPatternMetric(ctx, "metric.one", "metric.one"))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 0, 10))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 60, 100))

	series, err := f.FetchData(ctx, "metric.one", 0, 60, false)
	require.NoError(t, err)
	require.Len(t, series[0].Values, 1)
	require.Equal(t, 10.0, *series[0].Values[0])
}
