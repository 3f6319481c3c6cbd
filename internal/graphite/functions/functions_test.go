package functions_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/fetcher"
	"github.com/moira-alert/moira/internal/graphite/eval"
	_ "github.com/moira-alert/moira/internal/graphite/functions"
	"github.com/moira-alert/moira/internal/graphite/parser"
	"github.com/moira-alert/moira/internal/store"
)

func TestSumSeriesAddsAlignedSeries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := store.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, s.AddPatternMetric(ctx, "host.one.cpu", "host.one.cpu"))
	require.NoError(t, s.AddPatternMetric(ctx, "host.two.cpu", "host.two.cpu"))
	require.NoError(t, s.AddMetricPoint(ctx, "host.one.cpu", 0, 10))
	require.NoError(t, s.AddMetricPoint(ctx, "host.two.cpu", 0, 20))

	f := fetcher.New(s)
	rc := eval.NewRequestContext(ctx, f, 0, 60, false)

	node, err := parser.Parse("sumSeries(host.one.cpu,host.two.cpu)")
	require.NoError(t, err)
	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Len(t, val.Series, 1)
	require.Equal(t, 30.0, *val.Series[0].Values[0])
}

func TestScaleMultipliesEachSample(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := store.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, s.AddPatternMetric(ctx, "host.one.cpu", "host.one.cpu"))
	require.NoError(t, s.AddMetricPoint(ctx, "host.one.cpu", 0, 10))

	f := fetcher.New(s)
	rc := eval.NewRequestContext(ctx, f, 0, 60, false)

	node, err := parser.Parse("scale(host.one.cpu,2)")
	require.NoError(t, err)
	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Equal(t, 20.0, *val.Series[0].Values[0])
}

func TestMapSeriesReduceSeriesAliasByNodeComputesPercent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := store.NewFromClient(client)
	ctx := context.Background()

	for _, m := range []string{"M.host1.mem.free", "M.host1.mem.total", "M.host2.mem.free", "M.host2.mem.total"} {
		require.NoError(t, s.AddPatternMetric(ctx, "M.*.mem.{free,total}", m))
	}
	require.NoError(t, s.AddMetricPoint(ctx, "M.host1.mem.free", 0, 25))
	require.NoError(t, s.AddMetricPoint(ctx, "M.host1.mem.total", 0, 100))
	require.NoError(t, s.AddMetricPoint(ctx, "M.host2.mem.free", 0, 50))
	require.NoError(t, s.AddMetricPoint(ctx, "M.host2.mem.total", 0, 100))

	f := fetcher.New(s)
	rc := eval.NewRequestContext(ctx, f, 0, 60, false)

	node, err := parser.Parse(`aliasByNode(reduceSeries(mapSeries(M.*.mem.{free,total},1),"asPercent",3,"free","total"),1)`)
	require.NoError(t, err)

	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Len(t, val.Series, 2)

	byName := map[string]float64{}
	for _, series := range val.Series {
		byName[series.Name] = *series.Values[0]
	}
	require.InDelta(t, 25.0, byName["host1"], 0.01)
	require.InDelta(t, 50.0, byName["host2"], 0.01)
}

func TestRemoveAbovePercentileDropsDatapointsOverThreshold(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := store.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, s.AddPatternMetric(ctx, "host.one.cpu", "host.one.cpu"))
	for i, v := range []float64{1, 2, 3, 4} {
		require.NoError(t, s.AddMetricPoint(ctx, "host.one.cpu", int64(i*60), v))
	}

	f := fetcher.New(s)
	rc := eval.NewRequestContext(ctx, f, 0, 240, false)

	node, err := parser.Parse("removeAbovePercentile(host.one.cpu,75)")
	require.NoError(t, err)
	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Len(t, val.Series, 1)

	values := val.Series[0].Values
	require.Len(t, values, 4)
	require.Equal(t, 1.0, *values[0])
	require.Equal(t, 2.0, *values[1])
	require.Equal(t, 3.0, *values[2])
	require.Nil(t, values[3])
}
