package eval_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/fetcher"
	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/graphite/parser"
	"github.com/moira-alert/moira/internal/moira"
	"github.com/moira-alert/moira/internal/store"
)

func newTestFetcher(t *testing.T) *fetcher.Fetcher {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := store.NewFromClient(client)

	ctx := context.Background()
	require.NoError(t, s.AddPatternMetric(ctx, "metric.one", "metric.one"))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 0, 5))
	require.NoError(t, s.AddMetricPoint(ctx, "metric.one", 60, 7))

	return fetcher.New(s)
}

func TestEvaluatePathExpressionFetchesSeriesAndRecordsPattern(t *testing.T) {
	f := newTestFetcher(t)
	rc := eval.NewRequestContext(context.Background(), f, 0, 120, false)

	node, err := parser.Parse("metric.one")
	require.NoError(t, err)

	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Equal(t, moira.KindSeriesList, val.Kind)
	require.Len(t, val.Series, 1)
	require.Equal(t, "metric.one", val.Series[0].Name)
	require.Contains(t, rc.GraphitePatterns["metric.one"], "metric.one")
}

func TestEvaluateDispatchesRegisteredCall(t *testing.T) {
	eval.Register("__test_double", func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		return moira.NumberValue(args[0].Number * 2), nil
	})

	f := newTestFetcher(t)
	rc := eval.NewRequestContext(context.Background(), f, 0, 120, false)

	node, err := parser.Parse("__test_double(21)")
	require.NoError(t, err)

	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Equal(t, moira.KindNumber, val.Kind)
	require.Equal(t, 42.0, val.Number)
}

func TestEvaluateUnknownFunctionErrors(t *testing.T) {
	f := newTestFetcher(t)
	rc := eval.NewRequestContext(context.Background(), f, 0, 120, false)

	node, err := parser.Parse("__no_such_function(1)")
	require.NoError(t, err)

	_, err = eval.Evaluate(rc, node)
	require.Error(t, err)
}

func TestEvaluateTemplateSubstitutesPlaceholder(t *testing.T) {
	f := newTestFetcher(t)
	rc := eval.NewRequestContext(context.Background(), f, 0, 120, false)

	node, err := parser.Parse(`template(metric.$suffix, suffix="one")`)
	require.NoError(t, err)

	val, err := eval.Evaluate(rc, node)
	require.NoError(t, err)
	require.Equal(t, moira.KindSeriesList, val.Kind)
	require.Len(t, val.Series, 1)
	require.Equal(t, "metric.one", val.Series[0].Name)
}
