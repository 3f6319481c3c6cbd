package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/graphite/parser"
)

func TestParsePathExpression(t *testing.T) {
	node, err := parser.Parse("my.metric.*.count")
	require.NoError(t, err)
	require.Equal(t, "my.metric.*.count", node.PathExpression)
}

func TestParseSimpleCall(t *testing.T) {
	node, err := parser.Parse("sumSeries(my.metric.*)")
	require.NoError(t, err)
	require.NotNil(t, node.Call)
	require.Equal(t, "sumSeries", node.Call.Name)
	require.Len(t, node.Call.Args, 1)
	require.Equal(t, "my.metric.*", node.Call.Args[0].PathExpression)
}

func TestParseCallWithKwargs(t *testing.T) {
	node, err := parser.Parse(`movingAverage(my.metric, 10, func="max")`)
	require.NoError(t, err)
	require.NotNil(t, node.Call)
	require.Equal(t, "movingAverage", node.Call.Name)
	require.Len(t, node.Call.Args, 2)
	require.Equal(t, 10.0, *node.Call.Args[1].Number)
	require.Len(t, node.Call.Kwargs, 1)
	require.Equal(t, "func", node.Call.Kwargs[0].Name)
	require.Equal(t, "max", *node.Call.Kwargs[0].Value.String)
}

func TestParseNumericLiterals(t *testing.T) {
	cases := map[string]float64{
		"42":     42,
		"-3.5":   -3.5,
		"1.5e3":  1500,
		"1.5e-3": 0.0015,
	}
	for src, want := range cases {
		node, err := parser.Parse(src)
		require.NoError(t, err, src)
		require.NotNil(t, node.Number, src)
		require.InDelta(t, want, *node.Number, 1e-9, src)
	}
}

func TestParseBooleans(t *testing.T) {
	node, err := parser.Parse("true")
	require.NoError(t, err)
	require.NotNil(t, node.Bool)
	require.True(t, *node.Bool)
}

func TestParseTemplate(t *testing.T) {
	node, err := parser.Parse(`template(my.$host.metric, host="server1")`)
	require.NoError(t, err)
	require.NotNil(t, node.Template)
	require.Equal(t, "my.$host.metric", node.Template.Expr.PathExpression)
	require.Len(t, node.Template.Kwargs, 1)
	require.Equal(t, "host", node.Template.Kwargs[0].Name)
}

func TestParseDeeplyNestedCall(t *testing.T) {
	node, err := parser.Parse(`aliasByNode(reduceSeries(mapSeries(M.*.{free,total},1),"asPercent",3,"free","total"),1)`)
	require.NoError(t, err)
	require.Equal(t, "aliasByNode", node.Call.Name)
	require.Len(t, node.Call.Args, 2)
	reduce := node.Call.Args[0]
	require.Equal(t, "reduceSeries", reduce.Call.Name)
	mapCall := reduce.Call.Args[0]
	require.Equal(t, "mapSeries", mapCall.Call.Name)
	require.Equal(t, "M.*.{free,total}", mapCall.Call.Args[0].PathExpression)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := parser.Parse("sumSeries(my.metric))")
	require.Error(t, err)
}
