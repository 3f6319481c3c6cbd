package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/internal/expr"
	"github.com/moira-alert/moira/internal/moira"
)

func ptr(f float64) *float64 { return &f }

func TestDefaultCompareRisingTrigger(t *testing.T) {
	require.Equal(t, moira.StateOK, expr.DefaultCompare(5, 10, 20))
	require.Equal(t, moira.StateWarn, expr.DefaultCompare(15, 10, 20))
	require.Equal(t, moira.StateError, expr.DefaultCompare(25, 10, 20))
}

func TestDefaultCompareFallingTrigger(t *testing.T) {
	// warn_value > error_value selects the <= comparator (§4.C).
	require.Equal(t, moira.StateOK, expr.DefaultCompare(25, 20, 10))
	require.Equal(t, moira.StateWarn, expr.DefaultCompare(15, 20, 10))
	require.Equal(t, moira.StateError, expr.DefaultCompare(5, 20, 10))
}

func TestCompileEvaluatesTernaryExpression(t *testing.T) {
	c, err := expr.Compile("ERROR if t1 > error_value else WARN if t1 > warn_value else OK")
	require.NoError(t, err)

	val, err := c.Eval(expr.Env{
		Subjects:   map[string]float64{"t1": 50},
		WarnValue:  ptr(10),
		ErrorValue: ptr(40),
	})
	require.NoError(t, err)
	state, err := val.AsState()
	require.NoError(t, err)
	require.Equal(t, moira.StateError, state)
}

func TestCompileRejectsUnknownIdentifier(t *testing.T) {
	_, err := expr.Compile("ERROR if some_unbound_name else OK")
	require.Error(t, err)
}

func TestCompileRejectsCallSyntax(t *testing.T) {
	_, err := expr.Compile("max(t1, t2)")
	require.Error(t, err)
}

func TestCompileCachesBySourceText(t *testing.T) {
	a, err := expr.Compile("t1 > warn_value")
	require.NoError(t, err)
	b, err := expr.Compile("t1 > warn_value")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestArithmeticAndComparisons(t *testing.T) {
	c, err := expr.Compile("(t1 + t2) / 2 >= warn_value")
	require.NoError(t, err)
	val, err := c.Eval(expr.Env{
		Subjects:  map[string]float64{"t1": 10, "t2": 20},
		WarnValue: ptr(10),
	})
	require.NoError(t, err)
	b, err := val.AsBool()
	require.NoError(t, err)
	require.True(t, b)
}
