package functions

import (
	"fmt"
	"math"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("scale", perSeriesArgFn("scale", func(v, factor float64) float64 { return v * factor }))
	eval.Register("offset", perSeriesArgFn("offset", func(v, amount float64) float64 { return v + amount }))
	eval.Register("pow", perSeriesArgFn("pow", math.Pow))
	eval.Register("scaleToSeconds", scaleToSecondsFn)
	eval.Register("squareRoot", perSeriesFn("squareRoot", math.Sqrt))
	eval.Register("invert", perSeriesFn("invert", func(v float64) float64 {
		if v == 0 {
			return math.NaN()
		}
		return 1 / v
	}))
	eval.Register("absolute", perSeriesFn("absolute", math.Abs))
	eval.Register("offsetToZero", offsetToZeroFn)
	eval.Register("log", logFn)
	eval.Register("derivative", derivativeFn)
	eval.Register("perSecond", perSecondFn)
	eval.Register("nonNegativeDerivative", nonNegativeDerivativeFn)
	eval.Register("integral", integralFn)
	eval.Register("transformNull", transformNullFn)
	eval.Register("isNonNull", isNonNullFn)
	eval.Register("keepLastValue", keepLastValueFn)
	eval.Register("changed", changedFn)
	eval.Register("consolidateBy", consolidateByFn)
	eval.Register("cumulative", cumulativeFn)
	eval.Register("asPercent", asPercentFn)
}

func mapSeriesValues(s *moira.Series, name string, fn func(float64) float64) *moira.Series {
	values := make([]*float64, len(s.Values))
	for i, v := range s.Values {
		if v == nil {
			continue
		}
		r := fn(*v)
		values[i] = &r
	}
	return &moira.Series{Name: name, PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values, Consolidation: s.Consolidation}
}

func perSeriesFn(label string, fn func(float64) float64) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 1 {
			return moira.Value{}, fmt.Errorf("%s: expected a series argument", label)
		}
		series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
		out := make([]*moira.Series, len(series))
		for i, s := range series {
			out[i] = mapSeriesValues(s, fmt.Sprintf("%s(%s)", label, s.Name), fn)
		}
		return moira.SeriesValue(out), nil
	}
}

func perSeriesArgFn(label string, fn func(v, arg float64) float64) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, value)", label)
		}
		arg := args[1].Number
		series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
		out := make([]*moira.Series, len(series))
		for i, s := range series {
			out[i] = mapSeriesValues(s, fmt.Sprintf("%s(%s,%g)", label, s.Name, arg), func(v float64) float64 { return fn(v, arg) })
		}
		return moira.SeriesValue(out), nil
	}
}

func scaleToSecondsFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("scaleToSeconds: expected (series, seconds)")
	}
	seconds := args[1].Number
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		step := float64(s.Step)
		out[i] = mapSeriesValues(s, fmt.Sprintf("scaleToSeconds(%s,%g)", s.Name, seconds), func(v float64) float64 {
			return v * seconds / step
		})
	}
	return moira.SeriesValue(out), nil
}

func offsetToZeroFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		minimum := math.Inf(1)
		for _, v := range s.Values {
			if v != nil && *v < minimum {
				minimum = *v
			}
		}
		out[i] = mapSeriesValues(s, fmt.Sprintf("offsetToZero(%s)", s.Name), func(v float64) float64 { return v - minimum })
	}
	return moira.SeriesValue(out), nil
}

func logFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	base := 10.0
	if len(args) > 1 {
		base = args[1].Number
	}
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		out[i] = mapSeriesValues(s, fmt.Sprintf("log(%s,%g)", s.Name, base), func(v float64) float64 {
			if v <= 0 {
				return math.NaN()
			}
			return math.Log(v) / math.Log(base)
		})
	}
	return moira.SeriesValue(out), nil
}

// derivativeLike computes fn over consecutive (prev,cur) pairs, leaving the
// first point null — shared by derivative, perSecond, nonNegativeDerivative.
func derivativeLike(label string, series []*moira.Series, fn func(prev, cur, stepSeconds float64) *float64) []*moira.Series {
	out := make([]*moira.Series, len(series))
	for si, s := range series {
		values := make([]*float64, len(s.Values))
		var prev *float64
		for i, v := range s.Values {
			if v != nil && prev != nil {
				values[i] = fn(*prev, *v, float64(s.Step))
			}
			prev = v
		}
		out[si] = &moira.Series{Name: fmt.Sprintf("%s(%s)", label, s.Name), PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values, Consolidation: s.Consolidation}
	}
	return out
}

func derivativeFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	return moira.SeriesValue(derivativeLike("derivative", series, func(prev, cur, _ float64) *float64 {
		d := cur - prev
		return &d
	})), nil
}

func perSecondFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	return moira.SeriesValue(derivativeLike("perSecond", series, func(prev, cur, stepSeconds float64) *float64 {
		if cur < prev {
			return nil // counter reset
		}
		d := (cur - prev) / stepSeconds
		return &d
	})), nil
}

func nonNegativeDerivativeFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	var maxValue *float64
	if v, ok := kwargs["maxValue"]; ok {
		mv := v.Number
		maxValue = &mv
	}
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	return moira.SeriesValue(derivativeLike("nonNegativeDerivative", series, func(prev, cur, _ float64) *float64 {
		if cur >= prev {
			d := cur - prev
			return &d
		}
		if maxValue != nil {
			d := (*maxValue - prev) + cur + 1
			return &d
		}
		return nil
	})), nil
}

func integralFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for si, s := range series {
		values := make([]*float64, len(s.Values))
		var acc float64
		for i, v := range s.Values {
			if v == nil {
				continue
			}
			acc += *v
			cp := acc
			values[i] = &cp
		}
		out[si] = &moira.Series{Name: "integral(" + s.Name + ")", PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values}
	}
	return moira.SeriesValue(out), nil
}

func transformNullFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	replacement := 0.0
	if len(args) > 1 {
		replacement = args[1].Number
	}
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		values := make([]*float64, len(s.Values))
		for j, v := range s.Values {
			if v != nil {
				values[j] = v
			} else {
				r := replacement
				values[j] = &r
			}
		}
		out[i] = &moira.Series{Name: fmt.Sprintf("transformNull(%s,%g)", s.Name, replacement), PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values}
	}
	return moira.SeriesValue(out), nil
}

func isNonNullFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		values := make([]*float64, len(s.Values))
		for j, v := range s.Values {
			var r float64
			if v != nil {
				r = 1
			}
			values[j] = &r
		}
		out[i] = &moira.Series{Name: "isNonNull(" + s.Name + ")", PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values}
	}
	return moira.SeriesValue(out), nil
}

func keepLastValueFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	limit := -1
	if len(args) > 1 {
		limit = int(args[1].Number)
	}
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for si, s := range series {
		values := make([]*float64, len(s.Values))
		copy(values, s.Values)
		var last *float64
		gap := 0
		for i, v := range values {
			if v != nil {
				last = v
				gap = 0
				continue
			}
			gap++
			if last != nil && (limit < 0 || gap <= limit) {
				values[i] = last
			}
		}
		out[si] = &moira.Series{Name: "keepLastValue(" + s.Name + ")", PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values}
	}
	return moira.SeriesValue(out), nil
}

func changedFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for si, s := range series {
		values := make([]*float64, len(s.Values))
		var prev *float64
		for i, v := range s.Values {
			var r float64
			if prev != nil && v != nil && *prev != *v {
				r = 1
			}
			values[i] = &r
			prev = v
		}
		out[si] = &moira.Series{Name: "changed(" + s.Name + ")", PathExpression: s.PathExpression, Start: s.Start, End: s.End, Step: s.Step, Values: values}
	}
	return moira.SeriesValue(out), nil
}

func consolidateByFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("consolidateBy: expected (series, funcName)")
	}
	kind := moira.ParseConsolidation(args[1].Str)
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		cp := s.Clone()
		cp.Consolidation = kind
		cp.Name = fmt.Sprintf("consolidateBy(%s,%q)", s.Name, args[1].Str)
		out[i] = cp
	}
	return moira.SeriesValue(out), nil
}

func cumulativeFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	out := make([]*moira.Series, len(series))
	for i, s := range series {
		cp := s.Clone()
		cp.Consolidation = moira.ConsolidateSum
		cp.Name = "cumulative(" + s.Name + ")"
		out[i] = cp
	}
	return moira.SeriesValue(out), nil
}

// asPercentFn computes series/total*100 for each input series against
// either a single shared total series or a scalar constant.
func asPercentFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 1 {
		return moira.Value{}, fmt.Errorf("asPercent: expected at least one argument")
	}
	inputs := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)

	if len(args) < 2 {
		total := 0.0
		for _, s := range inputs {
			for _, v := range s.Values {
				if v != nil {
					total += *v
				}
			}
		}
		out := make([]*moira.Series, len(inputs))
		for i, s := range inputs {
			out[i] = mapSeriesValues(s, "asPercent("+s.Name+")", func(v float64) float64 {
				if total == 0 {
					return math.NaN()
				}
				return v / total * 100
			})
		}
		return moira.SeriesValue(out), nil
	}

	totals := args[1].AsSeries(rc.StartTime, rc.EndTime, 60)
	var total *moira.Series
	if len(totals) == 1 {
		total = totals[0]
	}

	out := make([]*moira.Series, 0, len(inputs))
	for _, s := range inputs {
		var totalSeries *moira.Series
		if total != nil {
			totalSeries = total
		} else {
			for _, t := range totals {
				if t.Name == s.Name {
					totalSeries = t
					break
				}
			}
		}
		if totalSeries == nil {
			continue
		}
		start, end, step, aligned := normalize([]*moira.Series{s, totalSeries})
		count := int(safeDiv(end-start, step))
		values := zipRows(count, aligned, func(row []*float64) *float64 {
			if row[0] == nil || row[1] == nil || *row[1] == 0 {
				return nil
			}
			v := *row[0] / *row[1] * 100
			return &v
		})
		out = append(out, &moira.Series{Name: fmt.Sprintf("asPercent(%s,%s)", s.Name, totalSeries.Name), Start: start, End: end, Step: step, Values: values})
	}
	return moira.SeriesValue(out), nil
}
