package functions

import (
	"fmt"
	"math"
	"sort"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("sumSeries", combinerFn("sumSeries", reduceSum))
	eval.Register("averageSeries", combinerFn("averageSeries", reduceAvg))
	eval.Register("avg", combinerFn("avg", reduceAvg))
	eval.Register("minSeries", combinerFn("minSeries", reduceMin))
	eval.Register("maxSeries", combinerFn("maxSeries", reduceMax))
	eval.Register("rangeOfSeries", combinerFn("rangeOfSeries", reduceRange))
	eval.Register("countSeries", combinerFn("countSeries", reduceCount))
	eval.Register("stddevSeries", combinerFn("stddevSeries", reduceStddev))
	eval.Register("diffSeries", diffSeriesFn)
	eval.Register("multiplySeries", multiplySeriesFn)
	eval.Register("divideSeries", divideSeriesFn)
	eval.Register("percentileOfSeries", percentileOfSeriesFn)
}

func allInputSeries(rc *eval.RequestContext, args []moira.Value) []*moira.Series {
	var all []*moira.Series
	for _, a := range args {
		all = append(all, a.AsSeries(rc.StartTime, rc.EndTime, 60)...)
	}
	return all
}

// combinerFn builds a registered function that normalizes its inputs onto a
// shared step and zips them row-by-row through reduce.
func combinerFn(name string, reduce func([]float64) float64) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		series := allInputSeries(rc, args)
		if len(series) == 0 {
			return moira.SeriesValue(nil), nil
		}
		start, end, step, aligned := normalize(series)
		count := 0
		if step > 0 {
			count = int((end - start) / step)
		}
		values := zipRows(count, aligned, func(row []*float64) *float64 {
			var present []float64
			for _, v := range row {
				if v != nil {
					present = append(present, *v)
				}
			}
			if len(present) == 0 {
				return nil
			}
			r := reduce(present)
			return &r
		})
		return moira.SeriesValue([]*moira.Series{{
			Name: name + "(" + joinNames(series) + ")", Start: start, End: end, Step: step, Values: values,
		}}), nil
	}
}

func joinNames(series []*moira.Series) string {
	names := ""
	for i, s := range series {
		if i > 0 {
			names += ","
		}
		names += s.Name
	}
	return names
}

func reduceSum(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum
}

func reduceAvg(vs []float64) float64 {
	return reduceSum(vs) / float64(len(vs))
}

func reduceMin(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func reduceMax(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func reduceRange(vs []float64) float64 {
	return reduceMax(vs) - reduceMin(vs)
}

func reduceCount(vs []float64) float64 {
	return float64(len(vs))
}

func reduceStddev(vs []float64) float64 {
	mean := reduceAvg(vs)
	var acc float64
	for _, v := range vs {
		acc += (v - mean) * (v - mean)
	}
	return math.Sqrt(acc / float64(len(vs)))
}

// diffSeriesFn subtracts every series after the first from the first.
func diffSeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := allInputSeries(rc, args)
	if len(series) == 0 {
		return moira.SeriesValue(nil), nil
	}
	start, end, step, aligned := normalize(series)
	count := int(safeDiv(end-start, step))
	values := zipRows(count, aligned, func(row []*float64) *float64 {
		if row[0] == nil {
			return nil
		}
		acc := *row[0]
		for _, v := range row[1:] {
			if v != nil {
				acc -= *v
			}
		}
		return &acc
	})
	return moira.SeriesValue([]*moira.Series{{Name: "diffSeries(" + joinNames(series) + ")", Start: start, End: end, Step: step, Values: values}}), nil
}

func multiplySeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := allInputSeries(rc, args)
	if len(series) == 0 {
		return moira.SeriesValue(nil), nil
	}
	start, end, step, aligned := normalize(series)
	count := int(safeDiv(end-start, step))
	values := zipRows(count, aligned, func(row []*float64) *float64 {
		acc := 1.0
		any := false
		for _, v := range row {
			if v != nil {
				acc *= *v
				any = true
			}
		}
		if !any {
			return nil
		}
		return &acc
	})
	return moira.SeriesValue([]*moira.Series{{Name: "multiplySeries(" + joinNames(series) + ")", Start: start, End: end, Step: step, Values: values}}), nil
}

func divideSeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) != 2 {
		return moira.Value{}, fmt.Errorf("divideSeries: expected 2 arguments, got %d", len(args))
	}
	dividends := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	divisors := args[1].AsSeries(rc.StartTime, rc.EndTime, 60)
	if len(divisors) != 1 {
		return moira.Value{}, fmt.Errorf("divideSeries: divisor must resolve to exactly one series, got %d", len(divisors))
	}

	var out []*moira.Series
	for _, dividend := range dividends {
		start, end, step, aligned := normalize([]*moira.Series{dividend, divisors[0]})
		count := int(safeDiv(end-start, step))
		values := zipRows(count, aligned, func(row []*float64) *float64 {
			if row[0] == nil || row[1] == nil || *row[1] == 0 {
				return nil
			}
			v := *row[0] / *row[1]
			return &v
		})
		out = append(out, &moira.Series{Name: "divideSeries(" + dividend.Name + "," + divisors[0].Name + ")", Start: start, End: end, Step: step, Values: values})
	}
	return moira.SeriesValue(out), nil
}

func percentileOfSeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("percentileOfSeries: expected (seriesList, n)")
	}
	n := args[1].Number
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	if len(series) == 0 {
		return moira.SeriesValue(nil), nil
	}
	start, end, step, aligned := normalize(series)
	count := int(safeDiv(end-start, step))
	values := zipRows(count, aligned, func(row []*float64) *float64 {
		var present []float64
		for _, v := range row {
			if v != nil {
				present = append(present, *v)
			}
		}
		if len(present) == 0 {
			return nil
		}
		sort.Float64s(present)
		idx := int(math.Ceil(n/100*float64(len(present)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(present) {
			idx = len(present) - 1
		}
		v := present[idx]
		return &v
	})
	return moira.SeriesValue([]*moira.Series{{Name: fmt.Sprintf("percentileOfSeries(%s,%g)", joinNames(series), n), Start: start, End: end, Step: step, Values: values}}), nil
}

func safeDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return a / b
}
