package functions

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("highestCurrent", rankFn("highestCurrent", seriesCurrent, true))
	eval.Register("highestMax", rankFn("highestMax", seriesMax, true))
	eval.Register("highestAverage", rankFn("highestAverage", seriesAvg, true))
	eval.Register("lowestCurrent", rankFn("lowestCurrent", seriesCurrent, false))
	eval.Register("lowestAverage", rankFn("lowestAverage", seriesAvg, false))
	eval.Register("currentAbove", thresholdFilterFn("currentAbove", seriesCurrent, func(v, t float64) bool { return v > t }))
	eval.Register("currentBelow", thresholdFilterFn("currentBelow", seriesCurrent, func(v, t float64) bool { return v < t }))
	eval.Register("averageAbove", thresholdFilterFn("averageAbove", seriesAvg, func(v, t float64) bool { return v > t }))
	eval.Register("averageBelow", thresholdFilterFn("averageBelow", seriesAvg, func(v, t float64) bool { return v < t }))
	eval.Register("maximumAbove", thresholdFilterFn("maximumAbove", seriesMax, func(v, t float64) bool { return v > t }))
	eval.Register("maximumBelow", thresholdFilterFn("maximumBelow", seriesMax, func(v, t float64) bool { return v < t }))
	eval.Register("minimumAbove", thresholdFilterFn("minimumAbove", seriesMin, func(v, t float64) bool { return v > t }))
	eval.Register("minimumBelow", thresholdFilterFn("minimumBelow", seriesMin, func(v, t float64) bool { return v < t }))
	eval.Register("nPercentile", nPercentileFn)
	eval.Register("removeAboveValue", removeByValueFn("removeAboveValue", func(v, t float64) bool { return v > t }))
	eval.Register("removeBelowValue", removeByValueFn("removeBelowValue", func(v, t float64) bool { return v < t }))
	eval.Register("removeAbovePercentile", removeByPercentileFn("removeAbovePercentile", func(v, t float64) bool { return v > t }))
	eval.Register("removeBelowPercentile", removeByPercentileFn("removeBelowPercentile", func(v, t float64) bool { return v < t }))
	eval.Register("removeEmptySeries", removeEmptySeriesFn)
	eval.Register("limit", limitFn)
	eval.Register("sortByName", sortByNameFn)
	eval.Register("sortByTotal", sortBySeriesValueFn("sortByTotal", reduceSum))
	eval.Register("sortByMaxima", sortBySeriesValueFn("sortByMaxima", seriesMax))
	eval.Register("sortByMinima", sortBySeriesValueFn("sortByMinima", seriesMin))
	eval.Register("exclude", grepLikeFn("exclude", true))
	eval.Register("grep", grepLikeFn("grep", false))
	eval.Register("fallbackSeries", fallbackSeriesFn)
}

func seriesCurrent(s *moira.Series) float64 {
	for i := len(s.Values) - 1; i >= 0; i-- {
		if s.Values[i] != nil {
			return *s.Values[i]
		}
	}
	return math.NaN()
}

func seriesValues(s *moira.Series) []float64 {
	var vs []float64
	for _, v := range s.Values {
		if v != nil {
			vs = append(vs, *v)
		}
	}
	return vs
}

func seriesAvg(s *moira.Series) float64 {
	vs := seriesValues(s)
	if len(vs) == 0 {
		return math.NaN()
	}
	return reduceAvg(vs)
}

func seriesMax(s *moira.Series) float64 {
	vs := seriesValues(s)
	if len(vs) == 0 {
		return math.NaN()
	}
	return reduceMax(vs)
}

func seriesMin(s *moira.Series) float64 {
	vs := seriesValues(s)
	if len(vs) == 0 {
		return math.NaN()
	}
	return reduceMin(vs)
}

// rankFn keeps the top (or bottom) N series by metric, ranked descending
// when top is true.
func rankFn(label string, metric func(*moira.Series) float64, top bool) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, n)", label)
		}
		n := int(args[1].Number)
		series := append([]*moira.Series(nil), args[0].AsSeries(rc.StartTime, rc.EndTime, 60)...)
		sort.SliceStable(series, func(i, j int) bool {
			if top {
				return metric(series[i]) > metric(series[j])
			}
			return metric(series[i]) < metric(series[j])
		})
		if n < len(series) {
			series = series[:n]
		}
		return moira.SeriesValue(series), nil
	}
}

func thresholdFilterFn(label string, metric func(*moira.Series) float64, cmp func(v, t float64) bool) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, threshold)", label)
		}
		threshold := args[1].Number
		var out []*moira.Series
		for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
			if cmp(metric(s), threshold) {
				out = append(out, s)
			}
		}
		return moira.SeriesValue(out), nil
	}
}

// seriesPercentile returns the n-th percentile of vs using the nearest-rank
// method (ceil(n/100 * count), 1-indexed), the same rule nPercentileFn and
// the two removeBy*Percentile filters apply.
func seriesPercentile(vs []float64, n float64) float64 {
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(n/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func nPercentileFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("nPercentile: expected (series, n)")
	}
	n := args[1].Number
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		vs := seriesValues(s)
		if len(vs) == 0 {
			continue
		}
		p := seriesPercentile(vs, n)
		values := make([]*float64, len(s.Values))
		for i := range values {
			values[i] = &p
		}
		out = append(out, &moira.Series{Name: fmt.Sprintf("nPercentile(%s,%g)", s.Name, n), Start: s.Start, End: s.End, Step: s.Step, Values: values})
	}
	return moira.SeriesValue(out), nil
}

// removeByPercentileFn removes per-series datapoints on the wrong side of
// that series' own n-th percentile (cmp decides above/below), the dynamic-
// threshold counterpart to removeByValueFn's fixed threshold.
func removeByPercentileFn(label string, cmp func(v, t float64) bool) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, n)", label)
		}
		n := args[1].Number
		out := make([]*moira.Series, 0)
		for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
			vs := seriesValues(s)
			if len(vs) == 0 {
				out = append(out, s)
				continue
			}
			threshold := seriesPercentile(vs, n)
			values := make([]*float64, len(s.Values))
			for i, v := range s.Values {
				if v != nil && !cmp(*v, threshold) {
					values[i] = v
				}
			}
			out = append(out, &moira.Series{Name: fmt.Sprintf("%s(%s,%g)", label, s.Name, n), Start: s.Start, End: s.End, Step: s.Step, Values: values})
		}
		return moira.SeriesValue(out), nil
	}
}

func removeByValueFn(label string, cmp func(v, t float64) bool) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, n)", label)
		}
		threshold := args[1].Number
		out := make([]*moira.Series, 0)
		for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
			values := make([]*float64, len(s.Values))
			for i, v := range s.Values {
				if v != nil && !cmp(*v, threshold) {
					values[i] = v
				}
			}
			out = append(out, &moira.Series{Name: fmt.Sprintf("%s(%s,%g)", label, s.Name, threshold), Start: s.Start, End: s.End, Step: s.Step, Values: values})
		}
		return moira.SeriesValue(out), nil
	}
}

func removeEmptySeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	var out []*moira.Series
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		if len(seriesValues(s)) > 0 {
			out = append(out, s)
		}
	}
	return moira.SeriesValue(out), nil
}

func limitFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("limit: expected (series, n)")
	}
	n := int(args[1].Number)
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	if n < len(series) {
		series = series[:n]
	}
	return moira.SeriesValue(series), nil
}

func sortByNameFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	series := append([]*moira.Series(nil), args[0].AsSeries(rc.StartTime, rc.EndTime, 60)...)
	sort.Slice(series, func(i, j int) bool { return series[i].Name < series[j].Name })
	return moira.SeriesValue(series), nil
}

func sortBySeriesValueFn(label string, metric func([]float64) float64) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		series := append([]*moira.Series(nil), args[0].AsSeries(rc.StartTime, rc.EndTime, 60)...)
		sort.SliceStable(series, func(i, j int) bool {
			vi, vj := seriesValues(series[i]), seriesValues(series[j])
			if len(vi) == 0 || len(vj) == 0 {
				return len(vi) > len(vj)
			}
			return metric(vi) > metric(vj)
		})
		return moira.SeriesValue(series), nil
	}
}

func grepLikeFn(label string, invert bool) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, pattern)", label)
		}
		re, err := regexp.Compile(args[1].Str)
		if err != nil {
			return moira.Value{}, fmt.Errorf("%s: %w", label, err)
		}
		var out []*moira.Series
		for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
			if re.MatchString(s.Name) != invert {
				out = append(out, s)
			}
		}
		return moira.SeriesValue(out), nil
	}
}

func fallbackSeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("fallbackSeries: expected (series, fallback)")
	}
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	if len(series) > 0 {
		return moira.SeriesValue(series), nil
	}
	return moira.SeriesValue(args[1].AsSeries(rc.StartTime, rc.EndTime, 60)), nil
}
