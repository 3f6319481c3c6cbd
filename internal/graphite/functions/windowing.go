package functions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("movingAverage", movingWindowFn("movingAverage", reduceAvg))
	eval.Register("movingMedian", movingWindowFn("movingMedian", median))
}

func median(vs []float64) float64 {
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// windowLength resolves the N|"Xmin" second argument into a point count
// given a series' step: a number is used as-is, a duration string is
// converted to seconds and divided by step.
func windowLength(arg moira.Value, step int64) (points int64, err error) {
	switch arg.Kind {
	case moira.KindNumber:
		return int64(arg.Number), nil
	case moira.KindString:
		seconds, err := parseGraphiteDuration(arg.Str)
		if err != nil {
			return 0, err
		}
		if step <= 0 {
			return 0, fmt.Errorf("movingWindow: series has zero step")
		}
		return seconds / step, nil
	default:
		return 0, fmt.Errorf("movingWindow: window argument must be a number or duration string")
	}
}

// parseGraphiteDuration parses "10min", "1h", "30s" into seconds.
func parseGraphiteDuration(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("movingWindow: invalid duration %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, err
	}
	unit := s[i:]
	switch {
	case strings.HasPrefix(unit, "s"):
		return n, nil
	case strings.HasPrefix(unit, "min") || unit == "m":
		return n * 60, nil
	case strings.HasPrefix(unit, "h"):
		return n * 3600, nil
	case strings.HasPrefix(unit, "d"):
		return n * 86400, nil
	default:
		return 0, fmt.Errorf("movingWindow: unrecognized duration unit in %q", s)
	}
}

// movingWindowFn implements movingAverage/movingMedian (§4.D). By the time
// this runs, the evaluator has already re-fetched args[0] extended back by
// the window length (the "bootstrap fetch") — both names are listed in
// internal/graphite/eval's bootstrapFns table — so this only needs to
// compute the window's point count and slide-reduce back to rc.StartTime.
func movingWindowFn(label string, reduce func([]float64) float64) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("%s: expected (series, window)", label)
		}

		series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
		step := int64(60)
		if len(series) > 0 {
			step = series[0].Step
		}
		windowPoints, err := windowLength(args[1], step)
		if err != nil {
			return moira.Value{}, err
		}
		if windowPoints <= 0 {
			return moira.Value{}, fmt.Errorf("%s: window must be positive", label)
		}

		out := make([]*moira.Series, 0, len(series))
		for _, s := range series {
			out = append(out, movingWindowSeries(s, windowPoints, rc.StartTime, label, reduce))
		}
		return moira.SeriesValue(out), nil
	}
}

func movingWindowSeries(s *moira.Series, window int64, trimStart int64, label string, reduce func([]float64) float64) *moira.Series {
	trimIdx := int64(0)
	if s.Step > 0 {
		trimIdx = (trimStart - s.Start) / s.Step
	}
	if trimIdx < 0 {
		trimIdx = 0
	}

	var values []*float64
	for i := trimIdx; i < int64(len(s.Values)); i++ {
		lo := i - window
		if lo < 0 {
			values = append(values, nil)
			continue
		}
		var present []float64
		for j := lo; j < i; j++ {
			if j >= 0 && j < int64(len(s.Values)) && s.Values[j] != nil {
				present = append(present, *s.Values[j])
			}
		}
		if len(present) == 0 {
			values = append(values, nil)
			continue
		}
		v := reduce(present)
		values = append(values, &v)
	}

	start := trimStart
	return &moira.Series{
		Name:           fmt.Sprintf("%s(%s,%d)", label, s.Name, window),
		PathExpression: s.PathExpression,
		Start:          start,
		End:            start + int64(len(values))*s.Step,
		Step:           s.Step,
		Values:         values,
	}
}
