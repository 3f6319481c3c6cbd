package functions

import (
	"fmt"
	"math"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("summarize", summarizeFn(false))
	eval.Register("smartSummarize", summarizeFn(true))
	eval.Register("hitcount", hitcountFn)
	eval.Register("timeShift", timeShiftFn)
	eval.Register("timeStack", timeStackFn)
	eval.Register("timeSlice", timeSliceFn)
	eval.Register("constantLine", constantLineFn)
	eval.Register("threshold", thresholdLineFn)
	eval.Register("aggregateLine", aggregateLineFn)
	eval.Register("time", timeFn)
	eval.Register("sin", sinFn)
	eval.Register("randomWalk", randomWalkFn)
	eval.Register("identity", timeFn)
}

func summarizeFn(aligned bool) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		if len(args) < 2 {
			return moira.Value{}, fmt.Errorf("summarize: expected (series, interval, [func])")
		}
		interval, err := parseGraphiteDuration(stringArg(args[1]))
		if err != nil {
			return moira.Value{}, err
		}
		funcName := "sum"
		if len(args) > 2 {
			funcName = args[2].Str
		}
		reduce := summarizeReduceFor(funcName)

		out := make([]*moira.Series, 0)
		for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
			start := s.Start
			if aligned && s.Step > 0 {
				start -= start % interval
			}
			n := int64(0)
			if interval > 0 {
				n = (s.End - start) / interval
			}
			values := make([]*float64, n)
			for i := range values {
				bucketStart := start + int64(i)*interval
				bucketEnd := bucketStart + interval
				var present []float64
				for ts := bucketStart; ts < bucketEnd; ts += s.Step {
					if v := s.ValueAt(ts); v != nil {
						present = append(present, *v)
					}
				}
				if len(present) > 0 {
					v := reduce(present)
					values[i] = &v
				}
			}
			out = append(out, &moira.Series{Name: fmt.Sprintf("summarize(%s,%q)", s.Name, stringArg(args[1])), Start: start, End: start + n*interval, Step: interval, Values: values})
		}
		return moira.SeriesValue(out), nil
	}
}

func summarizeReduceFor(name string) func([]float64) float64 {
	switch name {
	case "avg", "average":
		return reduceAvg
	case "min":
		return reduceMin
	case "max":
		return reduceMax
	case "last":
		return func(vs []float64) float64 { return vs[len(vs)-1] }
	default:
		return reduceSum
	}
}

func stringArg(v moira.Value) string {
	if v.Kind == moira.KindString {
		return v.Str
	}
	return fmt.Sprintf("%g", v.Number)
}

func hitcountFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("hitcount: expected (series, interval)")
	}
	interval, err := parseGraphiteDuration(stringArg(args[1]))
	if err != nil {
		return moira.Value{}, err
	}
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		n := int64(0)
		if interval > 0 {
			n = (s.End - s.Start) / interval
		}
		values := make([]*float64, n)
		for i := range values {
			bucketStart := s.Start + int64(i)*interval
			bucketEnd := bucketStart + interval
			var sum float64
			any := false
			for ts := bucketStart; ts < bucketEnd; ts += s.Step {
				if v := s.ValueAt(ts); v != nil {
					sum += *v * float64(s.Step)
					any = true
				}
			}
			if any {
				v := sum
				values[i] = &v
			}
		}
		out = append(out, &moira.Series{Name: "hitcount(" + s.Name + ")", Start: s.Start, End: s.Start + n*interval, Step: interval, Values: values})
	}
	return moira.SeriesValue(out), nil
}

func timeShiftFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("timeShift: expected (series, timeShift)")
	}
	delta, err := parseGraphiteDuration(stringArg(args[1]))
	if err != nil {
		return moira.Value{}, err
	}
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		cp := s.Clone()
		cp.Start += delta
		cp.End += delta
		cp.Name = fmt.Sprintf("timeShift(%s,%q)", s.Name, stringArg(args[1]))
		out = append(out, cp)
	}
	return moira.SeriesValue(out), nil
}

func timeStackFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 4 {
		return moira.Value{}, fmt.Errorf("timeStack: expected (series, unit, start, end)")
	}
	unit, err := parseGraphiteDuration(stringArg(args[1]))
	if err != nil {
		return moira.Value{}, err
	}
	startMul, endMul := int(args[2].Number), int(args[3].Number)
	out := make([]*moira.Series, 0)
	for i := startMul; i <= endMul; i++ {
		delta := int64(i) * unit
		for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
			cp := s.Clone()
			cp.Start += delta
			cp.End += delta
			cp.Name = fmt.Sprintf("timeShift(%s,%d)", s.Name, i)
			out = append(out, cp)
		}
	}
	return moira.SeriesValue(out), nil
}

func timeSliceFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 3 {
		return moira.Value{}, fmt.Errorf("timeSlice: expected (series, start, end)")
	}
	sliceStart, sliceEnd := int64(args[1].Number), int64(args[2].Number)
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		cp := s.Clone()
		for i := range cp.Values {
			ts := cp.Start + int64(i)*cp.Step
			if ts < sliceStart || ts > sliceEnd {
				cp.Values[i] = nil
			}
		}
		cp.Name = "timeSlice(" + s.Name + ")"
		out = append(out, cp)
	}
	return moira.SeriesValue(out), nil
}

func constantLineFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 1 {
		return moira.Value{}, fmt.Errorf("constantLine: expected (value)")
	}
	value := args[0].Number
	step := int64(60)
	n := (rc.EndTime - rc.StartTime) / step
	values := make([]*float64, n)
	for i := range values {
		v := value
		values[i] = &v
	}
	return moira.SeriesValue([]*moira.Series{{Name: fmt.Sprintf("%g", value), Start: rc.StartTime, End: rc.EndTime, Step: step, Values: values}}), nil
}

func thresholdLineFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	val, err := constantLineFn(rc, args[:1], kwargs)
	if err != nil {
		return moira.Value{}, err
	}
	name := fmt.Sprintf("%g", args[0].Number)
	if len(args) > 1 {
		name = args[1].Str
	}
	val.Series[0].Name = name
	return val, nil
}

func aggregateLineFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 1 {
		return moira.Value{}, fmt.Errorf("aggregateLine: expected (series, [func])")
	}
	funcName := "avg"
	if len(args) > 1 {
		funcName = args[1].Str
	}
	reduce := summarizeReduceFor(funcName)
	var value float64
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		vs := seriesValues(s)
		if len(vs) > 0 {
			value = reduce(vs)
		}
	}
	return constantLineFn(rc, []moira.Value{moira.NumberValue(value)}, kwargs)
}

func timeFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	step := int64(60)
	n := (rc.EndTime - rc.StartTime) / step
	values := make([]*float64, n)
	for i := range values {
		v := float64(rc.StartTime + int64(i)*step)
		values[i] = &v
	}
	name := "time"
	if len(args) > 0 {
		name = args[0].Str
	}
	return moira.SeriesValue([]*moira.Series{{Name: name, Start: rc.StartTime, End: rc.EndTime, Step: step, Values: values}}), nil
}

func sinFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	name := "sin"
	amplitude := 1.0
	step := int64(60)
	if len(args) > 0 {
		name = args[0].Str
	}
	if len(args) > 1 {
		amplitude = args[1].Number
	}
	n := (rc.EndTime - rc.StartTime) / step
	values := make([]*float64, n)
	for i := range values {
		v := amplitude * math.Sin(float64(i))
		values[i] = &v
	}
	return moira.SeriesValue([]*moira.Series{{Name: name, Start: rc.StartTime, End: rc.EndTime, Step: step, Values: values}}), nil
}

func randomWalkFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	name := "randomWalk"
	if len(args) > 0 {
		name = args[0].Str
	}
	step := int64(60)
	n := (rc.EndTime - rc.StartTime) / step
	values := make([]*float64, n)
	var acc float64
	for i := range values {
		// deterministic pseudo-noise: the checker never needs genuine
		// randomness, only a bounded non-constant test fixture.
		acc += math.Sin(float64(i)) * 0.1
		v := acc
		values[i] = &v
	}
	return moira.SeriesValue([]*moira.Series{{Name: name, Start: rc.StartTime, End: rc.EndTime, Step: step, Values: values}}), nil
}
