// Package functions implements the target-expression function library
// (§4.D) and registers every entry into internal/graphite/eval's function
// registry via blank import side effects, the same registration pattern
// database/sql uses for drivers.
package functions

import (
	"math"

	"github.com/moira-alert/moira/internal/moira"
)

// gcd/lcm ground the combiner normalisation rule in §4.D: align series of
// differing step onto their least-common-multiple step before zipping rows.
func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcm(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}

// normalize aligns every input series onto the LCM of their steps,
// consolidating each via its own Consolidation function, and returns the
// shared start/end/step plus the resampled series.
func normalize(series []*moira.Series) (start, end, step int64, aligned []*moira.Series) {
	if len(series) == 0 {
		return 0, 0, 0, nil
	}

	step = series[0].Step
	for _, s := range series[1:] {
		step = lcm(step, s.Step)
	}
	if step == 0 {
		step = series[0].Step
	}

	start = series[0].Start
	maxEnd := series[0].End
	for _, s := range series[1:] {
		if s.Start < start {
			start = s.Start
		}
		if s.End > maxEnd {
			maxEnd = s.End
		}
	}
	if step > 0 {
		end = maxEnd - ((maxEnd - start) % step)
	} else {
		end = maxEnd
	}

	aligned = make([]*moira.Series, len(series))
	for i, s := range series {
		aligned[i] = consolidateTo(s, start, end, step)
	}
	return start, end, step, aligned
}

// consolidateTo resamples s onto [start,end) at the given step using s's own
// Consolidation function to combine the samples falling in each new bucket.
func consolidateTo(s *moira.Series, start, end, step int64) *moira.Series {
	if step == s.Step && start == s.Start && end == s.End {
		return s
	}

	n := int64(0)
	if step > 0 {
		n = (end - start) / step
	}
	values := make([]*float64, n)
	for i := range values {
		bucketStart := start + int64(i)*step
		bucketEnd := bucketStart + step
		var acc []float64
		for ts := bucketStart; ts < bucketEnd; ts += maxInt64(s.Step, 1) {
			if v := s.ValueAt(ts); v != nil {
				acc = append(acc, *v)
			}
		}
		if len(acc) > 0 {
			v := consolidate(acc, s.Consolidation)
			values[i] = &v
		}
	}

	return &moira.Series{
		Name:           s.Name,
		PathExpression: s.PathExpression,
		Start:          start,
		End:            end,
		Step:           step,
		Values:         values,
		Consolidation:  s.Consolidation,
	}
}

func consolidate(values []float64, kind moira.Consolidation) float64 {
	switch kind {
	case moira.ConsolidateSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case moira.ConsolidateMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case moira.ConsolidateMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	default: // ConsolidateAvg
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// zipRows calls fn once per output row with the values at that
// index across every aligned series, in series order (nil where a series
// has no sample at that row); rows where every value is nil are left nil.
func zipRows(count int, aligned []*moira.Series, fn func(row []*float64) *float64) []*float64 {
	out := make([]*float64, count)
	row := make([]*float64, len(aligned))
	for i := 0; i < count; i++ {
		anyPresent := false
		for j, s := range aligned {
			if i < len(s.Values) {
				row[j] = s.Values[i]
			} else {
				row[j] = nil
			}
			if row[j] != nil {
				anyPresent = true
			}
		}
		if anyPresent {
			out[i] = fn(row)
		}
	}
	return out
}

func isNaN(f float64) bool { return math.IsNaN(f) }
