// Package fetcher materializes aligned numeric series from the store for a
// given pattern and time range (§4.B).
package fetcher

import (
	"context"
	"fmt"

	"github.com/moira-alert/moira/internal/moira"
	"github.com/moira-alert/moira/internal/store"
)

// Fetcher reads samples matching a pattern out of the store and buckets
// them into Series.
type Fetcher struct {
	store *store.Store
}

func New(s *store.Store) *Fetcher {
	return &Fetcher{store: s}
}

// FetchData resolves pattern to its matching metrics and returns one Series
// per metric, bucketed by the first matched metric's retention over the
// closed range [startTime, endTime].
// If no metric currently matches, a single empty stub series named after
// the pattern is returned so the trigger checker can still drive its
// no-data branch uniformly. allowRealTime controls whether the last
// (possibly partial) bucket is included — conservative fetchers wait for it
// to fill, real-time fetchers (simple triggers) report it immediately.
func (f *Fetcher) FetchData(ctx context.Context, pattern string, startTime, endTime int64, allowRealTime bool) ([]*moira.Series, error) {
	metrics, err := f.store.GetPatternMetrics(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("fetcher: list metrics for pattern %s: %w", pattern, err)
	}

	if len(metrics) == 0 {
		return []*moira.Series{{
			Name:           pattern,
			PathExpression: pattern,
			Start:          startTime,
			End:            endTime,
			Step:           60,
			Stub:           true,
		}}, nil
	}

	retention, err := f.store.GetMetricRetention(ctx, metrics[0])
	if err != nil {
		return nil, fmt.Errorf("fetcher: get retention for %s: %w", metrics[0], err)
	}
	step := int64(retention)

	// GetMetricsValues is closed-open; endTime+1 makes the read include endTime.
	samples, err := f.store.GetMetricsValues(ctx, metrics, startTime, endTime+1)
	if err != nil {
		return nil, fmt.Errorf("fetcher: get samples for pattern %s: %w", pattern, err)
	}

	numBuckets := (endTime - startTime) / step
	if numBuckets < 0 {
		numBuckets = 0
	}
	lastSlot := numBuckets

	result := make([]*moira.Series, 0, len(metrics))
	for _, metric := range metrics {
		values := make([]*float64, numBuckets)
		var lastBucketValue *float64
		hasLastBucketSample := false

		for _, raw := range samples[metric] {
			v, err := store.ParseSampleValue(raw.Value)
			if err != nil {
				continue
			}
			bucket := (raw.Timestamp - startTime) / step
			if bucket < 0 {
				continue
			}
			if bucket == lastSlot {
				val := v
				lastBucketValue = &val
				hasLastBucketSample = true
				continue
			}
			if bucket >= numBuckets {
				continue
			}
			val := v
			values[bucket] = &val // last sample per bucket wins (later overwrites earlier)
		}

		if allowRealTime && hasLastBucketSample {
			values = append(values, lastBucketValue)
		}

		result = append(result, &moira.Series{
			Name:           metric,
			PathExpression: pattern,
			Start:          startTime,
			End:            startTime + int64(len(values))*step,
			Step:           step,
			Values:         values,
		})
	}

	return result, nil
}
