package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRetention = 60

// MetricSample is one (value, timestamp) point as stored: the value is kept
// as the whitespace-delimited string Graphite itself writes, so fetchers
// that need the raw representation (and tests asserting on it) see exactly
// what the store holds.
type MetricSample struct {
	Timestamp int64
	Value     string
}

// AddMetricPoint appends one sample to a metric's sorted set, ranked by
// timestamp, in the "<ts> <value>" member format §6 specifies.
func (s *Store) AddMetricPoint(ctx context.Context, metric string, ts int64, value float64) error {
	member := fmt.Sprintf("%d %s", ts, strconv.FormatFloat(value, 'f', -1, 64))
	return s.client.ZAdd(ctx, keyMetricData(metric), redis.Z{Score: float64(ts), Member: member}).Err()
}

// AddPatternMetric records that `metric` currently matches `pattern`.
func (s *Store) AddPatternMetric(ctx context.Context, pattern, metric string) error {
	return s.client.SAdd(ctx, keyPatternMetrics(pattern), metric).Err()
}

// GetPatternMetrics returns every metric name currently matching pattern.
func (s *Store) GetPatternMetrics(ctx context.Context, pattern string) ([]string, error) {
	return s.client.SMembers(ctx, keyPatternMetrics(pattern)).Result()
}

// DelPatternMetrics drops the whole pattern->metrics set (not the metric
// data itself — callers that also want the samples gone call DeleteMetric).
func (s *Store) DelPatternMetrics(ctx context.Context, pattern string) error {
	return s.client.Del(ctx, keyPatternMetrics(pattern)).Err()
}

// DeleteMetric removes a metric's sample history and retention record.
func (s *Store) DeleteMetric(ctx context.Context, metric string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyMetricData(metric))
		pipe.Del(ctx, keyMetricRetention(metric))
		return nil
	})
	return err
}

// GetMetricsValues returns, for each requested metric, the ordered list of
// samples with timestamp in the closed-open range [fromTS, toTS).
func (s *Store) GetMetricsValues(ctx context.Context, metrics []string, fromTS, toTS int64) (map[string][]MetricSample, error) {
	result := make(map[string][]MetricSample, len(metrics))
	if len(metrics) == 0 {
		return result, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.ZSliceCmd, len(metrics))
	for _, m := range metrics {
		cmds[m] = pipe.ZRangeByScoreWithScores(ctx, keyMetricData(m), &redis.ZRangeBy{
			Min: strconv.FormatInt(fromTS, 10),
			Max: fmt.Sprintf("(%d", toTS), // "(" = exclusive upper bound, closed-open range
		})
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("store: get metric values: %w", err)
	}

	for m, cmd := range cmds {
		zs, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("store: get metric values %s: %w", m, err)
		}
		samples := make([]MetricSample, 0, len(zs))
		for _, z := range zs {
			member, _ := z.Member.(string)
			samples = append(samples, MetricSample{Timestamp: int64(z.Score), Value: member})
		}
		result[m] = samples
	}
	return result, nil
}

// CleanupMetricValues drops samples with timestamp <= olderThan.
func (s *Store) CleanupMetricValues(ctx context.Context, metric string, olderThan int64) error {
	_, err := s.client.ZRemRangeByScore(ctx, keyMetricData(metric), "-inf", strconv.FormatInt(olderThan, 10)).Result()
	if err != nil {
		return fmt.Errorf("store: cleanup metric values %s: %w", metric, err)
	}
	return nil
}

// GetMetricRetention returns the configured sample spacing for a metric,
// defaulting to 60 seconds when none was recorded.
func (s *Store) GetMetricRetention(ctx context.Context, metric string) (int, error) {
	v, err := s.client.Get(ctx, keyMetricRetention(metric)).Result()
	if err == redis.Nil {
		return defaultRetention, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get metric retention %s: %w", metric, err)
	}
	retention, err := strconv.Atoi(v)
	if err != nil || retention <= 0 {
		return defaultRetention, nil
	}
	return retention, nil
}

// ParseSampleValue extracts the float from a "<ts> <value>" stored member.
func ParseSampleValue(raw string) (float64, error) {
	parts := strings.Fields(raw)
	if len(parts) < 2 {
		return 0, fmt.Errorf("store: malformed metric sample %q", raw)
	}
	return strconv.ParseFloat(parts[1], 64)
}
