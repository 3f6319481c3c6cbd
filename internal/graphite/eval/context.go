// Package eval walks a parsed target expression (internal/graphite/parser)
// and evaluates it against a RequestContext, dispatching calls through the
// function registry in internal/graphite/functions (§4.C, §9 "Global state
// removal").
package eval

import (
	"context"

	"github.com/moira-alert/moira/internal/fetcher"
	"github.com/moira-alert/moira/internal/moira"
)

// RequestContext carries everything a single trigger check's evaluation
// needs, threaded explicitly through every call instead of living behind
// package-level globals.
type RequestContext struct {
	Ctx       context.Context
	Fetcher   *fetcher.Fetcher
	StartTime int64
	EndTime   int64

	// AllowRealTime mirrors allowRealTimeAlerting: whether the fetcher
	// should report the partial last bucket.
	AllowRealTime bool

	// GraphitePatterns accumulates pattern -> resolved metric names,
	// populated as path expressions are fetched; consumers use this to
	// tell simple triggers apart from wildcard ones after the fact.
	GraphitePatterns map[string]map[string]struct{}

	// BootstrapDelta, when non-zero, is added as extra lookback for
	// windowing functions (movingAverage/movingMedian) that need a
	// bootstrap fetch extended further back than StartTime.
	BootstrapDelta int64
}

// NewRequestContext builds a RequestContext for one evaluation pass.
func NewRequestContext(ctx context.Context, f *fetcher.Fetcher, startTime, endTime int64, allowRealTime bool) *RequestContext {
	return &RequestContext{
		Ctx:              ctx,
		Fetcher:          f,
		StartTime:        startTime,
		EndTime:          endTime,
		AllowRealTime:    allowRealTime,
		GraphitePatterns: make(map[string]map[string]struct{}),
	}
}

// recordPattern tracks that pathExpr resolved to the given series names.
func (rc *RequestContext) recordPattern(pathExpr string, series []*moira.Series) {
	set, ok := rc.GraphitePatterns[pathExpr]
	if !ok {
		set = make(map[string]struct{})
		rc.GraphitePatterns[pathExpr] = set
	}
	for _, s := range series {
		set[s.Name] = struct{}{}
	}
}

// fetch resolves a single path expression into Series, honoring
// rc.AllowRealTime and a widened window when rc.BootstrapDelta is set.
func (rc *RequestContext) fetch(pathExpr string) ([]*moira.Series, error) {
	start := rc.StartTime - rc.BootstrapDelta
	series, err := rc.Fetcher.FetchData(rc.Ctx, pathExpr, start, rc.EndTime, rc.AllowRealTime)
	if err != nil {
		return nil, err
	}
	rc.recordPattern(pathExpr, series)
	return series, nil
}

// withBootstrap returns a shallow copy of rc with BootstrapDelta set to
// delta, used by windowing functions that need to look further back than
// the rest of the evaluation.
func (rc *RequestContext) withBootstrap(delta int64) *RequestContext {
	clone := *rc
	clone.BootstrapDelta = delta
	return &clone
}
