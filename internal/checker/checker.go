// Package checker implements the trigger check algorithm (§4.F): given a
// trigger id, fetch its targets' series, step through newly-arrived
// timestamps evaluating the threshold/expression, and persist the resulting
// LastCheck plus any state-transition events.
package checker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moira-alert/moira/common"
	"github.com/moira-alert/moira/internal/expr"
	"github.com/moira-alert/moira/internal/fetcher"
	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/graphite/parser"
	"github.com/moira-alert/moira/internal/moira"
	"github.com/moira-alert/moira/internal/store"
)

// Checker evaluates one trigger at a time against the Store and Fetcher it
// was built with. A single Checker is shared by every worker in the pool;
// its only mutable state is the step-7 cleanup dedup cache, which is safe
// for concurrent use.
type Checker struct {
	store   *store.Store
	fetcher *fetcher.Fetcher

	cleanupMu   sync.Mutex
	cleanupSeen map[string]int64 // metric -> unix ts of its last CleanupMetricValues call
}

// New builds a Checker over s and f.
func New(s *store.Store, f *fetcher.Fetcher) *Checker {
	return &Checker{store: s, fetcher: f, cleanupSeen: make(map[string]int64)}
}

// Check runs the full §4.F algorithm for one trigger. fromTime is optional
// (nil defers to the previous LastCheck's timestamp); cacheTTL <= 0 uses
// DefaultCacheTTL. Callers that need at-most-one-check-in-flight-per-trigger
// (§5) are expected to hold the trigger's check lock around this call.
func (c *Checker) Check(ctx context.Context, triggerID string, fromTime *int64, now int64, cacheTTL time.Duration) error {
	log := common.NewContextLogger(common.Logger, map[string]interface{}{"trigger_id": triggerID})

	trigger, err := c.store.GetTrigger(ctx, triggerID)
	if err != nil {
		log.WithError(err).Error("Failed to load trigger")
		return fmt.Errorf("checker: load trigger %s: %w", triggerID, err)
	}
	if trigger == nil {
		log.Debug("Trigger no longer exists, skipping check")
		return nil
	}

	maintenance, err := c.store.EffectiveMaintenance(ctx, trigger.Tags)
	if err != nil {
		return fmt.Errorf("checker: resolve maintenance for %s: %w", triggerID, err)
	}

	lastCheck, err := c.store.GetTriggerLastCheck(ctx, triggerID)
	if err != nil {
		return fmt.Errorf("checker: load last check for %s: %w", triggerID, err)
	}
	if lastCheck == nil {
		begin := now - 3600
		if fromTime != nil {
			begin = *fromTime - 3600
		}
		lastCheck = &moira.LastCheck{Metrics: map[string]moira.MetricState{}, State: moira.StateNoData, Timestamp: begin}
	}
	if lastCheck.Metrics == nil {
		lastCheck.Metrics = map[string]moira.MetricState{}
	}

	resolvedFrom := lastCheck.Timestamp
	if fromTime != nil {
		resolvedFrom = *fromTime
	}

	window := trigger.TTL
	if window < minRequestWindow {
		window = minRequestWindow
	}
	rc := eval.NewRequestContext(ctx, c.fetcher, resolvedFrom-window, now, trigger.IsSimple())

	check := &moira.LastCheck{
		Timestamp: now,
		State:     moira.StateOK,
		Metrics:   cloneMetrics(lastCheck.Metrics),
	}

	if err := c.evaluateAndStep(ctx, rc, trigger, lastCheck, check, now, cacheTTL, maintenance); err != nil {
		log.WithError(err).Warn("Trigger evaluation failed, recording EXCEPTION state")
		check.State = moira.StateException
		check.Message = "Trigger evaluation exception"
		if emitErr := c.emitTriggerEvent(ctx, trigger, check, lastCheck, maintenance, now); emitErr != nil {
			return fmt.Errorf("checker: %s: %w (while emitting exception event: %v)", triggerID, err, emitErr)
		}
	}

	check.UpdateScore()
	if err := c.store.SetTriggerLastCheck(ctx, triggerID, check); err != nil {
		log.WithError(err).Error("Failed to persist last check")
		return err
	}
	return nil
}

// evaluateAndStep implements §4.F steps 6-9: evaluate every target, trim
// stale samples for every metric fetched, then either emit the no-metrics
// trigger-level event or step through each subject series.
func (c *Checker) evaluateAndStep(ctx context.Context, rc *eval.RequestContext, trigger *moira.Trigger, lastCheck, check *moira.LastCheck, now int64, cacheTTL time.Duration, maintenance int64) error {
	if len(trigger.Targets) == 0 {
		return fmt.Errorf("trigger has no targets")
	}

	var subjects []*moira.Series
	otherNames := map[int]string{}
	otherSeries := map[int]*moira.Series{}

	for i, target := range trigger.Targets {
		node, err := parser.Parse(target)
		if err != nil {
			return fmt.Errorf("parse target #%d: %w", i+1, err)
		}
		val, err := eval.Evaluate(rc, node)
		if err != nil {
			return fmt.Errorf("evaluate target #%d: %w", i+1, err)
		}
		series := val.AsSeries(rc.StartTime, rc.EndTime, 60)

		if i == 0 {
			subjects = series
			continue
		}
		if len(series) != 1 {
			return fmt.Errorf("target #%d must resolve to exactly one series, got %d", i+1, len(series))
		}
		otherNames[i+1] = series[0].Name
		otherSeries[i+1] = series[0]
	}

	if err := c.cleanupFetchedMetrics(ctx, rc, now, cacheTTL); err != nil {
		return err
	}

	stubOnly := true
	for _, s := range subjects {
		if !s.Stub {
			stubOnly = false
			break
		}
	}

	if stubOnly {
		if trigger.TTL != 0 {
			check.State = trigger.TTLState
			check.Message = "Trigger has no metrics"
			return c.emitTriggerEvent(ctx, trigger, check, lastCheck, maintenance, now)
		}
		return nil
	}

	for _, t1 := range subjects {
		if err := c.stepSubject(ctx, trigger, lastCheck, check, t1, otherNames, otherSeries, now, maintenance); err != nil {
			return err
		}
	}
	return nil
}

// stepSubject implements §4.F step 9 for one subject series: checkpoint
// resumption, per-timestamp expression evaluation and event emission, and
// the trailing stale-TTL handling.
func (c *Checker) stepSubject(ctx context.Context, trigger *moira.Trigger, lastCheck, check *moira.LastCheck, t1 *moira.Series, otherNames map[int]string, otherSeries map[int]*moira.Series, now, maintenance int64) error {
	name := t1.Name
	cur, ok := lastCheck.Metrics[name]
	if !ok {
		cur = moira.MetricState{State: moira.StateNoData, Timestamp: t1.Start - 3600}
	}
	checkpoint := cur.CheckPoint(CheckpointGap)

	if t1.Step <= 0 {
		return fmt.Errorf("subject series %s has non-positive step", name)
	}

	for ts := t1.Start; ts < now+t1.Step; ts += t1.Step {
		if ts <= checkpoint {
			continue
		}

		t1Val := t1.ValueAt(ts)
		if t1Val == nil {
			continue
		}
		values := map[string]float64{"t1": *t1Val}

		complete := true
		for idx, s := range otherSeries {
			v := s.ValueAt(ts)
			if v == nil {
				complete = false
				break
			}
			values[fmt.Sprintf("t%d", idx)] = *v
		}
		if !complete {
			continue
		}

		newState, err := c.evaluateExpression(trigger, values, cur.State)
		if err != nil {
			return fmt.Errorf("evaluate expression for %s at %d: %w", name, ts, err)
		}

		tr := transition{CurrentState: newState, PreviousState: cur.State, EventTimestamp: cur.EventTimestamp, Suppressed: cur.Suppressed}
		cur.State = newState
		cur.Timestamp = ts
		v := values["t1"]
		cur.Value = &v

		out := decideEmission(tr, ts, trigger.Schedule, maintenance, cur.Maintenance)
		cur.Suppressed = out.Suppressed
		cur.EventTimestamp = out.EventTimestamp
		if out.Push {
			if err := c.pushEvent(ctx, trigger.ID, name, tr.PreviousState, newState, ts, &v, out.Message); err != nil {
				return err
			}
		}

		for idx, oname := range otherNames {
			echo := check.Metrics[oname]
			echo.State = newState
			echo.Timestamp = ts
			if ov, ok := values[fmt.Sprintf("t%d", idx)]; ok {
				ovv := ov
				echo.Value = &ovv
			}
			check.Metrics[oname] = echo
		}
	}
	check.Metrics[name] = cur

	return c.handleStaleMetric(ctx, trigger, lastCheck, check, name, cur, otherNames, maintenance)
}

// handleStaleMetric implements §4.F step 9's trailing stale-TTL branch.
func (c *Checker) handleStaleMetric(ctx context.Context, trigger *moira.Trigger, lastCheck, check *moira.LastCheck, name string, cur moira.MetricState, otherNames map[int]string, maintenance int64) error {
	if trigger.TTL == 0 || cur.Timestamp+trigger.TTL >= lastCheck.Timestamp {
		return nil
	}

	if trigger.TTLState == moira.StateDel && cur.EventTimestamp != 0 {
		delete(check.Metrics, name)
		for _, oname := range otherNames {
			delete(check.Metrics, oname)
		}
		for _, p := range trigger.Patterns {
			if err := c.store.DelPatternMetrics(ctx, p); err != nil {
				return fmt.Errorf("delete pattern metrics %s: %w", p, err)
			}
		}
		return nil
	}

	syntheticState := trigger.TTLState
	if syntheticState == moira.StateDel {
		syntheticState = moira.StateNoData
	}

	ts := lastCheck.Timestamp - trigger.TTL
	tr := transition{CurrentState: syntheticState, PreviousState: cur.State, EventTimestamp: cur.EventTimestamp, Suppressed: cur.Suppressed}
	cur.State = syntheticState
	cur.Timestamp = ts
	cur.Value = nil

	out := decideEmission(tr, ts, trigger.Schedule, maintenance, cur.Maintenance)
	cur.Suppressed = out.Suppressed
	cur.EventTimestamp = out.EventTimestamp
	check.Metrics[name] = cur

	if out.Push {
		return c.pushEvent(ctx, trigger.ID, name, tr.PreviousState, syntheticState, ts, nil, out.Message)
	}
	return nil
}

// emitTriggerEvent implements §4.F.event for trigger-level states (steps 8
// and 10): the trigger-level LastCheck carries no "suppressed" field of its
// own, so it always starts unsuppressed, matching the original algorithm's
// trigger-level dict which never persists one either.
func (c *Checker) emitTriggerEvent(ctx context.Context, trigger *moira.Trigger, check, lastCheck *moira.LastCheck, maintenance, ts int64) error {
	tr := transition{CurrentState: check.State, PreviousState: lastCheck.State, EventTimestamp: lastCheck.EventTimestamp}
	out := decideEmission(tr, ts, trigger.Schedule, maintenance, 0)
	check.EventTimestamp = out.EventTimestamp
	if !out.Push {
		return nil
	}
	msg := check.Message
	if out.Message != "" {
		msg = out.Message
	}
	return c.pushEvent(ctx, trigger.ID, "", lastCheck.State, check.State, ts, nil, msg)
}

func (c *Checker) pushEvent(ctx context.Context, triggerID, metric string, oldState, newState moira.State, ts int64, value *float64, message string) error {
	common.NewContextLogger(common.Logger, map[string]interface{}{
		"trigger_id": triggerID,
		"metric":     metric,
		"old_state":  oldState,
		"new_state":  newState,
	}).Info("State transition")

	return c.store.PushEvent(ctx, &moira.Event{
		TriggerID: triggerID,
		Metric:    metric,
		OldState:  oldState,
		State:     newState,
		Timestamp: ts,
		Value:     value,
		Message:   message,
	}, true)
}

// evaluateExpression implements §4.E: a user expression under the restricted
// sandbox if the trigger has one, otherwise the default comparator (§4.C).
func (c *Checker) evaluateExpression(trigger *moira.Trigger, values map[string]float64, prevState moira.State) (moira.State, error) {
	if trigger.Expression != "" {
		compiled, err := expr.Compile(trigger.Expression)
		if err != nil {
			return "", fmt.Errorf("compile expression: %w", err)
		}
		env := expr.Env{Subjects: values, WarnValue: trigger.WarnValue, ErrorValue: trigger.ErrorValue, PrevState: prevState}
		val, err := compiled.Eval(env)
		if err != nil {
			return "", fmt.Errorf("evaluate expression: %w", err)
		}
		return val.AsState()
	}

	var warn, errv float64
	if trigger.WarnValue != nil {
		warn = *trigger.WarnValue
	}
	if trigger.ErrorValue != nil {
		errv = *trigger.ErrorValue
	}
	return expr.DefaultCompare(values["t1"], warn, errv), nil
}

// cleanupFetchedMetrics implements §4.F step 7: trim samples older than
// now-MetricsTTL for every metric this check's targets touched, deduplicated
// per metric name within cacheTTL the same way moira/cache.py's decorator
// gates repeated calls sharing a cache_key.
func (c *Checker) cleanupFetchedMetrics(ctx context.Context, rc *eval.RequestContext, now int64, cacheTTL time.Duration) error {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	ttlSeconds := int64(cacheTTL / time.Second)
	olderThan := now - MetricsTTL

	seen := map[string]struct{}{}
	for _, metrics := range rc.GraphitePatterns {
		for metric := range metrics {
			if _, ok := seen[metric]; ok {
				continue
			}
			seen[metric] = struct{}{}
			if !c.shouldCleanup(metric, now, ttlSeconds) {
				continue
			}
			if err := c.store.CleanupMetricValues(ctx, metric, olderThan); err != nil {
				return fmt.Errorf("cleanup metric %s: %w", metric, err)
			}
		}
	}
	return nil
}

func (c *Checker) shouldCleanup(metric string, now, ttlSeconds int64) bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if last, ok := c.cleanupSeen[metric]; ok && now-last < ttlSeconds {
		return false
	}
	c.cleanupSeen[metric] = now
	return true
}

func cloneMetrics(m map[string]moira.MetricState) map[string]moira.MetricState {
	out := make(map[string]moira.MetricState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
