// Package dispatcher watches the metric ingest stream and turns each
// incoming (pattern, metric) pair into pending trigger checks (§4.A), and
// periodically re-enqueues every trigger as a no-data safety net (master.py's
// MasterService).
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moira-alert/moira/common"
	"github.com/moira-alert/moira/internal/store"
)

// Config tunes the dispatcher's enqueue cadence and no-data sweep.
type Config struct {
	// Channel is the pub/sub channel metric-event envelopes arrive on.
	Channel string
	// CheckInterval dedupes repeated AddTriggerCheck calls for the same
	// trigger id within this window (mirrors CHECK_INTERVAL in master.py).
	CheckInterval time.Duration
	// NoDataCheckInterval is how often the sweep walks every trigger.
	NoDataCheckInterval time.Duration
	// NoDataCacheTTL dedupes the sweep's own AddTriggerCheck calls.
	NoDataCacheTTL time.Duration
	// StopCheckingInterval disables the sweep when no ingest traffic has
	// been seen for this long, so an upstream metrics-pipeline outage
	// doesn't cause every trigger to flap into NODATA at once.
	StopCheckingInterval time.Duration
}

// DefaultConfig mirrors the original's defaults (§6).
func DefaultConfig() Config {
	return Config{
		Channel:              "metric-event",
		CheckInterval:        5 * time.Second,
		NoDataCheckInterval:  60 * time.Second,
		NoDataCacheTTL:       60 * time.Second,
		StopCheckingInterval: 30 * time.Second,
	}
}

// Dispatcher is the long-running service that bridges ingest events to the
// pending-check queue the worker pool drains.
type Dispatcher struct {
	store *store.Store
	cfg   Config
	log   *common.ContextLogger

	lastData atomic.Int64 // unix seconds of the last processed ingest event
}

// New builds a Dispatcher over s using cfg.
func New(s *store.Store, cfg Config) *Dispatcher {
	d := &Dispatcher{
		store: s,
		cfg:   cfg,
		log:   common.NewContextLogger(common.Logger, map[string]interface{}{"component": "dispatcher"}),
	}
	d.lastData.Store(time.Now().Unix())
	return d
}

// Run subscribes to the ingest channel and runs the no-data sweep
// concurrently, blocking until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.store.SubscribeMetricEvents(ctx, d.cfg.Channel)
	if err != nil {
		return err
	}
	d.log.WithField("channel", d.cfg.Channel).Info("Subscribed to metric ingest channel")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runNoDataSweep(ctx)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				wg.Wait()
				return nil
			}
			d.handleEvent(ctx, ev.Pattern, ev.Metric)
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
	}
}

// handleEvent implements master.py's MasterProtocol.messageReceived: record
// the pattern->metric membership, fan out to every trigger that target
// pattern, and garbage-collect the pattern if nothing references it anymore.
func (d *Dispatcher) handleEvent(ctx context.Context, pattern, metric string) {
	d.lastData.Store(time.Now().Unix())

	if err := d.store.AddPatternMetric(ctx, pattern, metric); err != nil {
		d.log.WithError(err).WithField("pattern", pattern).Error("Failed to record pattern metric")
		return
	}

	triggers, err := d.store.GetPatternTriggers(ctx, pattern)
	if err != nil {
		d.log.WithError(err).WithField("pattern", pattern).Error("Failed to resolve pattern triggers")
		return
	}

	if len(triggers) == 0 {
		if err := d.store.RemoveOrphanPattern(ctx, pattern); err != nil {
			d.log.WithError(err).WithField("pattern", pattern).Error("Failed to garbage-collect orphan pattern")
		}
		return
	}

	for _, id := range triggers {
		if err := d.store.AddTriggerCheck(ctx, id, id, d.cfg.CheckInterval); err != nil {
			d.log.WithError(err).WithField("trigger_id", id).Error("Failed to enqueue trigger check")
		}
	}
}

// runNoDataSweep periodically re-enqueues every trigger so one that stopped
// receiving metrics entirely (no ingest event ever arrives to trigger it)
// still gets checked and can transition to NODATA. Suspended while ingest
// traffic itself has gone silent, since that usually means the metrics
// pipeline is down rather than every individual trigger's data source.
func (d *Dispatcher) runNoDataSweep(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.NoDataCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

func (d *Dispatcher) sweepOnce(ctx context.Context) {
	now := time.Now().Unix()
	last := d.lastData.Load()
	if now-last > int64(d.cfg.StopCheckingInterval/time.Second) {
		d.log.WithField("silent_for_s", now-last).Info("No-data sweep disabled, no ingest traffic")
		return
	}

	triggers, err := d.store.GetTriggers(ctx)
	if err != nil {
		d.log.WithError(err).Error("Failed to list triggers for no-data sweep")
		return
	}
	for _, id := range triggers {
		if err := d.store.AddTriggerCheck(ctx, id, id, d.cfg.NoDataCacheTTL); err != nil {
			d.log.WithError(err).WithField("trigger_id", id).Error("Failed to enqueue no-data sweep check")
		}
	}
}
