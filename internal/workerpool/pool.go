// Package workerpool runs the trigger-check loop: a configurable number of
// workers drain the Store's pending-check set, evaluate each trigger
// through a checker.Checker, and periodically flush their own timing/error
// counters to Graphite (worker.py's TriggersCheck + main()).
package workerpool

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/moira-alert/moira/common"
	"github.com/moira-alert/moira/internal/store"
)

const (
	// performInterval scales the empty-queue backoff range, which runs from
	// 10x to 20x this value (worker.py's PERFORM_INTERVAL).
	performInterval = 10 * time.Millisecond
	// errorTimeout is the backoff applied after an unexpected check error.
	errorTimeout = 10 * time.Second
)

// Checker is the subset of *checker.Checker the pool depends on, so tests
// can substitute a stub without standing up a Fetcher/Store.
type Checker interface {
	Check(ctx context.Context, triggerID string, fromTime *int64, now int64, cacheTTL time.Duration) error
}

// Config tunes the pool's size and the locking/self-metrics behavior around
// each check.
type Config struct {
	Workers          int // 0 => runtime.NumCPU()-1, floored at 1
	CheckCacheTTL    time.Duration
	CheckLockTTL     time.Duration
	GraphiteAddrs    []string
	GraphitePrefix   string
	GraphiteInterval time.Duration
	HostLabel        string
}

// DefaultConfig mirrors §6's defaults.
func DefaultConfig() Config {
	return Config{
		CheckCacheTTL:    60 * time.Second,
		CheckLockTTL:     30 * time.Second,
		GraphitePrefix:   "moira-checker",
		GraphiteInterval: 60 * time.Second,
		HostLabel:        "host",
	}
}

// Pool runs Config.Workers workers pulling trigger checks off the Store's
// pending-check set.
type Pool struct {
	store   *store.Store
	checker Checker
	cfg     Config
	log     *common.ContextLogger

	checkSpy  *spy
	errorSpy  *spy
	exporters *graphiteCluster
}

// New builds a Pool over s and c using cfg, filling in Workers with
// runtime.NumCPU()-1 (floored at 1) when unset.
func New(s *store.Store, c Checker, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() - 1
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}

	var cluster *graphiteCluster
	if len(cfg.GraphiteAddrs) > 0 {
		cluster = newGraphiteCluster(cfg.GraphiteAddrs, cfg.GraphitePrefix)
	}

	return &Pool{
		store:     s,
		checker:   c,
		cfg:       cfg,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "workerpool"}),
		checkSpy:  newSpy(),
		errorSpy:  newSpy(),
		exporters: cluster,
	}
}

// Run starts every worker plus the self-metrics exporter and blocks until
// ctx is cancelled, then waits for all workers to return.
func (p *Pool) Run(ctx context.Context) {
	p.log.WithField("workers", p.cfg.Workers).Info("Starting worker pool")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	if p.exporters != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSelfMetricsExport(ctx, p.exporters, p.cfg.GraphiteInterval, p.selfMetrics)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	p.log.Info("Worker pool stopped")
}

// runWorker implements TriggersCheck.perform: drain the pending set
// completely, then back off a random interval; any error backs off the
// fixed errorTimeout instead.
func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, ok, err := p.store.GetTriggerToCheck(ctx)
		if err != nil {
			p.log.WithError(err).Error("Failed to pop pending check")
			p.errorSpy.Report(0)
			if !sleepCtx(ctx, errorTimeout) {
				return
			}
			continue
		}
		if !ok {
			if !sleepCtx(ctx, randomBackoff()) {
				return
			}
			continue
		}

		p.runOne(ctx, id)
	}
}

func (p *Pool) runOne(ctx context.Context, triggerID string) {
	acquired, err := p.store.SetTriggerCheckLock(ctx, triggerID, p.cfg.CheckLockTTL)
	if err != nil {
		p.log.WithError(err).WithField("trigger_id", triggerID).Error("Failed to acquire check lock")
		p.errorSpy.Report(0)
		return
	}
	if !acquired {
		// Another worker is already checking this trigger; it will pick up
		// again on its own next pending-check cycle.
		return
	}
	defer func() {
		if err := p.store.ReleaseTriggerCheckLock(ctx, triggerID); err != nil {
			p.log.WithError(err).WithField("trigger_id", triggerID).Warn("Failed to release check lock")
		}
	}()

	start := time.Now()
	err = p.checker.Check(ctx, triggerID, nil, start.Unix(), p.cfg.CheckCacheTTL)
	p.checkSpy.Report(time.Since(start).Seconds())
	if err != nil {
		p.log.WithError(err).WithField("trigger_id", triggerID).Error("Trigger check failed")
		p.errorSpy.Report(0)
	}
}

// selfMetrics builds the same three per-worker-pool counters worker.py's
// main() reports: total check time, check count, and error count.
func (p *Pool) selfMetrics() map[string]float64 {
	sum, count := p.checkSpy.Snapshot()
	_, errCount := p.errorSpy.Snapshot()

	return map[string]float64{
		fmt.Sprintf("checker.time.%s", p.cfg.HostLabel):    sum,
		fmt.Sprintf("checker.triggers.%s", p.cfg.HostLabel): float64(count),
		fmt.Sprintf("checker.errors.%s", p.cfg.HostLabel):   float64(errCount),
	}
}

func randomBackoff() time.Duration {
	lo, hi := performInterval*10, performInterval*20
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}

// sleepCtx sleeps for d, returning false early (without sleeping the full
// duration) if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
