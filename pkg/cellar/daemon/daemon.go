// Package daemon runs the background enrichment loop.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// Config holds the loop cadence and recovery thresholds.
type Config struct {
	Interval         time.Duration
	StaleAfter       time.Duration
	RetryFailedAfter time.Duration
	MaxAttempts      int
	PageSize         int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		StaleAfter:       10 * time.Minute,
		RetryFailedAfter: 30 * time.Minute,
		MaxAttempts:      3,
		PageSize:         10,
	}
}

// Status is the daemon's visible state.
type Status struct {
	Running      bool      `json:"running"`
	LastPollAt   time.Time `json:"last_poll_at,omitempty"`
	PendingCount int64     `json:"pending_count"`
	Processed    int       `json:"processed"`
	Failed       int       `json:"failed"`
	Cycles       int       `json:"cycles"`
	Recovered    int       `json:"recovered"`
	LastError    string    `json:"last_error,omitempty"`
}

// Daemon polls the catalog for pending wines and enriches them one at a
// time.
type Daemon struct {
	store  store.Store
	engine *enrich.Engine
	cfg    Config
	log    *logger.Logger

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	status Status
}

// New creates a stopped daemon.
func New(st store.Store, engine *enrich.Engine, cfg Config, log *logger.Logger) *Daemon {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Daemon{
		store:  st,
		engine: engine,
		cfg:    cfg,
		log:    log.With("component", "enrichment_daemon"),
	}
}

// Start launches the loop. It reports false when the daemon is running or
// an earlier loop has not exited yet. The loop outlives ctx; only Stop
// ends it.
func (d *Daemon) Start(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status.Running {
		return false
	}
	if d.done != nil {
		select {
		case <-d.done:
		default:
			// a stopped loop is still finishing its wine
			return false
		}
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.status.Running = true

	go d.runLoop(context.WithoutCancel(ctx), d.stop, d.done)
	d.log.Info("enrichment daemon started",
		"interval", d.cfg.Interval,
		"page_size", d.cfg.PageSize)
	return true
}

// Stop prevents new work and waits for the wine in progress to finish, or
// for ctx to expire.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.status.Running {
		d.mu.Unlock()
		return nil
	}
	d.status.Running = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()

	select {
	case <-done:
		d.log.Info("enrichment daemon stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop daemon: %w", ctx.Err())
	}
}

// Status returns the daemon state with a fresh pending count.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	pending, err := d.store.CountByStatus(ctx, store.StatusPending)
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	if err != nil {
		return st, fmt.Errorf("count pending: %w", err)
	}
	st.PendingCount = pending
	return st, nil
}

func (d *Daemon) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		found := d.safeCycle(ctx, stop)

		// drain quickly while there is work, otherwise wait a full interval
		next := d.cfg.Interval
		if found {
			next = 0
		}
		timer.Reset(next)
	}
}

// safeCycle runs one cycle and keeps the loop alive on panic.
func (d *Daemon) safeCycle(ctx context.Context, stop <-chan struct{}) (found bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("enrichment cycle panic", "panic", r)
			d.recordError(fmt.Errorf("panic: %v", r))
			found = false
		}
	}()
	return d.cycle(ctx, stop)
}

// cycle recovers stuck and failed wines, then enriches one page of pending
// wines. It reports whether any pending wine was found.
func (d *Daemon) cycle(ctx context.Context, stop <-chan struct{}) bool {
	d.mu.Lock()
	d.status.LastPollAt = time.Now()
	d.status.Cycles++
	d.mu.Unlock()

	reset, err := d.store.ResetStuck(ctx, store.AllRestaurants, d.cfg.StaleAfter)
	if err != nil {
		d.log.Warn("reset stuck failed", "error", err)
		d.recordError(err)
	}
	requeued := 0
	if d.cfg.RetryFailedAfter > 0 {
		requeued, err = d.store.RequeueFailed(ctx, d.cfg.RetryFailedAfter, d.cfg.MaxAttempts)
		if err != nil {
			d.log.Warn("requeue failed wines failed", "error", err)
			d.recordError(err)
		}
	}
	if reset+requeued > 0 {
		d.log.Info("recovered wines", "stuck", reset, "failed", requeued)
		d.mu.Lock()
		d.status.Recovered += reset + requeued
		d.mu.Unlock()
	}

	pending, err := d.store.ListPending(ctx, d.cfg.PageSize)
	if err != nil {
		d.log.Warn("list pending failed", "error", err)
		d.recordError(err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	ids := make([]string, len(pending))
	for i, w := range pending {
		ids[i] = w.ID
	}
	res := d.engine.RunBatch(ctx, ids, stop)

	d.mu.Lock()
	d.status.Processed += res.Completed
	d.status.Failed += res.Failed
	if res.LastError != "" {
		d.status.LastError = res.LastError
	}
	d.mu.Unlock()

	d.log.Debug("enrichment cycle finished",
		"completed", res.Completed,
		"failed", res.Failed,
		"skipped", res.Skipped)

	// a page of only skipped wines means another worker holds them
	return res.Attempted > 0
}

func (d *Daemon) recordError(err error) {
	d.mu.Lock()
	d.status.LastError = err.Error()
	d.mu.Unlock()
}
