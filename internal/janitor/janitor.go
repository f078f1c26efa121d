// Package janitor implements background cleanup of expired channels, expired
// files and orphan blobs. Reads still expire content lazily on their own.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/metrics"
)

// Store is the slice of the application service the Janitor drives. Sweep
// handles expired files and cascading channel deletion; Reconcile removes
// blobs no file record references.
type Store interface {
	Sweep(ctx context.Context) (app.SweepResult, error)
	Reconcile(ctx context.Context) (int, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	FilesDeleted        uint64
	ChannelsDeleted     uint64
	OrphansDeleted      uint64
	Errors              uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	FilesDeleted        uint64
	ChannelsDeleted     uint64
	OrphansDeleted      uint64
	Errors              uint64
	CycleLastDurationMS int64
}

func (m *Metrics) addSweep(r app.SweepResult) {
	m.mu.Lock()
	m.FilesDeleted += uint64(max(r.Files, 0))
	m.ChannelsDeleted += uint64(max(r.Channels, 0))
	m.mu.Unlock()
}

func (m *Metrics) addOrphans(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.OrphansDeleted += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) addError() {
	m.mu.Lock()
	m.Errors++
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background cleanup loop.
type Janitor struct {
	store    Store
	recorder app.Recorder
	cfg      Config
	metrics  *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. recorder may be nil.
func New(store Store, recorder app.Recorder, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		metrics:  &Metrics{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stopping a
// janitor that was never started returns immediately.
func (j *Janitor) Stop() {
	if j.ticker == nil {
		return
	}
	j.once.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		FilesDeleted:        j.metrics.FilesDeleted,
		ChannelsDeleted:     j.metrics.ChannelsDeleted,
		OrphansDeleted:      j.metrics.OrphansDeleted,
		Errors:              j.metrics.Errors,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one full expiry + orphan cleanup cycle. A failing sweep
// does not prevent reconciliation.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	res, err := j.store.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		j.metrics.addError()
		log.Error("sweep", "error", err)
	}
	orphans, rerr := j.store.Reconcile(ctx)
	if rerr != nil && !errors.Is(rerr, context.Canceled) {
		j.metrics.addError()
		log.Error("reconcile", "error", rerr)
	}
	j.metrics.addSweep(res)
	j.metrics.addOrphans(orphans)
	if j.recorder != nil {
		j.recorder.Observe(metrics.SummaryJanitorDeletedPerCycle, int64(res.Files+res.Channels))
	}
	j.metrics.recordCycle(time.Since(start))
	log.Debug("cycle complete", "files", res.Files, "channels", res.Channels, "orphans", orphans, "ms", time.Since(start).Milliseconds())
}
