// Package daemon runs the archive workflow on a timer and exposes a small
// HTTP status surface. A file lock enforces single-instance execution, and
// an in-flight cycle is never overlapped: ticks that arrive while a cycle is
// still running are skipped.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"belfry/internal/config"
	"belfry/internal/journal"
	"belfry/internal/ledger"
	"belfry/internal/logging"
	"belfry/internal/metrics"
	"belfry/internal/orchestrator"
)

// CycleStatus captures the outcome of the most recent archive cycle.
type CycleStatus struct {
	CycleID         string    `json:"cycle_id"`
	FinishedAt      time.Time `json:"finished_at"`
	EventsProcessed int       `json:"events_processed"`
	EventsFailed    int       `json:"events_failed"`
	MergeFailures   int       `json:"merge_failures"`
	Duration        string    `json:"duration"`
	Error           string    `json:"error,omitempty"`
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool          `json:"running"`
	CycleActive  bool          `json:"cycle_active"`
	StartedAt    time.Time     `json:"started_at"`
	PollInterval string        `json:"poll_interval"`
	Doorbells    []string      `json:"doorbells"`
	LedgerEvents int           `json:"ledger_events"`
	LastCycle    *CycleStatus  `json:"last_cycle,omitempty"`
	Totals       journal.Stats `json:"totals"`
}

// Daemon coordinates scheduled archive cycles and single-instance locking.
type Daemon struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	ledger  *ledger.Ledger
	journal *journal.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	busy    atomic.Bool

	mu        sync.Mutex
	startedAt time.Time
	lastCycle *CycleStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, led *ledger.Ledger, jrn *journal.Journal, met *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || orch == nil || led == nil {
		return nil, errors.New("daemon requires config, orchestrator, and ledger")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		orch:     orch,
		ledger:   led,
		journal:  jrn,
		metrics:  met,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the polling loop. The first
// cycle runs immediately.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another belfry daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)

	d.wg.Add(1)
	go d.loop()

	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("poll_interval", d.pollInterval()))
	return nil
}

// Stop halts the polling loop, waits for an in-flight cycle, and releases
// the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes its journal.
func (d *Daemon) Close() error {
	d.Stop()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

func (d *Daemon) pollInterval() time.Duration {
	interval := time.Duration(d.cfg.Workflow.PollInterval) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return interval
}

func (d *Daemon) loop() {
	defer d.wg.Done()

	d.runCycle()

	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runCycle()
		}
	}
}

// runCycle executes one archive cycle unless one is already in flight.
func (d *Daemon) runCycle() {
	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Warn("previous cycle still running, skipping tick")
		return
	}
	defer d.busy.Store(false)

	summary, err := d.orch.RunCycle(d.ctx)
	status := &CycleStatus{
		CycleID:         summary.CycleID,
		FinishedAt:      time.Now(),
		EventsProcessed: summary.EventsProcessed,
		EventsFailed:    summary.EventsFailed,
		MergeFailures:   summary.MergeFailures,
		Duration:        summary.Duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		status.Error = err.Error()
		d.logger.Error("cycle failed", logging.Error(err))
	}

	d.mu.Lock()
	d.lastCycle = status
	d.mu.Unlock()
}

// Status returns a snapshot of daemon state for the API and CLI.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	lastCycle := d.lastCycle
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		CycleActive:  d.busy.Load(),
		StartedAt:    startedAt,
		PollInterval: d.pollInterval().String(),
		Doorbells:    d.cfg.Doorbells.Names,
		LedgerEvents: d.ledger.TotalEvents(),
		LastCycle:    lastCycle,
	}
	if d.journal != nil {
		if stats, err := d.journal.Stats(ctx); err == nil {
			status.Totals = stats
		}
	}
	return status
}

// History returns the most recent journal entries.
func (d *Daemon) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if d.journal == nil {
		return nil, errors.New("journal unavailable")
	}
	return d.journal.Recent(ctx, limit)
}

// Metrics exposes the daemon's metrics registry for the API server.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}
