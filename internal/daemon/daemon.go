package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"reelforge/internal/api"
	"reelforge/internal/config"
	"reelforge/internal/logging"
	"reelforge/internal/metrics"
	"reelforge/internal/reanalysis"
	"reelforge/internal/reconcile"
	"reelforge/internal/scoring"
	"reelforge/internal/store"
)

// Daemon owns the store, job manager, and API server, and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	jobs    *reanalysis.Manager
	service *api.ScriptService
	metrics *metrics.Metrics
	server  *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Address      string
	DatabasePath string
	LockFilePath string
	InFlightJobs int
}

// Dependencies are the components a daemon serves.
type Dependencies struct {
	Store   *store.Store
	Jobs    *reanalysis.Manager
	Service *api.ScriptService
	Metrics *metrics.Metrics
}

// New constructs a daemon around already-built components.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Jobs == nil || deps.Service == nil {
		return nil, errors.New("daemon requires config, store, job manager, and script service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    deps.Store,
		jobs:     deps.Jobs,
		service:  deps.Service,
		metrics:  deps.Metrics,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// NewFromConfig opens the store and builds every component described by cfg.
// registry may be nil.
func NewFromConfig(cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	pipeline, err := scoring.New(cfg, nil, m, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	jobs := reanalysis.NewManagerFromConfig(cfg, st, pipeline,
		reanalysis.WithLogger(logger),
		reanalysis.WithMetrics(m),
	)
	reconciler := reconcile.New(st,
		reconcile.WithThreshold(cfg.Recommendations.ApplyThreshold),
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(m),
	)
	svc := api.NewScriptService(st, jobs, reconciler,
		api.WithServiceLogger(logger),
		api.WithServiceMetrics(m),
	)
	return New(cfg, Dependencies{Store: st, Jobs: jobs, Service: svc, Metrics: m}, logger)
}

// Start acquires the daemon lock, resumes stale jobs, and starts the API
// server and the stale-job reclaimer.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reelforged instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	resumed, err := d.jobs.ResumeStale(runCtx)
	if err != nil {
		logging.WarnWithContext(d.logger, "resume stale jobs failed", "job_resume_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "interrupted reanalysis jobs stay queued until the next reclaim pass"),
		)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.jobs.RunReclaimer(runCtx)
	}()

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("reelforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.address()),
		logging.Int("resumed_jobs", resumed),
	)
	return nil
}

// Stop stops the API server and job goroutines and releases the lock. Jobs
// that were running stay running in the store and are resumed by the next
// daemon once their heartbeat goes stale.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.jobs.Close()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start fails"),
		)
	}
	d.running.Store(false)
	d.logger.Info("reelforge daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	d.jobs.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Handler exposes the API routes without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.server.handler
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Address:      d.server.address(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		InFlightJobs: d.jobs.InFlight(),
	}
}
