package reanalysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/config"
	"reelforge/internal/logging"
	"reelforge/internal/metrics"
	"reelforge/internal/scoring"
	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
)

const (
	defaultJobTimeout        = 120 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 30 * time.Second
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("reanalysis manager closed")

// Scorer runs the scoring pipeline.
type Scorer interface {
	Run(ctx context.Context, in scoring.Input, progress scoring.ProgressFunc) (*script.Analysis, error)
}

// Recorder receives job instrumentation. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordJob(outcome string)
	ObserveJobDuration(outcome string, d time.Duration)
	JobStarted()
	JobFinished()
}

// StartRequest is the payload submitted for reanalysis.
type StartRequest struct {
	ProjectID      string
	Scenes         script.Scenes
	FullScript     string
	IdempotencyKey string
	ContentType    script.ContentType
	Actor          string
	ChangeSummary  string
}

// Manager owns reanalysis job goroutines.
type Manager struct {
	store   *store.Store
	scorer  Scorer
	logger  *slog.Logger
	metrics Recorder
	newID   func() string

	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics attaches job instrumentation.
func WithMetrics(recorder Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

// WithJobTimeout overrides the wall-clock budget of a single job.
func WithJobTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.jobTimeout = d
		}
	}
}

// WithHeartbeat overrides the heartbeat cadence and the age at which a
// running job is considered orphaned.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.heartbeatInterval = interval
		}
		if timeout > 0 {
			m.heartbeatTimeout = timeout
		}
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager constructs a manager. Call Close to stop running jobs.
func NewManager(st *store.Store, scorer Scorer, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:             st,
		scorer:            scorer,
		logger:            logging.NewNop(),
		metrics:           (*metrics.Metrics)(nil),
		newID:             uuid.NewString,
		jobTimeout:        defaultJobTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
		baseCtx:           ctx,
		cancel:            cancel,
		inflight:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "reanalysis")
	return m
}

// NewManagerFromConfig applies the [reanalysis] section of cfg.
func NewManagerFromConfig(cfg *config.Config, st *store.Store, scorer Scorer, opts ...Option) *Manager {
	base := []Option{
		WithJobTimeout(cfg.JobTimeout()),
		WithHeartbeat(
			time.Duration(cfg.Reanalysis.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Reanalysis.HeartbeatTimeout)*time.Second,
		),
	}
	return NewManager(st, scorer, append(base, opts...)...)
}

// Start submits scenes for reanalysis.
//
// A job submitted with the same idempotency key is returned as is while it
// is active or its candidate is still pending.
// When another job for the project is queued or running, the returned error
// is a *script.ConflictError carrying that job. Otherwise the candidate
// version and job are created and scoring starts in the background.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*script.Job, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return nil, services.Wrap(services.ErrValidation, "", "start reanalysis", "project id required", nil)
	}
	if err := req.Scenes.Validate(); err != nil {
		return nil, err
	}
	if m.isClosed() {
		return nil, ErrClosed
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = "auto:" + uuid.NewString()
	}
	summary := strings.TrimSpace(req.ChangeSummary)
	if summary == "" {
		summary = "Edited scenes submitted for reanalysis"
	}

	jobID := m.newID()
	result, err := m.store.StartJob(ctx, script.NewJob{
		JobID:          jobID,
		ProjectID:      req.ProjectID,
		IdempotencyKey: key,
		Scenes:         req.Scenes,
		FullScript:     req.FullScript,
		Attempt:        1,
	}, script.NewVersion{
		Scenes:        req.Scenes,
		CreatedBy:     script.CreatedByAI,
		ChangeSummary: summary,
		Provenance:    script.Provenance{Source: script.SourceReanalysis, Actor: req.Actor},
	})
	if err != nil {
		if conflict, ok := script.AsConflict(err); ok {
			m.logger.Info("reanalysis already in flight",
				logging.String(logging.FieldProjectID, req.ProjectID),
				logging.String(logging.FieldJobID, conflict.Job.JobID),
				logging.String("status", string(conflict.Job.Status)),
			)
		}
		return nil, err
	}
	if !result.Created {
		return result.Job, nil
	}

	m.metrics.RecordJob(metrics.OutcomeStarted)
	m.logger.Info("reanalysis job queued",
		logging.String(logging.FieldProjectID, req.ProjectID),
		logging.String(logging.FieldJobID, result.Job.JobID),
		logging.Int64(logging.FieldVersionID, result.Candidate.ID),
		logging.Int("version_number", result.Candidate.VersionNumber),
	)
	m.launch(result.Job, req.ContentType)
	return result.Job, nil
}

// Status returns a snapshot of the job.
func (m *Manager) Status(ctx context.Context, projectID, jobID string) (*script.Job, error) {
	return m.store.GetJob(ctx, projectID, jobID)
}

// Retry reruns a failed, retryable job with its stored payload. Retrying the
// same job again returns the first retry.
func (m *Manager) Retry(ctx context.Context, projectID, jobID string) (*script.Job, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	result, err := m.store.RetryJob(ctx, projectID, jobID, m.newID())
	if err != nil {
		return nil, err
	}
	if !result.Created {
		return result.Job, nil
	}
	m.metrics.RecordJob(metrics.OutcomeRetried)
	m.logger.Info("reanalysis job retried",
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldJobID, result.Job.JobID),
		logging.String("retry_of", jobID),
		logging.Int("attempt", result.Job.Attempt),
	)
	m.launch(result.Job, "")
	return result.Job, nil
}

// ResumeStale requeues jobs whose heartbeat went stale, typically because the
// process that ran them exited, and runs them again. It returns how many
// jobs were resumed.
func (m *Manager) ResumeStale(ctx context.Context) (int, error) {
	if m.isClosed() {
		return 0, ErrClosed
	}
	cutoff := time.Now().Add(-m.heartbeatTimeout)
	reclaimed, err := m.store.ReclaimStaleJobs(ctx, cutoff, m.inflightIDs()...)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, job := range reclaimed {
		if m.launch(job, "") {
			resumed++
			m.metrics.RecordJob(metrics.OutcomeResumed)
		}
	}
	if resumed > 0 {
		m.logger.Info("resumed stale reanalysis jobs", logging.Int("count", resumed))
	}
	return resumed, nil
}

// RunReclaimer calls ResumeStale every heartbeat timeout until ctx ends or
// the manager closes.
func (m *Manager) RunReclaimer(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			if _, err := m.ResumeStale(ctx); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(m.logger, "reclaim stale jobs failed; orphaned jobs may stay queued", "job_reclaim_failed",
					logging.String(logging.FieldErrorHint, "check database access"),
					logging.Error(err),
				)
			}
		}
	}
}

// InFlight reports how many jobs this process is running.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Close cancels running jobs and waits for their goroutines. Jobs
// interrupted this way stay running in the store and are resumed by the
// next ResumeStale after their heartbeat goes stale.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// launch starts the job goroutine unless the job is already running here.
func (m *Manager) launch(job *script.Job, contentType script.ContentType) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.inflight[job.JobID]; ok {
		m.mu.Unlock()
		return false
	}
	m.inflight[job.JobID] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(job, contentType)
	return true
}

func (m *Manager) inflightIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.inflight))
	for id := range m.inflight {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) untrack(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, jobID)
}

// contentTypeFor falls back to the content type of the project's last
// scored current version.
func (m *Manager) contentTypeFor(ctx context.Context, projectID string, requested script.ContentType) script.ContentType {
	if requested != "" {
		return requested
	}
	current, err := m.store.CurrentVersion(ctx, projectID)
	if err == nil && current.Analysis != nil && current.Analysis.ContentType != "" {
		return current.Analysis.ContentType
	}
	return script.ContentReel
}

func failureMessage(err error) string {
	if err == nil {
		return "reanalysis failed"
	}
	return fmt.Sprintf("reanalysis failed: %v", err)
}
