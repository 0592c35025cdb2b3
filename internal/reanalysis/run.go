package reanalysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reelforge/internal/logging"
	"reelforge/internal/metrics"
	"reelforge/internal/scoring"
	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
)

const progressSaving = 95

type scoreResult struct {
	analysis *script.Analysis
	err      error
}

func (m *Manager) run(job *script.Job, contentType script.ContentType) {
	defer m.wg.Done()
	defer m.untrack(job.JobID)

	ctx := services.WithProjectID(m.baseCtx, job.ProjectID)
	ctx = services.WithJobID(ctx, job.JobID)
	logger := logging.WithContext(ctx, m.logger)

	started, err := m.store.MarkJobRunning(ctx, job.JobID, script.AnalyzerSteps[0])
	if err != nil {
		logger.Error("failed to mark job running",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_start_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
		return
	}
	if !started {
		logger.Debug("job no longer queued; skipping")
		return
	}

	m.metrics.JobStarted()
	defer m.metrics.JobFinished()
	begin := time.Now()
	logger.Info("reanalysis started", logging.Int("attempt", job.Attempt))

	jobCtx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	var hb sync.WaitGroup
	hb.Add(1)
	go m.heartbeatLoop(jobCtx, &hb, logger, job.JobID)
	defer hb.Wait()
	defer cancel()

	in := scoring.Input{
		ProjectID:   job.ProjectID,
		Scenes:      job.Scenes,
		FullScript:  job.FullScript,
		ContentType: m.contentTypeFor(ctx, job.ProjectID, contentType),
	}
	sampler := logging.NewProgressSampler(25)
	progress := func(p script.JobProgress) {
		if sampler.ShouldLog(string(p.Step), p.Progress) {
			logger.Debug("reanalysis progress", logging.String(logging.FieldStep, string(p.Step)), logging.Int("progress", p.Progress))
		}
		if _, err := m.store.UpdateJobProgress(ctx, job.JobID, p); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("progress update failed", logging.Error(err), logging.String(logging.FieldStep, string(p.Step)))
		}
	}

	// The scorer runs on its own goroutine so the budget holds even when it
	// ignores cancellation. A late result lands in the buffered channel and
	// is dropped; Close still waits for the goroutine.
	done := make(chan scoreResult, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		analysis, err := m.scorer.Run(jobCtx, in, progress)
		done <- scoreResult{analysis: analysis, err: err}
	}()

	var result scoreResult
	timedOut := false
	select {
	case result = <-done:
	case <-jobCtx.Done():
		// A result that is already waiting is judged on its own error.
		select {
		case result = <-done:
		default:
			result.err = jobCtx.Err()
			timedOut = true
		}
	}
	if errors.Is(result.err, context.DeadlineExceeded) {
		timedOut = true
	}

	switch {
	case m.baseCtx.Err() != nil:
		logger.Info("reanalysis interrupted by shutdown; job will resume after its heartbeat goes stale")
		m.metrics.RecordJob(metrics.OutcomeDropped)
	case timedOut && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		err := services.Wrap(services.ErrTimeout, "reanalysis", "run", fmt.Sprintf("exceeded %s budget", m.jobTimeout), context.DeadlineExceeded)
		m.fail(ctx, logger, job, err, metrics.OutcomeTimeout, begin)
	case result.err != nil:
		m.fail(ctx, logger, job, result.err, metrics.OutcomeError, begin)
	case result.analysis == nil:
		m.fail(ctx, logger, job, services.Wrap(services.ErrUpstream, "reanalysis", "run", "scorer returned no analysis", nil), metrics.OutcomeError, begin)
	default:
		m.complete(ctx, logger, job, result.analysis, begin)
	}
}

func (m *Manager) complete(ctx context.Context, logger *slog.Logger, job *script.Job, analysis *script.Analysis, begin time.Time) {
	if _, err := m.store.UpdateJobProgress(ctx, job.JobID, script.JobProgress{Step: script.StepSaving, Progress: progressSaving}); err != nil {
		logger.Warn("progress update failed", logging.Error(err), logging.String(logging.FieldStep, string(script.StepSaving)))
	}
	finished, err := m.store.CompleteJob(ctx, job.JobID, analysis, analysis.Recommendations)
	if err != nil {
		if errors.Is(err, store.ErrJobNotRunning) {
			logger.Info("discarding late reanalysis result; job already finished")
			m.metrics.RecordJob(metrics.OutcomeDropped)
			return
		}
		m.fail(ctx, logger, job, err, metrics.OutcomeError, begin)
		return
	}
	elapsed := time.Since(begin)
	m.metrics.RecordJob(metrics.OutcomeDone)
	m.metrics.ObserveJobDuration(metrics.OutcomeDone, elapsed)
	attrs := []logging.Attr{
		logging.Int("overall_score", analysis.OverallScore),
		logging.String("verdict", string(analysis.Verdict)),
		logging.Int("recommendations", len(analysis.Recommendations)),
		logging.Duration("elapsed", elapsed),
	}
	if finished.CandidateVersionID != nil {
		attrs = append(attrs, logging.Int64(logging.FieldVersionID, *finished.CandidateVersionID))
	}
	logger.Info("reanalysis complete", logging.Args(attrs...)...)
}

func (m *Manager) fail(ctx context.Context, logger *slog.Logger, job *script.Job, cause error, outcome string, begin time.Time) {
	canRetry := services.Retryable(cause)
	kind := services.Kind(cause)
	changed, err := m.store.FailJob(ctx, job.JobID, failureMessage(cause), kind, canRetry)
	if err != nil {
		logger.Error("failed to persist job failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_fail_persist_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
		return
	}
	if !changed {
		logger.Debug("job already finished; failure not recorded")
		return
	}
	m.metrics.RecordJob(outcome)
	m.metrics.ObserveJobDuration(outcome, time.Since(begin))
	logging.ErrorWithContext(logger, "reanalysis failed", "job_"+outcome,
		logging.String("error_kind", kind),
		logging.Bool("can_retry", canRetry),
		logging.String(logging.FieldErrorHint, retryHint(canRetry)),
		logging.Error(cause),
	)
}

func retryHint(canRetry bool) string {
	if canRetry {
		return "retry the job; the submitted scenes are kept"
	}
	return "fix the submitted script and start a new reanalysis"
}
