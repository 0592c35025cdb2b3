package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"reelforge/internal/script"
	"reelforge/internal/services"
)

// ErrJobNotRunning is returned when a completion or progress write targets a
// job that already reached a terminal state, for example after a timeout.
var ErrJobNotRunning = fmt.Errorf("job is not running: %w", services.ErrInvalidState)

// StartResult is the outcome of StartJob and RetryJob.
type StartResult struct {
	Job       *script.Job
	Candidate *script.Version
	// Created is false when an earlier job with the same idempotency key was
	// returned instead of creating a new one.
	Created bool
}

// StartJob atomically creates a candidate version and the queued job bound
// to it.
//
// A job that used the same idempotency key is returned unchanged with
// Created=false while it is queued or running, or while its candidate is
// still the project's pending candidate. Once that candidate was accepted,
// rejected, or superseded the key starts a new job. Otherwise an active job
// for the project yields a *script.ConflictError carrying that job. Any
// previous idle candidate is superseded.
func (s *Store) StartJob(ctx context.Context, job script.NewJob, candidate script.NewVersion) (StartResult, error) {
	job.ProjectID = strings.TrimSpace(job.ProjectID)
	job.IdempotencyKey = strings.TrimSpace(job.IdempotencyKey)
	if job.ProjectID == "" || job.JobID == "" || job.IdempotencyKey == "" {
		return StartResult{}, services.Wrap(services.ErrValidation, "", "start job", "project id, job id, and idempotency key required", nil)
	}
	if err := job.Scenes.Validate(); err != nil {
		return StartResult{}, err
	}

	var result StartResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = StartResult{}
		existing, err := jobByKeyTx(ctx, tx, job.ProjectID, job.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			live, err := keyStillBoundTx(ctx, tx, existing)
			if err != nil {
				return err
			}
			if live {
				result.Job = existing
				return nil
			}
		}
		if err := ensureNoActiveJobTx(ctx, tx, job.ProjectID); err != nil {
			return err
		}

		candidate.ProjectID = job.ProjectID
		candidate.Slot = script.SlotCandidate
		candidate.SupersedeCandidate = true
		if candidate.Scenes == nil {
			candidate.Scenes = job.Scenes
		}
		if candidate.CreatedBy == "" {
			candidate.CreatedBy = script.CreatedByAI
		}
		candidate.Provenance.JobID = job.JobID
		if candidate.Provenance.Source == "" {
			candidate.Provenance.Source = script.SourceReanalysis
		}
		v, err := s.createVersionTx(ctx, tx, candidate)
		if err != nil {
			return err
		}
		created, err := s.insertJobTx(ctx, tx, job, v.ID)
		if err != nil {
			return err
		}
		result = StartResult{Job: created, Candidate: v, Created: true}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// RetryJob reruns a failed, retryable job with its stored payload. The
// original candidate is reused when it is still pending; otherwise a new
// candidate is created from the stored scenes. Retrying the same job twice
// returns the first retry.
func (s *Store) RetryJob(ctx context.Context, projectID, jobID, newJobID string) (StartResult, error) {
	var result StartResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = StartResult{}
		original, err := projectJobTx(ctx, tx, projectID, jobID)
		if err != nil {
			return err
		}
		key := "retry:" + original.JobID
		existing, err := jobByKeyTx(ctx, tx, projectID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Job = existing
			return nil
		}
		if original.Status != script.JobError || !original.CanRetry {
			return fmt.Errorf("job %s is %s: %w", original.JobID, original.Status, script.ErrNotRetryable)
		}
		if err := ensureNoActiveJobTx(ctx, tx, projectID); err != nil {
			return err
		}

		var candidate *script.Version
		pending, err := candidateVersionTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		switch {
		case pending != nil && original.CandidateVersionID != nil && pending.ID == *original.CandidateVersionID:
			candidate = pending
		case pending != nil:
			return fmt.Errorf("version %d superseded job %s: %w", pending.VersionNumber, original.JobID, script.ErrCandidateExists)
		default:
			candidate, err = s.createVersionTx(ctx, tx, script.NewVersion{
				ProjectID:     projectID,
				Scenes:        original.Scenes,
				CreatedBy:     script.CreatedByAI,
				ChangeSummary: "Reanalysis retry",
				Provenance:    script.Provenance{Source: script.SourceReanalysis, JobID: newJobID},
				Slot:          script.SlotCandidate,
			})
			if err != nil {
				return err
			}
		}

		created, err := s.insertJobTx(ctx, tx, script.NewJob{
			JobID:          newJobID,
			ProjectID:      projectID,
			IdempotencyKey: key,
			Scenes:         original.Scenes,
			FullScript:     original.FullScript,
			RetryOf:        original.JobID,
			Attempt:        original.Attempt + 1,
		}, candidate.ID)
		if err != nil {
			return err
		}
		result = StartResult{Job: created, Candidate: candidate, Created: true}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *Store) insertJobTx(ctx context.Context, tx *sql.Tx, job script.NewJob, candidateID int64) (*script.Job, error) {
	scenesJSON, err := marshalJSON(job.Scenes.Clone())
	if err != nil {
		return nil, fmt.Errorf("encode job scenes: %w", err)
	}
	attempt := job.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	now := formatTime(s.timestamp())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reanalysis_jobs (
            job_id, project_id, idempotency_key, status, progress, can_retry,
            candidate_version_id, scenes_json, full_script, retry_of, attempt, created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID,
		job.ProjectID,
		job.IdempotencyKey,
		script.JobQueued,
		candidateID,
		scenesJSON,
		nullableString(job.FullScript),
		nullableString(job.RetryOf),
		attempt,
		now,
		now,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert job: %w", script.ErrJobInFlight)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return getJobTx(ctx, tx, job.JobID)
}

// GetJob fetches a job that belongs to projectID.
func (s *Store) GetJob(ctx context.Context, projectID, jobID string) (*script.Job, error) {
	return projectJobTx(ensureContext(ctx), s.db, projectID, jobID)
}

// ActiveJob returns the project's queued or running job, or nil.
func (s *Store) ActiveJob(ctx context.Context, projectID string) (*script.Job, error) {
	return activeJobTx(ensureContext(ctx), s.db, projectID)
}

// ListJobs returns the project's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, projectID string) ([]*script.Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM reanalysis_jobs WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkJobRunning moves a queued job to running. It reports false when the
// job was no longer queued.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string, step script.Step) (bool, error) {
	now := formatTime(s.timestamp())
	res, err := s.execWithRetry(ctx,
		`UPDATE reanalysis_jobs
         SET status = ?, step = ?, progress = 0, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		script.JobRunning, string(step), now, now, now, jobID, script.JobQueued,
	)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return affected(res)
}

// UpdateJobProgress records the active step and percentage for a running job
// and refreshes its heartbeat.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress script.JobProgress) (bool, error) {
	now := formatTime(s.timestamp())
	res, err := s.execWithRetry(ctx,
		`UPDATE reanalysis_jobs
         SET step = ?, progress = MAX(progress, ?), last_heartbeat = ?, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		string(progress.Step), max(0, min(100, progress.Progress)), now, now, jobID, script.JobRunning,
	)
	if err != nil {
		return false, fmt.Errorf("update job progress: %w", err)
	}
	return affected(res)
}

// UpdateJobHeartbeat refreshes the heartbeat of a running job.
func (s *Store) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	now := formatTime(s.timestamp())
	if _, err := s.execWithRetry(ctx,
		`UPDATE reanalysis_jobs SET last_heartbeat = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
		now, now, jobID, script.JobRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// CompleteJob attaches the analysis and its recommendations to the job's
// candidate and marks the job done, all in one transaction. A job that is no
// longer running yields ErrJobNotRunning and nothing is written.
func (s *Store) CompleteJob(ctx context.Context, jobID string, analysis *script.Analysis, recs []script.Recommendation) (*script.Job, error) {
	if analysis == nil {
		return nil, services.Wrap(services.ErrValidation, "", "complete job", "analysis required", nil)
	}
	var done *script.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != script.JobRunning {
			return fmt.Errorf("job %s is %s: %w", job.JobID, job.Status, ErrJobNotRunning)
		}
		if job.CandidateVersionID == nil {
			return fmt.Errorf("job %s lost its candidate: %w", job.JobID, script.ErrNoCandidate)
		}
		analysisJSON, score, err := encodeAnalysis(analysis)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE script_versions SET analysis_json = ?, analysis_score = ? WHERE id = ? AND is_candidate = 1`,
			analysisJSON, score, *job.CandidateVersionID,
		)
		if err != nil {
			return fmt.Errorf("attach analysis: %w", err)
		}
		if ok, err := affected(res); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("version id %d: %w", *job.CandidateVersionID, script.ErrNoCandidate)
		}
		if err := s.insertRecommendationsTx(ctx, tx, *job.CandidateVersionID, recs); err != nil {
			return err
		}
		now := formatTime(s.timestamp())
		if _, err := tx.ExecContext(ctx,
			`UPDATE reanalysis_jobs
             SET status = ?, step = ?, progress = 100, error_message = NULL, error_kind = NULL,
                 can_retry = 0, completed_at = ?, updated_at = ?
             WHERE job_id = ?`,
			script.JobDone, string(script.StepSaving), now, now, jobID,
		); err != nil {
			return fmt.Errorf("mark job done: %w", err)
		}
		done, err = getJobTx(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// FailJob moves an active job to error. It reports false when the job had
// already finished.
func (s *Store) FailJob(ctx context.Context, jobID, message, kind string, canRetry bool) (bool, error) {
	now := formatTime(s.timestamp())
	res, err := s.execWithRetry(ctx,
		`UPDATE reanalysis_jobs
         SET status = ?, error_message = ?, error_kind = ?, can_retry = ?, completed_at = ?, updated_at = ?
         WHERE job_id = ? AND status IN (?, ?)`,
		script.JobError, nullableString(message), nullableString(kind), boolToInt(canRetry), now, now,
		jobID, script.JobQueued, script.JobRunning,
	)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return affected(res)
}

// ReclaimStaleJobs returns running jobs whose heartbeat is older than cutoff,
// and queued jobs untouched since cutoff, to the queued state so they can be
// run again. The reclaimed jobs are returned. Jobs named in skip are left
// alone; callers pass the jobs they are still running themselves.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time, skip ...string) ([]*script.Job, error) {
	var reclaimed []*script.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		reclaimed = nil
		limit := formatTime(cutoff)
		rows, err := tx.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM reanalysis_jobs
             WHERE (status = ? AND COALESCE(last_heartbeat, updated_at) < ?)
                OR (status = ? AND updated_at < ?)
             ORDER BY created_at`,
			script.JobRunning, limit, script.JobQueued, limit,
		)
		if err != nil {
			return fmt.Errorf("find stale jobs: %w", err)
		}
		stale, err := collectJobs(rows)
		_ = rows.Close()
		if err != nil {
			return err
		}
		now := formatTime(s.timestamp())
		for _, job := range stale {
			if slices.Contains(skip, job.JobID) {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE reanalysis_jobs
                 SET status = ?, step = NULL, progress = 0, last_heartbeat = NULL, started_at = NULL, updated_at = ?
                 WHERE job_id = ?`,
				script.JobQueued, now, job.JobID,
			); err != nil {
				return fmt.Errorf("reclaim job %s: %w", job.JobID, err)
			}
			refreshed, err := getJobTx(ctx, tx, job.JobID)
			if err != nil {
				return err
			}
			reclaimed = append(reclaimed, refreshed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// JobStats counts jobs by status.
func (s *Store) JobStats(ctx context.Context) (map[script.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM reanalysis_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[script.JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[script.JobStatus(status)] = count
	}
	return stats, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func collectJobs(rows *sql.Rows) ([]*script.Job, error) {
	var jobs []*script.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func getJobTx(ctx context.Context, q querier, jobID string) (*script.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM reanalysis_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, script.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func projectJobTx(ctx context.Context, q querier, projectID, jobID string) (*script.Job, error) {
	job, err := getJobTx(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	if job.ProjectID != projectID {
		return nil, fmt.Errorf("job %s in project %s: %w", jobID, projectID, script.ErrJobNotFound)
	}
	return job, nil
}

func jobByKeyTx(ctx context.Context, q querier, projectID, key string) (*script.Job, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM reanalysis_jobs WHERE project_id = ? AND idempotency_key = ?
         ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		projectID, key,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by idempotency key: %w", err)
	}
	return job, nil
}

// keyStillBoundTx reports whether job still owns its idempotency key.
func keyStillBoundTx(ctx context.Context, q querier, job *script.Job) (bool, error) {
	if job.Status == script.JobQueued || job.Status == script.JobRunning {
		return true, nil
	}
	if job.CandidateVersionID == nil {
		return false, nil
	}
	pending, err := candidateVersionTx(ctx, q, job.ProjectID)
	if err != nil {
		return false, err
	}
	return pending != nil && pending.ID == *job.CandidateVersionID, nil
}

func activeJobTx(ctx context.Context, q querier, projectID string) (*script.Job, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM reanalysis_jobs WHERE project_id = ? AND status IN (?, ?) LIMIT 1`,
		projectID, script.JobQueued, script.JobRunning,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

func ensureNoActiveJobTx(ctx context.Context, q querier, projectID string) error {
	active, err := activeJobTx(ctx, q, projectID)
	if err != nil {
		return err
	}
	if active != nil {
		return &script.ConflictError{Job: *active}
	}
	return nil
}
