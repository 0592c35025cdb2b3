package script

import (
	"errors"
	"fmt"

	"reelforge/internal/services"
)

// Domain errors. Each wraps a services marker so callers can classify with
// errors.Is against either the specific error or the taxonomy.
var (
	ErrProjectNotFound        = fmt.Errorf("project has no versions: %w", services.ErrNotFound)
	ErrVersionNotFound        = fmt.Errorf("version not found: %w", services.ErrNotFound)
	ErrRecommendationNotFound = fmt.Errorf("recommendation not found: %w", services.ErrNotFound)
	ErrJobNotFound            = fmt.Errorf("job not found: %w", services.ErrNotFound)
)

var (
	ErrCandidateExists  = fmt.Errorf("a candidate version already exists: %w", services.ErrConflict)
	ErrNotCandidate     = fmt.Errorf("can only accept candidate versions: %w", services.ErrConflict)
	ErrCandidatePending = fmt.Errorf("resolve the pending candidate version first: %w", services.ErrConflict)
	ErrCandidateBusy    = fmt.Errorf("candidate is still being analyzed: %w", services.ErrConflict)
	ErrJobInFlight      = fmt.Errorf("a reanalysis job is already in flight: %w", services.ErrConflict)
	ErrAlreadyApplied   = fmt.Errorf("recommendation already applied: %w", services.ErrConflict)
)

// ErrConcurrentModification means the current version moved between a
// caller's read and its write.
var ErrConcurrentModification = fmt.Errorf("current version changed concurrently: %w", services.ErrConflict)

var (
	ErrNoCandidate   = fmt.Errorf("no candidate version: %w", services.ErrInvalidState)
	ErrDeleteCurrent = fmt.Errorf("cannot delete the current version: %w", services.ErrInvalidState)
	ErrDeleteHistory = fmt.Errorf("only the candidate version can be deleted: %w", services.ErrInvalidState)
	ErrRevertTarget  = fmt.Errorf("revert target does not exist: %w", services.ErrInvalidState)
	ErrSceneMissing  = fmt.Errorf("scene not present in the current version: %w", services.ErrInvalidState)
	ErrNotRetryable  = fmt.Errorf("job cannot be retried: %w", services.ErrInvalidState)
)

// ErrFreshRecommendation rejects a negative id sent to the store; fresh
// recommendations only exist client-side.
var ErrFreshRecommendation = fmt.Errorf("fresh recommendations are not stored: %w", services.ErrValidation)

// ConflictError carries the job that blocked a reanalysis start.
type ConflictError struct {
	Job Job
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reanalysis job %s is already %s for project %s", e.Job.JobID, e.Job.Status, e.Job.ProjectID)
}

func (e *ConflictError) Unwrap() error { return ErrJobInFlight }

// AsConflict extracts a ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
