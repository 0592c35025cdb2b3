package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"reelforge/internal/logging"
	"reelforge/internal/reanalysis"
	"reelforge/internal/reconcile"
	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
)

// JobRunner abstracts the reanalysis manager.
type JobRunner interface {
	Start(ctx context.Context, req reanalysis.StartRequest) (*script.Job, error)
	Status(ctx context.Context, projectID, jobID string) (*script.Job, error)
	Retry(ctx context.Context, projectID, jobID string) (*script.Job, error)
}

// RecommendationApplier abstracts the reconciler.
type RecommendationApplier interface {
	ApplyOne(ctx context.Context, projectID string, recommendationID int64) (*reconcile.OneResult, error)
	ApplyAll(ctx context.Context, projectID string, ids []int64) (*reconcile.BatchResult, error)
	Threshold() float64
}

// VersionRecorder counts created versions. *metrics.Metrics satisfies it.
type VersionRecorder interface {
	RecordVersion(source string)
}

// ScriptService exposes version, recommendation, and reanalysis operations
// returning API DTOs.
type ScriptService struct {
	store      *store.Store
	jobs       JobRunner
	reconciler RecommendationApplier
	metrics    VersionRecorder
	logger     *slog.Logger
}

// ServiceOption customizes a ScriptService.
type ServiceOption func(*ScriptService)

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *ScriptService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceMetrics sets the version recorder.
func WithServiceMetrics(recorder VersionRecorder) ServiceOption {
	return func(s *ScriptService) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// NewScriptService constructs the facade.
func NewScriptService(st *store.Store, jobs JobRunner, reconciler RecommendationApplier, opts ...ServiceOption) *ScriptService {
	if st == nil || jobs == nil || reconciler == nil {
		return nil
	}
	s := &ScriptService{
		store:      st,
		jobs:       jobs,
		reconciler: reconciler,
		metrics:    nopRecorder{},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "api")
	return s
}

// StartReanalysis submits scenes for scoring. When another job is already in
// flight the response describes that job with Conflict set and no error.
func (s *ScriptService) StartReanalysis(ctx context.Context, projectID string, req StartReanalysisRequest) (*StartReanalysisResponse, error) {
	contentType, err := parseOptionalContentType(req.ContentType)
	if err != nil {
		return nil, err
	}
	fullScript := strings.TrimSpace(req.FullScript)
	if fullScript == "" {
		fullScript = script.Scenes(req.Scenes).FullText()
	}
	job, err := s.jobs.Start(ctx, reanalysis.StartRequest{
		ProjectID:      projectID,
		Scenes:         req.Scenes,
		FullScript:     fullScript,
		IdempotencyKey: req.IdempotencyKey,
		ContentType:    contentType,
		Actor:          req.Actor,
		ChangeSummary:  req.ChangeSummary,
	})
	return startResponse(job, err)
}

// JobStatus returns the job snapshot.
func (s *ScriptService) JobStatus(ctx context.Context, projectID, jobID string) (*Job, error) {
	job, err := s.jobs.Status(ctx, projectID, jobID)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// RetryJob reruns a failed job with its stored payload.
func (s *ScriptService) RetryJob(ctx context.Context, projectID, jobID string) (*StartReanalysisResponse, error) {
	job, err := s.jobs.Retry(ctx, projectID, jobID)
	return startResponse(job, err)
}

// ListJobs returns a project's jobs, newest first.
func (s *ScriptService) ListJobs(ctx context.Context, projectID string) ([]Job, error) {
	jobs, err := s.store.ListJobs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// CreateInitialVersion saves scenes as the project's current version.
//
// When the current version already has identical content the call is a no-op
// and AlreadyExists is set. Content matching an older snapshot is saved as a
// new current version. For a new project the version is the
// first in its history; for an existing one it is a human edit on top of the
// current version. Recommendations inside AnalysisResult are stored on the
// new version.
func (s *ScriptService) CreateInitialVersion(ctx context.Context, projectID string, req CreateVersionRequest) (*CreateVersionResponse, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create version", "project id required", nil)
	}
	scenes := script.Scenes(req.Scenes)
	if err := scenes.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.FindVersionByContent(ctx, projectID, scenes.ContentHash())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		count, err := s.unappliedCount(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		return &CreateVersionResponse{Version: FromVersion(existing), RecommendationsCount: count, AlreadyExists: true}, nil
	}

	analysis := req.AnalysisResult
	if analysis != nil {
		copied := *analysis
		if req.AnalysisScore != nil {
			copied.OverallScore = *req.AnalysisScore
		}
		copied.Normalize()
		analysis = &copied
	}

	source := script.SourceInitial
	summary := strings.TrimSpace(req.ChangeSummary)
	if _, err := s.store.CurrentVersion(ctx, projectID); err == nil {
		source = script.SourceHumanEdit
		if summary == "" {
			summary = "Manual edit"
		}
	} else if !errors.Is(err, script.ErrProjectNotFound) {
		return nil, err
	} else if summary == "" {
		summary = "Initial version"
	}

	var recs []script.Recommendation
	if analysis != nil {
		recs = analysis.Recommendations
	}
	v, err := s.store.CreateVersion(ctx, script.NewVersion{
		ProjectID:       projectID,
		Scenes:          scenes,
		CreatedBy:       script.CreatedByHuman,
		ChangeSummary:   summary,
		Provenance:      script.Provenance{Source: source, Actor: req.Actor},
		Slot:            script.SlotCurrent,
		Analysis:        analysis,
		Recommendations: recs,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordVersion(string(source))
	count, err := s.unappliedCount(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("version saved",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64(logging.FieldVersionID, v.ID),
		logging.Int("version_number", v.VersionNumber),
		logging.String("source", string(source)),
		logging.Int("recommendations", count),
	)
	return &CreateVersionResponse{Version: FromVersion(v), RecommendationsCount: count}, nil
}

// AcceptVersion promotes the candidate to current.
func (s *ScriptService) AcceptVersion(ctx context.Context, projectID string, versionID int64) (*Version, error) {
	v, err := s.store.AcceptCandidate(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("candidate accepted",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64(logging.FieldVersionID, v.ID),
		logging.Int("version_number", v.VersionNumber),
	)
	dto := FromVersion(v)
	return &dto, nil
}

// RejectCandidate deletes the project's candidate, whatever its id.
func (s *ScriptService) RejectCandidate(ctx context.Context, projectID string) (*Version, error) {
	v, err := s.store.RejectCandidate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.logRejected(projectID, v)
	dto := FromVersion(v)
	return &dto, nil
}

// DeleteVersion rejects the candidate versionID. The current version and
// accepted history cannot be deleted.
func (s *ScriptService) DeleteVersion(ctx context.Context, projectID string, versionID int64) (*Version, error) {
	v, err := s.store.DeleteVersion(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}
	s.logRejected(projectID, v)
	dto := FromVersion(v)
	return &dto, nil
}

// RevertToVersion appends a new current version with versionID's scenes.
func (s *ScriptService) RevertToVersion(ctx context.Context, projectID string, versionID int64, actor string) (*Version, error) {
	v, err := s.store.RevertTo(ctx, projectID, versionID, actor)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordVersion(string(script.SourceRevert))
	s.logger.Info("reverted to earlier version",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64(logging.FieldVersionID, v.ID),
		logging.Int64("reverted_from", versionID),
	)
	dto := FromVersion(v)
	return &dto, nil
}

// ListVersions returns the project history, newest first.
func (s *ScriptService) ListVersions(ctx context.Context, projectID string) ([]Version, error) {
	versions, err := s.store.ListVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("project %s: %w", projectID, script.ErrProjectNotFound)
	}
	return FromVersions(versions), nil
}

// GetVersion fetches one version of the project.
func (s *ScriptService) GetVersion(ctx context.Context, projectID string, versionID int64) (*Version, error) {
	v, err := s.store.GetVersion(ctx, projectID, versionID)
	if err != nil {
		return nil, err
	}
	dto := FromVersion(v)
	return &dto, nil
}

// CurrentVersion fetches the project head.
func (s *ScriptService) CurrentVersion(ctx context.Context, projectID string) (*Version, error) {
	v, err := s.store.CurrentVersion(ctx, projectID)
	if err != nil {
		return nil, err
	}
	dto := FromVersion(v)
	return &dto, nil
}

// ListProjects summarizes every project.
func (s *ScriptService) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return FromProjectSummaries(projects), nil
}

// RecommendationQuery selects which recommendations to list.
type RecommendationQuery struct {
	// VersionID selects a version; zero means the current version.
	VersionID      int64
	IncludeApplied bool
}

// ListRecommendations returns the recommendations of a version.
func (s *ScriptService) ListRecommendations(ctx context.Context, projectID string, query RecommendationQuery) (*RecommendationListResponse, error) {
	var (
		v   *script.Version
		err error
	)
	if query.VersionID > 0 {
		v, err = s.store.GetVersion(ctx, projectID, query.VersionID)
	} else {
		v, err = s.store.CurrentVersion(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecommendations(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	threshold := s.reconciler.Threshold()
	resp := &RecommendationListResponse{
		VersionID:       v.ID,
		VersionNumber:   v.VersionNumber,
		Threshold:       threshold,
		Recommendations: make([]Recommendation, 0, len(recs)),
	}
	for _, rec := range recs {
		if rec.IsApplied() && !query.IncludeApplied {
			continue
		}
		resp.Recommendations = append(resp.Recommendations, FromRecommendation(rec, threshold))
	}
	return resp, nil
}

// ApplyRecommendation applies one recommendation to the current version.
func (s *ScriptService) ApplyRecommendation(ctx context.Context, projectID string, recommendationID int64) (*ApplyOneResponse, error) {
	result, err := s.reconciler.ApplyOne(ctx, projectID, recommendationID)
	if err != nil {
		return nil, err
	}
	return &ApplyOneResponse{
		Scene:           result.Scene,
		Version:         FromVersion(result.Version),
		NeedsReanalysis: result.NeedsReanalysis,
	}, nil
}

// ApplyAllRecommendations applies every eligible recommendation, or only
// ids when given, in one new current version.
func (s *ScriptService) ApplyAllRecommendations(ctx context.Context, projectID string, ids []int64) (*ApplyAllResponse, error) {
	result, err := s.reconciler.ApplyAll(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}
	applied := result.Applied
	if applied == nil {
		applied = []int64{}
	}
	return &ApplyAllResponse{
		Version:         FromVersion(result.Version),
		Applied:         applied,
		Skipped:         result.Skipped,
		ChangedScenes:   result.ChangedScenes,
		NeedsReanalysis: result.NeedsReanalysis,
	}, nil
}

// CompareVersions diffs two versions of the project. It never writes.
func (s *ScriptService) CompareVersions(ctx context.Context, projectID string, baseID, targetID int64) (*Comparison, error) {
	base, err := s.store.GetVersion(ctx, projectID, baseID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetVersion(ctx, projectID, targetID)
	if err != nil {
		return nil, err
	}
	return Compare(base, target), nil
}

func (s *ScriptService) unappliedCount(ctx context.Context, versionID int64) (int, error) {
	recs, err := s.store.ListRecommendations(ctx, versionID)
	if err != nil {
		return 0, err
	}
	return len(script.Unapplied(recs)), nil
}

func (s *ScriptService) logRejected(projectID string, v *script.Version) {
	s.logger.Info("candidate rejected",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64(logging.FieldVersionID, v.ID),
		logging.Int("version_number", v.VersionNumber),
	)
}

func startResponse(job *script.Job, err error) (*StartReanalysisResponse, error) {
	if err != nil {
		if conflict, ok := script.AsConflict(err); ok {
			return &StartReanalysisResponse{
				JobID:              conflict.Job.JobID,
				Status:             string(conflict.Job.Status),
				CandidateVersionID: conflict.Job.CandidateVersionID,
				Conflict:           true,
			}, nil
		}
		return nil, err
	}
	return &StartReanalysisResponse{
		JobID:              job.JobID,
		Status:             string(job.Status),
		CandidateVersionID: job.CandidateVersionID,
	}, nil
}

func parseOptionalContentType(value string) (script.ContentType, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return script.ParseContentType(value)
}

type nopRecorder struct{}

func (nopRecorder) RecordVersion(string) {}
