package api

import (
	"reelforge/internal/reconcile"
	"reelforge/internal/script"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Provenance records who or what produced a version.
type Provenance struct {
	Source                string  `json:"source" yaml:"source"`
	Actor                 string  `json:"actor,omitempty" yaml:"actor,omitempty"`
	RecommendationIDs     []int64 `json:"recommendationIds,omitempty" yaml:"recommendationIds,omitempty"`
	RevertedFromVersionID int64   `json:"revertedFromVersionId,omitempty" yaml:"revertedFromVersionId,omitempty"`
	JobID                 string  `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	At                    string  `json:"at,omitempty" yaml:"at,omitempty"`
}

// Version describes a script snapshot in a transport-friendly format.
type Version struct {
	ID              int64            `json:"id" yaml:"id"`
	ProjectID       string           `json:"projectId" yaml:"projectId"`
	VersionNumber   int              `json:"versionNumber" yaml:"versionNumber"`
	Scenes          []script.Scene   `json:"scenes" yaml:"scenes"`
	IsCurrent       bool             `json:"isCurrent" yaml:"isCurrent"`
	IsCandidate     bool             `json:"isCandidate" yaml:"isCandidate"`
	ParentVersionID *int64           `json:"parentVersionId,omitempty" yaml:"parentVersionId,omitempty"`
	CreatedBy       string           `json:"createdBy" yaml:"createdBy"`
	ChangeSummary   string           `json:"changeSummary,omitempty" yaml:"changeSummary,omitempty"`
	AnalysisResult  *script.Analysis `json:"analysisResult,omitempty" yaml:"analysisResult,omitempty"`
	AnalysisScore   *int             `json:"analysisScore,omitempty" yaml:"analysisScore,omitempty"`
	Verdict         string           `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Provenance      Provenance       `json:"provenance" yaml:"provenance"`
	ContentHash     string           `json:"contentHash,omitempty" yaml:"contentHash,omitempty"`
	CreatedAt       string           `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// Recommendation describes a suggested scene edit.
type Recommendation struct {
	ID              int64   `json:"id" yaml:"id"`
	ScriptVersionID int64   `json:"scriptVersionId,omitempty" yaml:"scriptVersionId,omitempty"`
	SceneNumber     int     `json:"sceneNumber" yaml:"sceneNumber"`
	Priority        string  `json:"priority" yaml:"priority"`
	Area            string  `json:"area,omitempty" yaml:"area,omitempty"`
	CurrentText     string  `json:"currentText,omitempty" yaml:"currentText,omitempty"`
	SuggestedText   string  `json:"suggestedText" yaml:"suggestedText"`
	Reasoning       string  `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	ExpectedImpact  string  `json:"expectedImpact,omitempty" yaml:"expectedImpact,omitempty"`
	ScoreDelta      float64 `json:"scoreDelta" yaml:"scoreDelta"`
	Confidence      float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	SourceAgent     string  `json:"sourceAgent,omitempty" yaml:"sourceAgent,omitempty"`
	Eligible        bool    `json:"eligible" yaml:"eligible"`
	AppliedAt       string  `json:"appliedAt,omitempty" yaml:"appliedAt,omitempty"`
	CreatedAt       string  `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// Job describes a reanalysis job snapshot.
type Job struct {
	JobID              string `json:"jobId" yaml:"jobId"`
	ProjectID          string `json:"projectId" yaml:"projectId"`
	Status             string `json:"status" yaml:"status"`
	Step               string `json:"step,omitempty" yaml:"step,omitempty"`
	Progress           int    `json:"progress" yaml:"progress"`
	Error              string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind          string `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	CanRetry           bool   `json:"canRetry" yaml:"canRetry"`
	CandidateVersionID *int64 `json:"candidateVersionId,omitempty" yaml:"candidateVersionId,omitempty"`
	IdempotencyKey     string `json:"idempotencyKey,omitempty" yaml:"idempotencyKey,omitempty"`
	RetryOf            string `json:"retryOf,omitempty" yaml:"retryOf,omitempty"`
	Attempt            int    `json:"attempt" yaml:"attempt"`
	LastHeartbeat      string `json:"lastHeartbeat,omitempty" yaml:"lastHeartbeat,omitempty"`
	CreatedAt          string `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt          string `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	CompletedAt        string `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// StartReanalysisRequest submits edited scenes for scoring.
type StartReanalysisRequest struct {
	Scenes         []script.Scene `json:"scenes"`
	FullScript     string         `json:"fullScript,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	ContentType    string         `json:"contentType,omitempty"`
	ChangeSummary  string         `json:"changeSummary,omitempty"`
	Actor          string         `json:"actor,omitempty"`
}

// StartReanalysisResponse identifies the job handling a submission. Conflict
// is set when another job was already in flight; JobID and Status then
// describe that job.
type StartReanalysisResponse struct {
	JobID              string `json:"jobId" yaml:"jobId"`
	Status             string `json:"status" yaml:"status"`
	CandidateVersionID *int64 `json:"candidateVersionId,omitempty" yaml:"candidateVersionId,omitempty"`
	Conflict           bool   `json:"conflict,omitempty" yaml:"conflict,omitempty"`
}

// CreateVersionRequest saves a snapshot as the project's current version.
type CreateVersionRequest struct {
	Scenes         []script.Scene   `json:"scenes"`
	AnalysisResult *script.Analysis `json:"analysisResult,omitempty"`
	AnalysisScore  *int             `json:"analysisScore,omitempty"`
	ChangeSummary  string           `json:"changeSummary,omitempty"`
	Actor          string           `json:"actor,omitempty"`
}

// CreateVersionResponse reports the saved (or already existing) version.
type CreateVersionResponse struct {
	Version              Version `json:"version" yaml:"version"`
	RecommendationsCount int     `json:"recommendationsCount" yaml:"recommendationsCount"`
	AlreadyExists        bool    `json:"alreadyExists" yaml:"alreadyExists"`
}

// RevertRequest carries the optional actor for a revert.
type RevertRequest struct {
	Actor string `json:"actor,omitempty"`
}

// VersionListResponse wraps a project's history, newest first.
type VersionListResponse struct {
	Versions []Version `json:"versions" yaml:"versions"`
}

// VersionResponse wraps a single version.
type VersionResponse struct {
	Version Version `json:"version" yaml:"version"`
}

// RecommendationListResponse wraps the recommendations of one version.
type RecommendationListResponse struct {
	VersionID       int64            `json:"versionId" yaml:"versionId"`
	VersionNumber   int              `json:"versionNumber" yaml:"versionNumber"`
	Threshold       float64          `json:"threshold" yaml:"threshold"`
	Recommendations []Recommendation `json:"recommendations" yaml:"recommendations"`
}

// ApplyAllRequest optionally restricts a batch to specific recommendations.
type ApplyAllRequest struct {
	RecommendationIDs []int64 `json:"recommendationIds,omitempty"`
}

// ApplyOneResponse reports the scene changed by a single recommendation.
type ApplyOneResponse struct {
	Scene           script.Scene `json:"scene" yaml:"scene"`
	Version         Version      `json:"version" yaml:"version"`
	NeedsReanalysis bool         `json:"needsReanalysis" yaml:"needsReanalysis"`
}

// ApplyAllResponse reports a batch application. Version.Scenes is the full
// snapshot the caller should display.
type ApplyAllResponse struct {
	Version         Version             `json:"version" yaml:"version"`
	Applied         []int64             `json:"applied" yaml:"applied"`
	Skipped         []reconcile.Skipped `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	ChangedScenes   []script.Scene      `json:"changedScenes,omitempty" yaml:"changedScenes,omitempty"`
	NeedsReanalysis bool                `json:"needsReanalysis" yaml:"needsReanalysis"`
}

// Scene comparison statuses.
const (
	SceneUnchanged = "unchanged"
	SceneChanged   = "changed"
	SceneAdded     = "added"
	SceneRemoved   = "removed"
)

// VersionSummary is the compact form of a version used in comparisons.
type VersionSummary struct {
	ID            int64          `json:"id" yaml:"id"`
	VersionNumber int            `json:"versionNumber" yaml:"versionNumber"`
	IsCurrent     bool           `json:"isCurrent" yaml:"isCurrent"`
	IsCandidate   bool           `json:"isCandidate" yaml:"isCandidate"`
	AnalysisScore *int           `json:"analysisScore,omitempty" yaml:"analysisScore,omitempty"`
	Verdict       string         `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Scenes        []script.Scene `json:"scenes" yaml:"scenes"`
}

// SceneDelta compares one scene number across two versions.
type SceneDelta struct {
	SceneNumber int     `json:"sceneNumber" yaml:"sceneNumber"`
	Status      string  `json:"status" yaml:"status"`
	BaseText    string  `json:"baseText,omitempty" yaml:"baseText,omitempty"`
	TargetText  string  `json:"targetText,omitempty" yaml:"targetText,omitempty"`
	Similarity  float64 `json:"similarity" yaml:"similarity"`
	ScoreDelta  *int    `json:"scoreDelta,omitempty" yaml:"scoreDelta,omitempty"`
}

// Deltas holds the differences between two versions. Score deltas are
// target minus base and are omitted when either side was never scored.
type Deltas struct {
	Overall        *int           `json:"overall,omitempty" yaml:"overall,omitempty"`
	Analyzers      map[string]int `json:"analyzers,omitempty" yaml:"analyzers,omitempty"`
	Scenes         []SceneDelta   `json:"scenes" yaml:"scenes"`
	ChangedScenes  int            `json:"changedScenes" yaml:"changedScenes"`
	DurationChange float64        `json:"durationChange" yaml:"durationChange"`
}

// Comparison is the result of CompareVersions.
type Comparison struct {
	Base      VersionSummary `json:"base" yaml:"base"`
	Candidate VersionSummary `json:"candidate" yaml:"candidate"`
	Deltas    Deltas         `json:"deltas" yaml:"deltas"`
}

// ProjectSummary is a per-project rollup.
type ProjectSummary struct {
	ProjectID      string `json:"projectId" yaml:"projectId"`
	VersionCount   int    `json:"versionCount" yaml:"versionCount"`
	CurrentVersion int    `json:"currentVersion" yaml:"currentVersion"`
	HasCandidate   bool   `json:"hasCandidate" yaml:"hasCandidate"`
}

// ProjectListResponse wraps the project rollups.
type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects" yaml:"projects"`
}

// JobListResponse wraps a project's jobs, newest first.
type JobListResponse struct {
	Jobs []Job `json:"jobs" yaml:"jobs"`
}

// HealthResponse is returned by the daemon health endpoint.
type HealthResponse struct {
	Status       string         `json:"status" yaml:"status"`
	DatabasePath string         `json:"databasePath" yaml:"databasePath"`
	InFlightJobs int            `json:"inFlightJobs" yaml:"inFlightJobs"`
	JobCounts    map[string]int `json:"jobCounts,omitempty" yaml:"jobCounts,omitempty"`
	Scoring      string         `json:"scoring" yaml:"scoring"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	CanRetry bool   `json:"canRetry"`
	JobID    string `json:"jobId,omitempty"`
	Status   string `json:"status,omitempty"`
}
