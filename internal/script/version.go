package script

import "time"

// CreatedBy records whether a person or the AI pipeline authored a version.
type CreatedBy string

const (
	CreatedByHuman CreatedBy = "human"
	CreatedByAI    CreatedBy = "ai"
)

// Source names the flow that produced a version.
type Source string

const (
	SourceInitial        Source = "initial"
	SourceHumanEdit      Source = "human_edit"
	SourceRecommendation Source = "recommendation"
	SourceRevert         Source = "revert"
	SourceReanalysis     Source = "reanalysis"
)

// Provenance is audit metadata describing who or what produced a version.
type Provenance struct {
	Source                Source    `json:"source" yaml:"source"`
	Actor                 string    `json:"actor,omitempty" yaml:"actor,omitempty"`
	RecommendationIDs     []int64   `json:"recommendationIds,omitempty" yaml:"recommendationIds,omitempty"`
	RevertedFromVersionID int64     `json:"revertedFromVersionId,omitempty" yaml:"revertedFromVersionId,omitempty"`
	JobID                 string    `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	At                    time.Time `json:"at" yaml:"at"`
}

// Slot selects which flag a newly created version receives.
type Slot int

const (
	// SlotNone creates a plain history row. Only used by tests and imports.
	SlotNone Slot = iota
	// SlotCurrent makes the new version the project head.
	SlotCurrent
	// SlotCandidate makes the new version the pending candidate.
	SlotCandidate
)

// Version is an immutable full snapshot of a project's script.
type Version struct {
	ID              int64      `json:"id" yaml:"id"`
	ProjectID       string     `json:"projectId" yaml:"projectId"`
	VersionNumber   int        `json:"versionNumber" yaml:"versionNumber"`
	Scenes          Scenes     `json:"scenes" yaml:"scenes"`
	IsCurrent       bool       `json:"isCurrent" yaml:"isCurrent"`
	IsCandidate     bool       `json:"isCandidate" yaml:"isCandidate"`
	ParentVersionID *int64     `json:"parentVersionId,omitempty" yaml:"parentVersionId,omitempty"`
	CreatedBy       CreatedBy  `json:"createdBy" yaml:"createdBy"`
	ChangeSummary   string     `json:"changeSummary,omitempty" yaml:"changeSummary,omitempty"`
	Analysis        *Analysis  `json:"analysisResult,omitempty" yaml:"analysisResult,omitempty"`
	AnalysisScore   *int       `json:"analysisScore,omitempty" yaml:"analysisScore,omitempty"`
	Provenance      Provenance `json:"provenance" yaml:"provenance"`
	ContentHash     string     `json:"contentHash" yaml:"contentHash"`
	CreatedAt       time.Time  `json:"createdAt" yaml:"createdAt"`
}

// NewVersion describes a version to be created by the store.
type NewVersion struct {
	ProjectID       string
	ParentVersionID *int64
	Scenes          Scenes
	CreatedBy       CreatedBy
	ChangeSummary   string
	Provenance      Provenance
	Slot            Slot
	// SupersedeCandidate allows a new candidate to replace an existing one.
	// The old candidate and its recommendations are deleted in the same
	// transaction.
	SupersedeCandidate bool
	// Analysis optionally attaches a scoring snapshot at creation time.
	Analysis *Analysis
	// Recommendations are inserted onto the new version in order.
	Recommendations []Recommendation
	// AppliedRecommendationIDs are marked applied in the same transaction.
	AppliedRecommendationIDs []int64
}
