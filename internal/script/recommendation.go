package script

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Priority ranks how urgently a recommendation should be applied.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority maps free-form analyzer output onto a Priority, defaulting to low.
func ParsePriority(value string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Rank orders priorities, critical first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Recommendation is a suggested edit to a single scene. Positive IDs are
// persisted rows; negative IDs mark fresh client-side suggestions that have
// never been written to the store.
type Recommendation struct {
	ID              int64      `json:"id" yaml:"id"`
	ScriptVersionID int64      `json:"scriptVersionId,omitempty" yaml:"scriptVersionId,omitempty"`
	SceneID         string     `json:"sceneId,omitempty" yaml:"sceneId,omitempty"`
	SceneNumber     int        `json:"sceneNumber" yaml:"sceneNumber"`
	Priority        Priority   `json:"priority" yaml:"priority"`
	Area            string     `json:"area,omitempty" yaml:"area,omitempty"`
	CurrentText     string     `json:"currentText,omitempty" yaml:"currentText,omitempty"`
	SuggestedText   string     `json:"suggestedText" yaml:"suggestedText"`
	Reasoning       string     `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	ExpectedImpact  string     `json:"expectedImpact,omitempty" yaml:"expectedImpact,omitempty"`
	ScoreDelta      float64    `json:"scoreDelta" yaml:"scoreDelta"`
	Confidence      float64    `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	SourceAgent     string     `json:"sourceAgent,omitempty" yaml:"sourceAgent,omitempty"`
	AppliedAt       *time.Time `json:"appliedAt,omitempty" yaml:"appliedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
}

// IsFresh reports whether the recommendation exists only on the client.
func (r Recommendation) IsFresh() bool { return r.ID < 0 }

// IsApplied reports whether the recommendation has been applied.
func (r Recommendation) IsApplied() bool { return r.AppliedAt != nil }

// Eligible reports whether the recommendation qualifies for bulk application:
// priority high or medium and a score delta at or above threshold.
func (r Recommendation) Eligible(threshold float64) bool {
	if r.IsApplied() {
		return false
	}
	if r.Priority != PriorityHigh && r.Priority != PriorityMedium {
		return false
	}
	return r.ScoreDelta >= threshold
}

// CompareRecommendations orders by priority, then larger score delta, then
// scene number, then ID.
func CompareRecommendations(a, b Recommendation) int {
	return cmp.Or(
		cmp.Compare(a.Priority.Rank(), b.Priority.Rank()),
		cmp.Compare(b.ScoreDelta, a.ScoreDelta),
		cmp.Compare(a.SceneNumber, b.SceneNumber),
		cmp.Compare(a.ID, b.ID),
	)
}

// SortRecommendations sorts in place using CompareRecommendations.
func SortRecommendations(recs []Recommendation) {
	slices.SortStableFunc(recs, CompareRecommendations)
}

// Unapplied filters out applied recommendations.
func Unapplied(recs []Recommendation) []Recommendation {
	out := make([]Recommendation, 0, len(recs))
	for _, rec := range recs {
		if !rec.IsApplied() {
			out = append(out, rec)
		}
	}
	return out
}
