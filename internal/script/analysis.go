package script

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"reelforge/internal/services"
	"reelforge/internal/textutil"
)

// ContentType discriminates the Details payload of an Analysis.
type ContentType string

const (
	ContentReel   ContentType = "reel"
	ContentNews   ContentType = "news"
	ContentCustom ContentType = "custom"
)

// ParseContentType maps user input onto a ContentType. Empty input means reel.
func ParseContentType(value string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(value))) {
	case "", ContentReel:
		return ContentReel, nil
	case ContentNews:
		return ContentNews, nil
	case ContentCustom:
		return ContentCustom, nil
	default:
		return "", services.Wrap(services.ErrValidation, "", "parse content type", fmt.Sprintf("unsupported content type %q", value), nil)
	}
}

// Verdict is the coarse tier derived from the overall score.
type Verdict string

const (
	VerdictViral    Verdict = "viral"
	VerdictStrong   Verdict = "strong"
	VerdictModerate Verdict = "moderate"
	VerdictWeak     Verdict = "weak"
)

// VerdictFor maps a 0-100 score onto its tier.
func VerdictFor(score int) Verdict {
	switch {
	case score >= 90:
		return VerdictViral
	case score >= 70:
		return VerdictStrong
	case score >= 50:
		return VerdictModerate
	default:
		return VerdictWeak
	}
}

// Label renders the verdict for display.
func (v Verdict) Label() string {
	return textutil.Title(string(v))
}

// Range is a predicted interval. The pipeline never reports point estimates.
type Range struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Ordered returns the range with Low <= High, both clamped to [0, 100].
func (r Range) Ordered() Range {
	low, high := clampFloat(r.Low, 0, 100), clampFloat(r.High, 0, 100)
	if low > high {
		low, high = high, low
	}
	return Range{Low: low, High: high}
}

// Engagement holds predicted engagement percentages.
type Engagement struct {
	Retention Range `json:"retention" yaml:"retention"`
	Saves     Range `json:"saves" yaml:"saves"`
	Shares    Range `json:"shares" yaml:"shares"`
}

// Breakdown is one analyzer's structured critique.
type Breakdown struct {
	Analyzer        string           `json:"analyzer" yaml:"analyzer"`
	Score           int              `json:"score" yaml:"score"`
	Summary         string           `json:"summary,omitempty" yaml:"summary,omitempty"`
	Strengths       []string         `json:"strengths,omitempty" yaml:"strengths,omitempty"`
	Weaknesses      []string         `json:"weaknesses,omitempty" yaml:"weaknesses,omitempty"`
	MatchedPatterns []string         `json:"matchedPatterns,omitempty" yaml:"matchedPatterns,omitempty"`
	MissingPatterns []string         `json:"missingPatterns,omitempty" yaml:"missingPatterns,omitempty"`
	SceneScores     map[int]int      `json:"sceneScores,omitempty" yaml:"sceneScores,omitempty"`
	Suggestions     []Recommendation `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
}

// Details is the content-type specific part of an analysis.
type Details interface {
	ContentType() ContentType
}

// ReelDetails applies to short-form entertainment reels.
type ReelDetails struct {
	HookSeconds     float64  `json:"hookSeconds,omitempty" yaml:"hookSeconds,omitempty"`
	LoopPotential   bool     `json:"loopPotential" yaml:"loopPotential"`
	TrendingFormats []string `json:"trendingFormats,omitempty" yaml:"trendingFormats,omitempty"`
	PacingNotes     string   `json:"pacingNotes,omitempty" yaml:"pacingNotes,omitempty"`
}

func (ReelDetails) ContentType() ContentType { return ContentReel }

// NewsDetails applies to news explainers.
type NewsDetails struct {
	Headline       string   `json:"headline,omitempty" yaml:"headline,omitempty"`
	Timeliness     string   `json:"timeliness,omitempty" yaml:"timeliness,omitempty"`
	FactualClaims  []string `json:"factualClaims,omitempty" yaml:"factualClaims,omitempty"`
	SourcesCited   int      `json:"sourcesCited" yaml:"sourcesCited"`
	NeutralityNote string   `json:"neutralityNote,omitempty" yaml:"neutralityNote,omitempty"`
}

func (NewsDetails) ContentType() ContentType { return ContentNews }

// CustomDetails carries free-form fields for user-defined formats.
type CustomDetails struct {
	Format string         `json:"format,omitempty" yaml:"format,omitempty"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func (CustomDetails) ContentType() ContentType { return ContentCustom }

// Analysis is the synthesized scoring snapshot attached to a version. The
// common fields are the superset every content type shares; Details is
// discriminated by ContentType.
type Analysis struct {
	ContentType     ContentType          `json:"contentType" yaml:"contentType"`
	OverallScore    int                  `json:"overallScore" yaml:"overallScore"`
	Verdict         Verdict              `json:"verdict" yaml:"verdict"`
	Confidence      float64              `json:"confidence" yaml:"confidence"`
	Strengths       []string             `json:"strengths,omitempty" yaml:"strengths,omitempty"`
	Weaknesses      []string             `json:"weaknesses,omitempty" yaml:"weaknesses,omitempty"`
	Recommendations []Recommendation     `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	MatchedPatterns []string             `json:"matchedPatterns,omitempty" yaml:"matchedPatterns,omitempty"`
	MissingPatterns []string             `json:"missingPatterns,omitempty" yaml:"missingPatterns,omitempty"`
	Engagement      Engagement           `json:"engagement" yaml:"engagement"`
	Breakdowns      map[string]Breakdown `json:"breakdowns,omitempty" yaml:"breakdowns,omitempty"`
	SceneScores     map[int]int          `json:"sceneScores,omitempty" yaml:"sceneScores,omitempty"`
	Details         Details              `json:"details,omitempty" yaml:"details,omitempty"`
}

type analysisAlias Analysis

type analysisWire struct {
	analysisAlias
	Details json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON writes the details payload under the common envelope and
// derives contentType from it when unset.
func (a Analysis) MarshalJSON() ([]byte, error) {
	wire := analysisWire{analysisAlias: analysisAlias(a)}
	if a.Details != nil {
		if wire.ContentType == "" {
			wire.ContentType = a.Details.ContentType()
		}
		if wire.ContentType != a.Details.ContentType() {
			return nil, fmt.Errorf("analysis content type %q does not match %q details", wire.ContentType, a.Details.ContentType())
		}
		raw, err := json.Marshal(a.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal analysis details: %w", err)
		}
		wire.Details = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes details into the concrete type named by contentType.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	var wire analysisWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	contentType, err := ParseContentType(string(wire.ContentType))
	if err != nil {
		return err
	}
	*a = Analysis(wire.analysisAlias)
	a.ContentType = contentType
	a.Details = nil
	if len(wire.Details) == 0 || string(wire.Details) == "null" {
		return nil
	}
	switch contentType {
	case ContentNews:
		var details NewsDetails
		if err := json.Unmarshal(wire.Details, &details); err != nil {
			return fmt.Errorf("decode news details: %w", err)
		}
		a.Details = details
	case ContentCustom:
		var details CustomDetails
		if err := json.Unmarshal(wire.Details, &details); err != nil {
			return fmt.Errorf("decode custom details: %w", err)
		}
		a.Details = details
	default:
		var details ReelDetails
		if err := json.Unmarshal(wire.Details, &details); err != nil {
			return fmt.Errorf("decode reel details: %w", err)
		}
		a.Details = details
	}
	return nil
}

// Normalize clamps scores into range, recomputes the verdict from the
// overall score, orders engagement ranges, and ranks recommendations.
func (a *Analysis) Normalize() {
	if a.ContentType == "" {
		a.ContentType = ContentReel
		if a.Details != nil {
			a.ContentType = a.Details.ContentType()
		}
	}
	a.OverallScore = ClampScore(a.OverallScore)
	a.Verdict = VerdictFor(a.OverallScore)
	a.Confidence = clampFloat(a.Confidence, 0, 1)
	a.Engagement = Engagement{
		Retention: a.Engagement.Retention.Ordered(),
		Saves:     a.Engagement.Saves.Ordered(),
		Shares:    a.Engagement.Shares.Ordered(),
	}
	for number, score := range a.SceneScores {
		a.SceneScores[number] = ClampScore(score)
	}
	for i := range a.Recommendations {
		a.Recommendations[i].Priority = ParsePriority(string(a.Recommendations[i].Priority))
		a.Recommendations[i].Confidence = clampFloat(a.Recommendations[i].Confidence, 0, 1)
	}
	SortRecommendations(a.Recommendations)
	a.Strengths = compactStrings(a.Strengths)
	a.Weaknesses = compactStrings(a.Weaknesses)
	a.MatchedPatterns = compactStrings(a.MatchedPatterns)
	a.MissingPatterns = compactStrings(a.MissingPatterns)
}

// ClampScore bounds a score to [0, 100].
func ClampScore(score int) int {
	return max(0, min(100, score))
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || slices.Contains(out, value) {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
