package scoring

import (
	"context"
	"math"
	"strings"
	"unicode"

	"reelforge/internal/script"
	"reelforge/internal/textutil"
)

// DefaultWeights are the per-analyzer weights used by WeightedSynthesizer.
var DefaultWeights = map[script.Step]float64{
	script.StepHook:      0.35,
	script.StepStructure: 0.25,
	script.StepEmotional: 0.20,
	script.StepCTA:       0.20,
}

const loopSimilarity = 0.2

// WeightedSynthesizer combines breakdowns arithmetically. It is the offline
// counterpart to the model-backed synthesizer.
type WeightedSynthesizer struct {
	Weights map[script.Step]float64
}

// Synthesize implements Synthesizer.
func (w WeightedSynthesizer) Synthesize(ctx context.Context, in Input, breakdowns map[script.Step]script.Breakdown) (*script.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	weights := w.Weights
	if len(weights) == 0 {
		weights = DefaultWeights
	}

	var sum, total float64
	scores := make([]float64, 0, len(breakdowns))
	analysis := &script.Analysis{
		ContentType: in.ContentType,
		Breakdowns:  make(map[string]script.Breakdown, len(breakdowns)),
	}
	for _, step := range script.AnalyzerSteps {
		breakdown, ok := breakdowns[step]
		if !ok {
			continue
		}
		weight := weights[step]
		sum += weight * float64(breakdown.Score)
		total += weight
		scores = append(scores, float64(breakdown.Score))

		analysis.Breakdowns[string(step)] = breakdown
		analysis.Strengths = append(analysis.Strengths, breakdown.Strengths...)
		analysis.Weaknesses = append(analysis.Weaknesses, breakdown.Weaknesses...)
		analysis.MatchedPatterns = append(analysis.MatchedPatterns, breakdown.MatchedPatterns...)
		analysis.MissingPatterns = append(analysis.MissingPatterns, breakdown.MissingPatterns...)
		for _, rec := range breakdown.Suggestions {
			if rec.SourceAgent == "" {
				rec.SourceAgent = string(step)
			}
			analysis.Recommendations = append(analysis.Recommendations, rec)
		}
	}
	if total > 0 {
		analysis.OverallScore = int(math.Round(sum / total))
	}
	analysis.Confidence = agreement(scores)
	analysis.Engagement = engagementFor(analysis.OverallScore)
	analysis.Recommendations = dedupeRecommendations(analysis.Recommendations)
	analysis.Details = detailsFor(in, analysis.OverallScore)
	return analysis, nil
}

// agreement maps the spread of sub-scores onto a confidence value: analyzers
// that agree produce a confident overall score.
func agreement(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	stddev := math.Sqrt(variance / float64(len(scores)))
	return math.Round(max(0.3, min(0.95, 1-stddev/50))*100) / 100
}

func engagementFor(overall int) script.Engagement {
	o := float64(overall)
	return script.Engagement{
		Retention: script.Range{Low: round1(o * 0.5), High: round1(o * 0.7)},
		Saves:     script.Range{Low: round1(o / 20), High: round1(o / 12)},
		Shares:    script.Range{Low: round1(o / 30), High: round1(o / 18)},
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// dedupeRecommendations drops suggestions that propose the same text for the
// same scene, keeping the first.
func dedupeRecommendations(recs []script.Recommendation) []script.Recommendation {
	type key struct {
		scene int
		text  string
	}
	seen := make(map[key]bool, len(recs))
	out := recs[:0]
	for _, rec := range recs {
		k := key{rec.SceneNumber, textutil.Canonical(rec.SuggestedText)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rec)
	}
	return out
}

func detailsFor(in Input, overall int) script.Details {
	scenes := sceneList(in)
	first, last := scenes[0], scenes[len(scenes)-1]
	switch in.ContentType {
	case script.ContentNews:
		details := script.NewsDetails{Headline: firstSentence(first.Text)}
		for _, scene := range scenes {
			lower := strings.ToLower(scene.Text)
			details.SourcesCited += strings.Count(lower, "according to")
			if strings.ContainsFunc(scene.Text, unicode.IsDigit) {
				details.FactualClaims = append(details.FactualClaims, firstSentence(scene.Text))
			}
		}
		if details.SourcesCited == 0 && len(details.FactualClaims) > 0 {
			details.NeutralityNote = "Claims are stated without attribution"
		}
		return details
	case script.ContentCustom:
		return script.CustomDetails{
			Format: "custom",
			Fields: map[string]any{"scenes": len(scenes), "overallScore": overall},
		}
	default:
		details := script.ReelDetails{
			HookSeconds:   first.DurationSeconds,
			LoopPotential: len(scenes) > 1 && textutil.Similarity(first.Text, last.Text) >= loopSimilarity,
		}
		if total := scenes.TotalDuration(); total > 0 {
			details.PacingNotes = pacingNote(total / float64(len(scenes)))
		}
		return details
	}
}

func pacingNote(avg float64) string {
	switch {
	case avg <= 3:
		return "fast cuts"
	case avg <= 7:
		return "steady pacing"
	default:
		return "slow scenes"
	}
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	return text
}
