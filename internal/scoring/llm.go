package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"reelforge/internal/script"
)

const maxPromptChars = 12000

// Completer is the slice of the LLM client the scoring package needs.
type Completer interface {
	CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) error
}

type llmSceneScore struct {
	SceneNumber int `json:"sceneNumber"`
	Score       int `json:"score"`
}

type llmSuggestion struct {
	SceneNumber    int     `json:"sceneNumber"`
	Priority       string  `json:"priority"`
	Area           string  `json:"area"`
	SuggestedText  string  `json:"suggestedText"`
	Reasoning      string  `json:"reasoning"`
	ExpectedImpact string  `json:"expectedImpact"`
	ScoreDelta     float64 `json:"scoreDelta"`
	Confidence     float64 `json:"confidence"`
	SourceAgent    string  `json:"sourceAgent"`
}

func (s llmSuggestion) recommendation(source string) script.Recommendation {
	if s.SourceAgent != "" {
		source = s.SourceAgent
	}
	return script.Recommendation{
		SceneNumber:    s.SceneNumber,
		Priority:       script.ParsePriority(s.Priority),
		Area:           strings.TrimSpace(s.Area),
		SuggestedText:  strings.TrimSpace(s.SuggestedText),
		Reasoning:      strings.TrimSpace(s.Reasoning),
		ExpectedImpact: strings.TrimSpace(s.ExpectedImpact),
		ScoreDelta:     s.ScoreDelta,
		Confidence:     s.Confidence,
		SourceAgent:    source,
	}
}

type llmBreakdown struct {
	Score           *int            `json:"score"`
	Summary         string          `json:"summary"`
	Strengths       []string        `json:"strengths"`
	Weaknesses      []string        `json:"weaknesses"`
	MatchedPatterns []string        `json:"matchedPatterns"`
	MissingPatterns []string        `json:"missingPatterns"`
	SceneScores     []llmSceneScore `json:"sceneScores"`
	Suggestions     []llmSuggestion `json:"suggestions"`
}

// LLMAnalyzer asks the model to critique one aspect of the script.
type LLMAnalyzer struct {
	step   script.Step
	client Completer
}

// LLMAnalyzers returns a model-backed analyzer for every analyzer step.
func LLMAnalyzers(client Completer) []Analyzer {
	out := make([]Analyzer, 0, len(script.AnalyzerSteps))
	for _, step := range script.AnalyzerSteps {
		out = append(out, &LLMAnalyzer{step: step, client: client})
	}
	return out
}

func (a *LLMAnalyzer) Step() script.Step { return a.step }

func (a *LLMAnalyzer) Analyze(ctx context.Context, in Input) (script.Breakdown, error) {
	var resp llmBreakdown
	if err := a.client.CompleteInto(ctx, analyzerPrompts[a.step], buildScriptPrompt(in), &resp); err != nil {
		return script.Breakdown{}, err
	}
	if resp.Score == nil {
		return script.Breakdown{}, fmt.Errorf("%s analyzer: response missing score", a.step)
	}
	out := script.Breakdown{
		Analyzer:        string(a.step),
		Score:           script.ClampScore(*resp.Score),
		Summary:         strings.TrimSpace(resp.Summary),
		Strengths:       resp.Strengths,
		Weaknesses:      resp.Weaknesses,
		MatchedPatterns: resp.MatchedPatterns,
		MissingPatterns: resp.MissingPatterns,
	}
	if len(resp.SceneScores) > 0 {
		out.SceneScores = make(map[int]int, len(resp.SceneScores))
		for _, s := range resp.SceneScores {
			out.SceneScores[s.SceneNumber] = script.ClampScore(s.Score)
		}
	}
	for _, s := range resp.Suggestions {
		out.Suggestions = append(out.Suggestions, s.recommendation(string(a.step)))
	}
	return out, nil
}

type llmSynthesis struct {
	OverallScore    *int              `json:"overallScore"`
	Confidence      float64           `json:"confidence"`
	Strengths       []string          `json:"strengths"`
	Weaknesses      []string          `json:"weaknesses"`
	MatchedPatterns []string          `json:"matchedPatterns"`
	MissingPatterns []string          `json:"missingPatterns"`
	Engagement      script.Engagement `json:"engagement"`
	Recommendations []llmSuggestion   `json:"recommendations"`
	Details         json.RawMessage   `json:"details"`
}

// LLMSynthesizer asks the model to combine the analyzer critiques.
type LLMSynthesizer struct {
	client Completer
}

// NewLLMSynthesizer wraps client.
func NewLLMSynthesizer(client Completer) *LLMSynthesizer {
	return &LLMSynthesizer{client: client}
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, in Input, breakdowns map[script.Step]script.Breakdown) (*script.Analysis, error) {
	critiques := make(map[string]script.Breakdown, len(breakdowns))
	for step, b := range breakdowns {
		critiques[string(step)] = b
	}
	encoded, err := json.Marshal(critiques)
	if err != nil {
		return nil, fmt.Errorf("encode critiques: %w", err)
	}
	prompt := buildScriptPrompt(in) + "\n\n=== CRITIQUES ===\n" + string(encoded)

	var resp llmSynthesis
	if err := s.client.CompleteInto(ctx, SynthesisPrompt, prompt, &resp); err != nil {
		return nil, err
	}
	if resp.OverallScore == nil {
		return nil, fmt.Errorf("synthesizer: response missing overallScore")
	}
	analysis := &script.Analysis{
		ContentType:     in.ContentType,
		OverallScore:    *resp.OverallScore,
		Confidence:      resp.Confidence,
		Strengths:       resp.Strengths,
		Weaknesses:      resp.Weaknesses,
		MatchedPatterns: resp.MatchedPatterns,
		MissingPatterns: resp.MissingPatterns,
		Engagement:      resp.Engagement,
	}
	for _, rec := range resp.Recommendations {
		analysis.Recommendations = append(analysis.Recommendations, rec.recommendation(string(script.StepSynthesis)))
	}
	details, err := decodeDetails(in.ContentType, resp.Details)
	if err != nil {
		return nil, err
	}
	analysis.Details = details
	return analysis, nil
}

func decodeDetails(contentType script.ContentType, raw json.RawMessage) (script.Details, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var target script.Details
	switch contentType {
	case script.ContentNews:
		target = &script.NewsDetails{}
	case script.ContentCustom:
		target = &script.CustomDetails{}
	default:
		target = &script.ReelDetails{}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("synthesizer: decode %s details: %w", contentType, err)
	}
	switch d := target.(type) {
	case *script.NewsDetails:
		return *d, nil
	case *script.CustomDetails:
		return *d, nil
	case *script.ReelDetails:
		return *d, nil
	}
	return nil, nil
}

// buildScriptPrompt renders the user content shared by every model call.
func buildScriptPrompt(in Input) string {
	text := in.Text()
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Content type: %s\n", in.ContentType)
	if len(in.Scenes) > 0 {
		fmt.Fprintf(&b, "Scenes: %d\n", len(in.Scenes))
		if total := in.Scenes.TotalDuration(); total > 0 {
			fmt.Fprintf(&b, "Runtime: %.0fs\n", total)
		}
	}
	b.WriteString("\n=== SCRIPT ===\n")
	b.WriteString(text)
	return b.String()
}
