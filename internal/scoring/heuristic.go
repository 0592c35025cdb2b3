package scoring

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"reelforge/internal/script"
	"reelforge/internal/textutil"
)

var (
	hookOpeners = map[string]bool{
		"stop": true, "wait": true, "why": true, "what": true, "how": true,
		"imagine": true, "ever": true, "nobody": true, "secret": true,
		"this": true, "here's": true, "pov": true, "never": true,
	}
	secondPerson = map[string]bool{"you": true, "your": true, "you're": true, "yours": true}
	emotionWords = map[string]bool{
		"love": true, "hate": true, "fear": true, "shocked": true, "surprised": true,
		"amazing": true, "incredible": true, "angry": true, "heartbreaking": true,
		"happy": true, "sad": true, "scared": true, "crazy": true, "insane": true,
		"beautiful": true, "worst": true, "best": true, "unbelievable": true,
		"proud": true, "honestly": true, "finally": true, "changed": true,
	}
	ctaVerbs = map[string]bool{
		"follow": true, "comment": true, "share": true, "save": true,
		"subscribe": true, "like": true, "tag": true, "click": true,
		"link": true, "try": true, "download": true, "join": true,
	}
)

const (
	hookIdealWords   = 12
	hookMaxWords     = 20
	longSceneWords   = 40
	trimmedWords     = 30
	minScenes        = 3
	maxScenes        = 8
	minTotalDuration = 15.0
	maxTotalDuration = 60.0
	ctaSuffix        = "Follow for more."
)

// HeuristicAnalyzers returns offline analyzers for every analyzer step. They
// score from surface features of the text and never call out to a model.
func HeuristicAnalyzers() []Analyzer {
	return []Analyzer{
		AnalyzerFunc{Name: script.StepHook, Fn: analyzeHook},
		AnalyzerFunc{Name: script.StepStructure, Fn: analyzeStructure},
		AnalyzerFunc{Name: script.StepEmotional, Fn: analyzeEmotional},
		AnalyzerFunc{Name: script.StepCTA, Fn: analyzeCTA},
	}
}

func analyzeHook(ctx context.Context, in Input) (script.Breakdown, error) {
	if err := ctx.Err(); err != nil {
		return script.Breakdown{}, err
	}
	scenes := sceneList(in)
	opening := scenes[0]
	words := lowerWords(opening.Text)
	out := script.Breakdown{Summary: "Opening line strength"}

	score := 40
	if len(words) > 0 && hookOpeners[words[0]] {
		score += 10
		out.MatchedPatterns = append(out.MatchedPatterns, "pattern interrupt opener")
	} else {
		out.MissingPatterns = append(out.MissingPatterns, "pattern interrupt opener")
	}
	if containsAny(words, secondPerson) {
		score += 15
		out.Strengths = append(out.Strengths, "Hook speaks directly to the viewer")
	} else {
		out.Weaknesses = append(out.Weaknesses, "Hook does not address the viewer")
	}
	question := strings.Contains(opening.Text, "?")
	if question {
		score += 15
		out.MatchedPatterns = append(out.MatchedPatterns, "open question")
	}
	if strings.ContainsFunc(opening.Text, unicode.IsDigit) {
		score += 10
		out.MatchedPatterns = append(out.MatchedPatterns, "specific number")
	}
	switch n := len(words); {
	case n <= hookIdealWords:
		score += 10
		out.Strengths = append(out.Strengths, "Hook is short enough to land in the first seconds")
	case n > hookMaxWords:
		score -= 15
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("Hook runs %d words", n))
	}
	out.Score = script.ClampScore(score)
	out.SceneScores = map[int]int{opening.SceneNumber: out.Score}

	if out.Score < 70 {
		suggested := opening.Text
		switch {
		case len(words) > hookMaxWords:
			suggested = firstWords(opening.Text, hookIdealWords)
		case !question:
			suggested = "Did you know this? " + opening.Text
		default:
			suggested = "Stop scrolling. " + opening.Text
		}
		out.Suggestions = append(out.Suggestions, script.Recommendation{
			SceneNumber:    opening.SceneNumber,
			Priority:       priorityFor(out.Score),
			Area:           string(script.StepHook),
			CurrentText:    opening.Text,
			SuggestedText:  suggested,
			Reasoning:      "Viewers decide within the first seconds whether to keep watching.",
			ExpectedImpact: "Higher early retention",
			ScoreDelta:     deltaFor(out.Score),
			Confidence:     0.6,
		})
	}
	return out, nil
}

func analyzeStructure(ctx context.Context, in Input) (script.Breakdown, error) {
	if err := ctx.Err(); err != nil {
		return script.Breakdown{}, err
	}
	scenes := sceneList(in)
	out := script.Breakdown{Summary: "Scene count, pacing, and length", SceneScores: make(map[int]int, len(scenes))}

	score := 0
	if n := len(scenes); n >= minScenes && n <= maxScenes {
		score += 30
		out.Strengths = append(out.Strengths, fmt.Sprintf("%d scenes keep the pacing tight", n))
	} else {
		score += 10
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("%d scenes is outside the %d-%d range", n, minScenes, maxScenes))
	}
	total := scenes.TotalDuration()
	switch {
	case total == 0:
		score += 15
	case total >= minTotalDuration && total <= maxTotalDuration:
		score += 30
		out.MatchedPatterns = append(out.MatchedPatterns, "short-form runtime")
	default:
		score += 5
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("Runtime of %.0fs is outside %.0f-%.0fs", total, minTotalDuration, maxTotalDuration))
	}

	pacing := 40
	for _, scene := range scenes {
		words := textutil.WordCount(scene.Text)
		sceneScore := 90
		if words > longSceneWords {
			pacing -= 10
			sceneScore = 50
			out.Suggestions = append(out.Suggestions, script.Recommendation{
				SceneNumber:    scene.SceneNumber,
				Priority:       script.PriorityMedium,
				Area:           string(script.StepStructure),
				CurrentText:    scene.Text,
				SuggestedText:  firstWords(scene.Text, trimmedWords),
				Reasoning:      fmt.Sprintf("Scene runs %d words; long scenes stall the pacing.", words),
				ExpectedImpact: "Better completion rate",
				ScoreDelta:     8,
				Confidence:     0.55,
			})
		}
		out.SceneScores[scene.SceneNumber] = sceneScore
	}
	if pacing == 40 {
		out.MatchedPatterns = append(out.MatchedPatterns, "tight scenes")
	} else {
		out.MissingPatterns = append(out.MissingPatterns, "tight scenes")
	}
	score += max(pacing, 0)
	out.Score = script.ClampScore(score)
	return out, nil
}

func analyzeEmotional(ctx context.Context, in Input) (script.Breakdown, error) {
	if err := ctx.Err(); err != nil {
		return script.Breakdown{}, err
	}
	scenes := sceneList(in)
	out := script.Breakdown{Summary: "Emotional pull", SceneScores: make(map[int]int, len(scenes))}

	totalHits, exclaims, addressed := 0, 0, false
	flattest, flattestScore := -1, 101
	for i, scene := range scenes {
		words := lowerWords(scene.Text)
		hits := countIn(words, emotionWords)
		bangs := strings.Count(scene.Text, "!")
		you := containsAny(words, secondPerson)
		totalHits += hits
		exclaims += bangs
		addressed = addressed || you

		sceneScore := 40 + 15*min(hits, 3) + 5*min(bangs, 2)
		if you {
			sceneScore += 10
		}
		sceneScore = script.ClampScore(sceneScore)
		out.SceneScores[scene.SceneNumber] = sceneScore
		if i > 0 && i < len(scenes)-1 && sceneScore < flattestScore {
			flattest, flattestScore = i, sceneScore
		}
	}

	score := 35 + min(8*totalHits, 40) + min(5*exclaims, 15)
	if addressed {
		score += 10
	}
	out.Score = script.ClampScore(score)
	if totalHits > 0 {
		out.Strengths = append(out.Strengths, "Uses emotionally charged language")
		out.MatchedPatterns = append(out.MatchedPatterns, "emotional trigger")
	} else {
		out.Weaknesses = append(out.Weaknesses, "Script reads flat; no emotional beat")
		out.MissingPatterns = append(out.MissingPatterns, "emotional trigger")
	}

	if flattest >= 0 && flattestScore < 55 {
		scene := scenes[flattest]
		out.Suggestions = append(out.Suggestions, script.Recommendation{
			SceneNumber:    scene.SceneNumber,
			Priority:       script.PriorityMedium,
			Area:           string(script.StepEmotional),
			CurrentText:    scene.Text,
			SuggestedText:  strings.TrimSpace(scene.Text) + " Honestly, that changed everything.",
			Reasoning:      "The middle of the script has no emotional beat to carry viewers through.",
			ExpectedImpact: "More shares",
			ScoreDelta:     7,
			Confidence:     0.45,
		})
	}
	return out, nil
}

func analyzeCTA(ctx context.Context, in Input) (script.Breakdown, error) {
	if err := ctx.Err(); err != nil {
		return script.Breakdown{}, err
	}
	scenes := sceneList(in)
	closing := scenes[len(scenes)-1]
	words := lowerWords(closing.Text)
	out := script.Breakdown{Summary: "Call to action"}

	score := 30
	if containsAny(words, ctaVerbs) {
		score = 80
		out.Strengths = append(out.Strengths, "Ends with a clear call to action")
		out.MatchedPatterns = append(out.MatchedPatterns, "explicit call to action")
		if containsAny(words, secondPerson) {
			score += 10
		}
	} else {
		out.Weaknesses = append(out.Weaknesses, "No call to action in the final scene")
		out.MissingPatterns = append(out.MissingPatterns, "explicit call to action")
		out.Suggestions = append(out.Suggestions, script.Recommendation{
			SceneNumber:    closing.SceneNumber,
			Priority:       script.PriorityHigh,
			Area:           string(script.StepCTA),
			CurrentText:    closing.Text,
			SuggestedText:  strings.TrimSpace(closing.Text) + " " + ctaSuffix,
			Reasoning:      "Viewers who finish the video need a next step.",
			ExpectedImpact: "More follows",
			ScoreDelta:     12,
			Confidence:     0.7,
		})
	}
	out.Score = script.ClampScore(score)
	out.SceneScores = map[int]int{closing.SceneNumber: out.Score}
	return out, nil
}

// sceneList returns the input scenes, or the text as a single scene when the
// caller supplied only a full script.
func sceneList(in Input) script.Scenes {
	if len(in.Scenes) > 0 {
		return in.Scenes.Clone()
	}
	return script.Scenes{{SceneNumber: 1, Text: in.Text()}}
}

func lowerWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsAny(words []string, set map[string]bool) bool {
	return countIn(words, set) > 0
}

func countIn(words []string, set map[string]bool) int {
	n := 0
	for _, w := range words {
		if set[w] {
			n++
		}
	}
	return n
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.TrimSpace(text)
	}
	return strings.TrimRight(strings.Join(words[:n], " "), ",;:") + "."
}

func priorityFor(score int) script.Priority {
	if score < 50 {
		return script.PriorityHigh
	}
	return script.PriorityMedium
}

// deltaFor estimates how many points a fix could recover for a sub-score.
func deltaFor(score int) float64 {
	return float64(80-script.ClampScore(score)) / 3
}
