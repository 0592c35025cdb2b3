package api

import (
	"math"
	"slices"

	"reelforge/internal/script"
	"reelforge/internal/textutil"
)

// Compare diffs target against base. Scenes correspond by scene number
// only; a renumbered scene shows up as one removal plus one addition.
func Compare(base, target *script.Version) *Comparison {
	cmp := &Comparison{
		Base:      summarize(base),
		Candidate: summarize(target),
	}
	cmp.Deltas.Overall = intDelta(base.AnalysisScore, target.AnalysisScore)
	cmp.Deltas.Analyzers = analyzerDeltas(base.Analysis, target.Analysis)
	cmp.Deltas.DurationChange = round2(target.Scenes.TotalDuration() - base.Scenes.TotalDuration())

	numbers := append(base.Scenes.Numbers(), target.Scenes.Numbers()...)
	slices.Sort(numbers)
	numbers = slices.Compact(numbers)

	cmp.Deltas.Scenes = make([]SceneDelta, 0, len(numbers))
	for _, n := range numbers {
		before, inBase := base.Scenes.Find(n)
		after, inTarget := target.Scenes.Find(n)
		delta := SceneDelta{SceneNumber: n, BaseText: before.Text, TargetText: after.Text}
		switch {
		case inBase && inTarget && textutil.EqualText(before.Text, after.Text):
			delta.Status = SceneUnchanged
			delta.Similarity = 1
			delta.TargetText = ""
		case inBase && inTarget:
			delta.Status = SceneChanged
			delta.Similarity = round2(textutil.Similarity(before.Text, after.Text))
		case inTarget:
			delta.Status = SceneAdded
		default:
			delta.Status = SceneRemoved
		}
		if delta.Status != SceneUnchanged {
			cmp.Deltas.ChangedScenes++
		}
		if inBase && inTarget {
			delta.ScoreDelta = intDelta(sceneScore(base.Analysis, n), sceneScore(target.Analysis, n))
		}
		cmp.Deltas.Scenes = append(cmp.Deltas.Scenes, delta)
	}
	return cmp
}

func sceneScore(analysis *script.Analysis, n int) *int {
	if analysis == nil {
		return nil
	}
	score, ok := analysis.SceneScores[n]
	if !ok {
		return nil
	}
	return &score
}

func analyzerDeltas(base, target *script.Analysis) map[string]int {
	if base == nil || target == nil {
		return nil
	}
	out := make(map[string]int)
	for name, after := range target.Breakdowns {
		if before, ok := base.Breakdowns[name]; ok {
			out[name] = after.Score - before.Score
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func intDelta(base, target *int) *int {
	if base == nil || target == nil {
		return nil
	}
	d := *target - *base
	return &d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
