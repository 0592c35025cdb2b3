package script_test

import (
	"encoding/json"
	"errors"
	"testing"

	"reelforge/internal/script"
	"reelforge/internal/services"
)

func threeScenes() script.Scenes {
	return script.Scenes{
		{SceneNumber: 2, Text: "Here is the twist nobody expects.", DurationSeconds: 6},
		{SceneNumber: 1, Text: "Stop scrolling: this changes everything.", DurationSeconds: 3},
		{SceneNumber: 3, Text: "Follow for part two.", DurationSeconds: 4},
	}
}

func TestScenesValidate(t *testing.T) {
	if err := threeScenes().Validate(); err != nil {
		t.Fatalf("expected valid scenes, got %v", err)
	}
	cases := map[string]script.Scenes{
		"empty":     {},
		"zero":      {{SceneNumber: 0, Text: "x"}},
		"duplicate": {{SceneNumber: 1, Text: "a"}, {SceneNumber: 1, Text: "b"}},
		"blank":     {{SceneNumber: 1, Text: "   "}},
		"negative":  {{SceneNumber: 1, Text: "a", DurationSeconds: -1}},
	}
	for name, scenes := range cases {
		err := scenes.Validate()
		if !errors.Is(err, services.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestContentHashIgnoresWhitespaceAndOrder(t *testing.T) {
	a := threeScenes()
	b := threeScenes().Clone()
	b[0].Text = "  Stop   scrolling:\nthis changes everything. "
	if a.ContentHash() != b.ContentHash() {
		t.Fatal("expected whitespace-only edits and input order to keep the hash")
	}
	c, ok := a.WithText(3, "Follow for part three.")
	if !ok {
		t.Fatal("expected scene 3 to exist")
	}
	if a.ContentHash() == c.ContentHash() {
		t.Fatal("expected text change to alter the hash")
	}
}

func TestWithTextLeavesReceiverUntouched(t *testing.T) {
	original := threeScenes()
	edited, ok := original.WithText(2, "A sharper twist.")
	if !ok {
		t.Fatal("expected scene 2")
	}
	if scene, _ := original.Find(2); scene.Text != "Here is the twist nobody expects." {
		t.Fatalf("receiver mutated: %q", scene.Text)
	}
	if scene, _ := edited.Find(2); scene.Text != "A sharper twist." {
		t.Fatalf("edit missing: %q", scene.Text)
	}
	if _, ok := original.WithText(9, "nope"); ok {
		t.Fatal("expected missing scene to report false")
	}
	if got := edited.Numbers(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestFullTextOrdersScenes(t *testing.T) {
	text := threeScenes().FullText()
	want := "[Scene 1] Stop scrolling: this changes everything.\n\n[Scene 2] Here is the twist nobody expects.\n\n[Scene 3] Follow for part two."
	if text != want {
		t.Fatalf("unexpected full text:\n%s", text)
	}
	if total := threeScenes().TotalDuration(); total != 13 {
		t.Fatalf("expected 13s total, got %v", total)
	}
}

func TestEligibility(t *testing.T) {
	high := script.Recommendation{ID: 1, Priority: script.PriorityHigh, ScoreDelta: 8}
	low := script.Recommendation{ID: 2, Priority: script.PriorityLow, ScoreDelta: 10}
	critical := script.Recommendation{ID: 3, Priority: script.PriorityCritical, ScoreDelta: 12}
	small := script.Recommendation{ID: 4, Priority: script.PriorityMedium, ScoreDelta: 5.9}
	if !high.Eligible(6) {
		t.Error("high priority with delta 8 should be eligible")
	}
	if low.Eligible(6) {
		t.Error("low priority must not be eligible regardless of delta")
	}
	if critical.Eligible(6) {
		t.Error("only high and medium priorities are eligible")
	}
	if small.Eligible(6) {
		t.Error("delta below threshold must not be eligible")
	}
}

func TestSortRecommendations(t *testing.T) {
	recs := []script.Recommendation{
		{ID: 1, Priority: script.PriorityLow, ScoreDelta: 20, SceneNumber: 1},
		{ID: 2, Priority: script.PriorityHigh, ScoreDelta: 4, SceneNumber: 2},
		{ID: 3, Priority: script.PriorityHigh, ScoreDelta: 9, SceneNumber: 3},
		{ID: 4, Priority: script.PriorityCritical, ScoreDelta: 1, SceneNumber: 1},
	}
	script.SortRecommendations(recs)
	want := []int64{4, 3, 2, 1}
	for i, rec := range recs {
		if rec.ID != want[i] {
			t.Fatalf("position %d: got id %d want %d", i, rec.ID, want[i])
		}
	}
}

func TestVerdictTiers(t *testing.T) {
	cases := map[int]script.Verdict{
		100: script.VerdictViral,
		90:  script.VerdictViral,
		89:  script.VerdictStrong,
		70:  script.VerdictStrong,
		69:  script.VerdictModerate,
		50:  script.VerdictModerate,
		49:  script.VerdictWeak,
		0:   script.VerdictWeak,
	}
	for score, want := range cases {
		if got := script.VerdictFor(score); got != want {
			t.Errorf("score %d: got %s want %s", score, got, want)
		}
	}
	if script.VerdictStrong.Label() != "Strong" {
		t.Errorf("unexpected label %q", script.VerdictStrong.Label())
	}
}

func TestAnalysisJSONKeepsDetailsType(t *testing.T) {
	in := script.Analysis{
		OverallScore: 74,
		Verdict:      script.VerdictStrong,
		SceneScores:  map[int]int{1: 80, 2: 60},
		Details:      script.NewsDetails{Headline: "Rates cut", SourcesCited: 2},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out script.Analysis
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ContentType != script.ContentNews {
		t.Fatalf("expected news content type, got %q", out.ContentType)
	}
	news, ok := out.Details.(script.NewsDetails)
	if !ok {
		t.Fatalf("expected NewsDetails, got %T", out.Details)
	}
	if news.Headline != "Rates cut" || news.SourcesCited != 2 {
		t.Fatalf("unexpected details %+v", news)
	}
	if out.SceneScores[2] != 60 {
		t.Fatalf("scene scores lost: %v", out.SceneScores)
	}
}

func TestAnalysisJSONRejectsMismatchedDetails(t *testing.T) {
	in := script.Analysis{ContentType: script.ContentReel, Details: script.CustomDetails{Format: "listicle"}}
	if _, err := json.Marshal(in); err == nil {
		t.Fatal("expected mismatch error")
	}
	var out script.Analysis
	if err := json.Unmarshal([]byte(`{"contentType":"podcast"}`), &out); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestAnalysisNormalize(t *testing.T) {
	a := script.Analysis{
		OverallScore: 140,
		Verdict:      script.VerdictWeak,
		Confidence:   3,
		Engagement:   script.Engagement{Retention: script.Range{Low: 70, High: 40}},
		SceneScores:  map[int]int{1: -5},
		Strengths:    []string{"hook", " hook ", ""},
		Recommendations: []script.Recommendation{
			{SceneNumber: 2, Priority: "LOW"},
			{SceneNumber: 1, Priority: "High"},
		},
	}
	a.Normalize()
	if a.OverallScore != 100 || a.Verdict != script.VerdictViral {
		t.Fatalf("unexpected score/verdict %d/%s", a.OverallScore, a.Verdict)
	}
	if a.Confidence != 1 {
		t.Fatalf("confidence not clamped: %v", a.Confidence)
	}
	if r := a.Engagement.Retention; r.Low != 40 || r.High != 70 {
		t.Fatalf("range not ordered: %+v", r)
	}
	if a.SceneScores[1] != 0 {
		t.Fatalf("scene score not clamped: %v", a.SceneScores)
	}
	if len(a.Strengths) != 1 {
		t.Fatalf("strengths not compacted: %v", a.Strengths)
	}
	if a.Recommendations[0].Priority != script.PriorityHigh {
		t.Fatalf("recommendations not ranked: %+v", a.Recommendations)
	}
	if a.ContentType != script.ContentReel {
		t.Fatalf("expected default content type, got %q", a.ContentType)
	}
}

func TestConflictErrorClassifies(t *testing.T) {
	err := error(&script.ConflictError{Job: script.Job{JobID: "j1", ProjectID: "p", Status: script.JobRunning}})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatal("expected conflict marker")
	}
	conflict, ok := script.AsConflict(err)
	if !ok || conflict.Job.JobID != "j1" {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
	if services.Retryable(script.ErrNoCandidate) {
		t.Fatal("invalid state must not be retryable")
	}
}
