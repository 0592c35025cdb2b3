package store_test

import (
	"context"
	"errors"
	"testing"

	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
	"reelforge/internal/testsupport"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func assertInvariants(t *testing.T, st *store.Store, projectID string) {
	t.Helper()
	versions, err := st.ListVersions(context.Background(), projectID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) == 0 {
		return
	}
	var current, candidates int
	for i, v := range versions {
		if v.IsCurrent {
			current++
		}
		if v.IsCandidate {
			candidates++
		}
		want := len(versions) - i
		if v.VersionNumber != want {
			t.Fatalf("version numbers not gap-free: position %d has %d, want %d", i, v.VersionNumber, want)
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current version, got %d", current)
	}
	if candidates > 1 {
		t.Fatalf("expected at most one candidate, got %d", candidates)
	}
}

func addRecommendations(t *testing.T, st *store.Store, projectID string, recs []script.Recommendation) *script.Version {
	t.Helper()
	ctx := context.Background()
	current, err := st.CurrentVersion(ctx, projectID)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	v, err := st.CreateVersion(ctx, script.NewVersion{
		ProjectID:       projectID,
		ParentVersionID: &current.ID,
		Scenes:          current.Scenes,
		CreatedBy:       script.CreatedByAI,
		Recommendations: recs,
		Slot:            script.SlotCurrent,
	})
	if err != nil {
		t.Fatalf("CreateVersion with recommendations: %v", err)
	}
	return v
}

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.CurrentVersion(context.Background(), "p1"); err != nil {
		t.Fatalf("expected data to survive reopen: %v", err)
	}
	if reopened.Path() != cfg.DatabasePath() {
		t.Fatalf("unexpected path %q", reopened.Path())
	}
}

func TestCreateVersionAssignsNumbersAndMovesCurrent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	if v1.VersionNumber != 1 || !v1.IsCurrent || v1.ParentVersionID != nil {
		t.Fatalf("unexpected first version %+v", v1)
	}
	if v1.Provenance.Source != script.SourceInitial || v1.Provenance.At.IsZero() {
		t.Fatalf("unexpected provenance %+v", v1.Provenance)
	}

	edited, _ := v1.Scenes.WithText(2, "Boiling water scorches the grounds.")
	v2, err := st.CreateVersion(ctx, script.NewVersion{
		ProjectID: "p1",
		Scenes:    edited,
		Slot:      script.SlotCurrent,
	})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v2.VersionNumber != 2 || v2.ParentVersionID == nil || *v2.ParentVersionID != v1.ID {
		t.Fatalf("unexpected second version %+v", v2)
	}

	old, err := st.GetVersion(ctx, "p1", v1.ID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if old.IsCurrent {
		t.Fatal("expected v1 to be demoted")
	}
	if scene, _ := old.Scenes.Find(2); scene.Text == "Boiling water scorches the grounds." {
		t.Fatal("existing snapshot must not change")
	}
	assertInvariants(t, st, "p1")

	// Projects are independent.
	other := testsupport.SeedProject(t, st, "p2", testsupport.Scenes("only scene"))
	if other.VersionNumber != 1 {
		t.Fatalf("expected p2 to start at 1, got %d", other.VersionNumber)
	}
}

func TestCreateVersionRejectsInvalidInput(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	_, err := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Slot: script.SlotCurrent})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty scenes, got %v", err)
	}
	_, err = st.CreateVersion(ctx, script.NewVersion{ProjectID: " ", Scenes: testsupport.Scenes("x"), Slot: script.SlotCurrent})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank project, got %v", err)
	}
}

func TestCreateVersionStaleParentIsConflict(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	if _, err := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("a"), Slot: script.SlotCurrent}); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	_, err := st.CreateVersion(ctx, script.NewVersion{
		ProjectID:       "p1",
		ParentVersionID: &v1.ID,
		Scenes:          testsupport.Scenes("b"),
		Slot:            script.SlotCurrent,
	})
	if !errors.Is(err, script.ErrConcurrentModification) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected concurrent modification conflict, got %v", err)
	}
	assertInvariants(t, st, "p1")
}

func TestCandidateSlotIsExclusive(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())

	cand := func(text string, supersede bool) (*script.Version, error) {
		return st.CreateVersion(ctx, script.NewVersion{
			ProjectID:          "p1",
			Scenes:             testsupport.Scenes(text),
			CreatedBy:          script.CreatedByAI,
			Slot:               script.SlotCandidate,
			SupersedeCandidate: supersede,
			Recommendations:    []script.Recommendation{{SceneNumber: 1, Priority: script.PriorityHigh, SuggestedText: "x", ScoreDelta: 7}},
		})
	}
	first, err := cand("first", false)
	if err != nil {
		t.Fatalf("first candidate: %v", err)
	}
	if _, err := cand("second", false); !errors.Is(err, script.ErrCandidateExists) {
		t.Fatalf("expected ErrCandidateExists, got %v", err)
	}
	second, err := cand("second", true)
	if err != nil {
		t.Fatalf("superseding candidate: %v", err)
	}
	if second.VersionNumber != first.VersionNumber {
		t.Fatalf("expected superseding candidate to reuse number %d, got %d", first.VersionNumber, second.VersionNumber)
	}
	if _, err := st.GetVersion(ctx, "p1", first.ID); !errors.Is(err, script.ErrVersionNotFound) {
		t.Fatalf("expected superseded candidate to be gone, got %v", err)
	}
	if _, err := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("edit"), Slot: script.SlotCurrent}); !errors.Is(err, script.ErrCandidatePending) {
		t.Fatalf("expected ErrCandidatePending, got %v", err)
	}
	assertInvariants(t, st, "p1")
}

func TestCandidateRequiresExistingProject(t *testing.T) {
	st := newStore(t)
	_, err := st.CreateVersion(context.Background(), script.NewVersion{
		ProjectID: "ghost",
		Scenes:    testsupport.Scenes("a"),
		Slot:      script.SlotCandidate,
	})
	if !errors.Is(err, script.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestAcceptCandidate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())

	if _, err := st.AcceptCandidate(ctx, "p1", v1.ID); !errors.Is(err, script.ErrNotCandidate) {
		t.Fatalf("expected ErrNotCandidate for current version, got %v", err)
	}

	v2, err := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("new"), Slot: script.SlotCandidate})
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	accepted, err := st.AcceptCandidate(ctx, "p1", v2.ID)
	if err != nil {
		t.Fatalf("AcceptCandidate: %v", err)
	}
	if !accepted.IsCurrent || accepted.IsCandidate {
		t.Fatalf("unexpected flags %+v", accepted)
	}
	old, _ := st.GetVersion(ctx, "p1", v1.ID)
	if old.IsCurrent {
		t.Fatal("expected v1 to become history")
	}
	if _, err := st.AcceptCandidate(ctx, "p1", v2.ID); !errors.Is(err, script.ErrNotCandidate) {
		t.Fatalf("expected second accept to fail, got %v", err)
	}
	if _, err := st.AcceptCandidate(ctx, "other", v2.ID); !errors.Is(err, script.ErrVersionNotFound) {
		t.Fatalf("expected cross-project accept to be not found, got %v", err)
	}
	assertInvariants(t, st, "p1")
}

func TestRejectCandidateCascadesRecommendations(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())

	if _, err := st.RejectCandidate(ctx, "p1"); !errors.Is(err, script.ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}

	cand, err := st.CreateVersion(ctx, script.NewVersion{
		ProjectID: "p1",
		Scenes:    testsupport.Scenes("candidate"),
		Slot:      script.SlotCandidate,
		Recommendations: []script.Recommendation{
			{SceneNumber: 1, Priority: script.PriorityHigh, SuggestedText: "a", ScoreDelta: 8},
			{SceneNumber: 1, Priority: script.PriorityLow, SuggestedText: "b", ScoreDelta: 2},
		},
	})
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	recs, _ := st.ListRecommendations(ctx, cand.ID)
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}

	rejected, err := st.RejectCandidate(ctx, "p1")
	if err != nil {
		t.Fatalf("RejectCandidate: %v", err)
	}
	if rejected.ID != cand.ID {
		t.Fatalf("rejected wrong version %d", rejected.ID)
	}
	for _, rec := range recs {
		if _, err := st.GetRecommendation(ctx, rec.ID); !errors.Is(err, script.ErrRecommendationNotFound) {
			t.Fatalf("expected recommendation %d deleted, got %v", rec.ID, err)
		}
	}
	current, err := st.CurrentVersion(ctx, "p1")
	if err != nil || current.ID != v1.ID || current.ContentHash != v1.ContentHash {
		t.Fatalf("current version disturbed: %+v %v", current, err)
	}
	assertInvariants(t, st, "p1")
}

func TestDeleteVersionRules(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	v2, _ := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("v2"), Slot: script.SlotCurrent})

	if _, err := st.DeleteVersion(ctx, "p1", v2.ID); !errors.Is(err, script.ErrDeleteCurrent) || !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected ErrDeleteCurrent, got %v", err)
	}
	if _, err := st.DeleteVersion(ctx, "p1", v1.ID); !errors.Is(err, script.ErrDeleteHistory) {
		t.Fatalf("expected ErrDeleteHistory, got %v", err)
	}
	if _, err := st.DeleteVersion(ctx, "p1", 9999); !errors.Is(err, script.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	cand, _ := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("c"), Slot: script.SlotCandidate})
	if _, err := st.DeleteVersion(ctx, "p1", cand.ID); err != nil {
		t.Fatalf("DeleteVersion candidate: %v", err)
	}
	assertInvariants(t, st, "p1")
}

func TestRevertToAppendsVersion(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	v2, _ := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("rewritten"), Slot: script.SlotCurrent})

	v3, err := st.RevertTo(ctx, "p1", v1.ID, "tester")
	if err != nil {
		t.Fatalf("RevertTo: %v", err)
	}
	if v3.VersionNumber != 3 || !v3.IsCurrent {
		t.Fatalf("unexpected reverted version %+v", v3)
	}
	if v3.ContentHash != v1.ContentHash {
		t.Fatal("expected reverted scenes to equal the target snapshot")
	}
	if v3.ParentVersionID == nil || *v3.ParentVersionID != v2.ID {
		t.Fatalf("expected parent to be the prior head, got %v", v3.ParentVersionID)
	}
	if v3.Provenance.Source != script.SourceRevert || v3.Provenance.RevertedFromVersionID != v1.ID || v3.Provenance.Actor != "tester" {
		t.Fatalf("unexpected provenance %+v", v3.Provenance)
	}
	if _, err := st.RevertTo(ctx, "p1", 4242, ""); !errors.Is(err, script.ErrRevertTarget) || !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected revert target error, got %v", err)
	}
	assertInvariants(t, st, "p1")
}

func TestFindVersionByContentAndListProjects(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())

	spaced := testsupport.ThreeSceneScript()
	spaced[0].Text = "  " + spaced[0].Text + "\n"
	found, err := st.FindVersionByContent(ctx, "p1", spaced.ContentHash())
	if err != nil {
		t.Fatalf("FindVersionByContent: %v", err)
	}
	if found == nil || found.ID != v1.ID {
		t.Fatalf("expected to find v1, got %+v", found)
	}
	missing, err := st.FindVersionByContent(ctx, "p1", "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown hash, got %+v %v", missing, err)
	}

	if _, err := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("c"), Slot: script.SlotCandidate}); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	if found, err := st.FindVersionByContent(ctx, "p1", testsupport.Scenes("c").ContentHash()); err != nil || found != nil {
		t.Fatalf("candidate content must not match, got %+v %v", found, err)
	}
	projects, err := st.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 1 || projects[0].VersionCount != 2 || projects[0].CurrentVersion != 1 || !projects[0].HasCandidate {
		t.Fatalf("unexpected projects %+v", projects)
	}
}

func TestFindVersionByContentIgnoresHistory(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	a := testsupport.Scenes("A one", "A two")
	testsupport.SeedProject(t, st, "p1", a)
	if _, err := st.CreateVersion(ctx, script.NewVersion{ProjectID: "p1", Scenes: testsupport.Scenes("B one", "B two"), Slot: script.SlotCurrent}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	found, err := st.FindVersionByContent(ctx, "p1", a.ContentHash())
	if err != nil {
		t.Fatalf("FindVersionByContent: %v", err)
	}
	if found != nil {
		t.Fatalf("superseded v%d must not match", found.VersionNumber)
	}
}

func TestAnalysisRoundTripsThroughVersionRow(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	analysis := &script.Analysis{
		OverallScore: 72,
		Verdict:      script.VerdictStrong,
		Details:      script.ReelDetails{HookSeconds: 1.5, LoopPotential: true},
	}
	v, err := st.CreateVersion(ctx, script.NewVersion{
		ProjectID: "p1",
		Scenes:    testsupport.ThreeSceneScript(),
		Analysis:  analysis,
		Slot:      script.SlotCurrent,
	})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v.AnalysisScore == nil || *v.AnalysisScore != 72 {
		t.Fatalf("unexpected score %v", v.AnalysisScore)
	}
	reel, ok := v.Analysis.Details.(script.ReelDetails)
	if !ok || reel.HookSeconds != 1.5 {
		t.Fatalf("details lost: %#v", v.Analysis.Details)
	}
}
