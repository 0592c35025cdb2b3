package api_test

import (
	"context"
	"errors"
	"testing"

	"reelforge/internal/api"
	"reelforge/internal/reanalysis"
	"reelforge/internal/reconcile"
	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
	"reelforge/internal/testsupport"
)

type stubJobs struct {
	job   *script.Job
	err   error
	calls []reanalysis.StartRequest
}

func (s *stubJobs) Start(_ context.Context, req reanalysis.StartRequest) (*script.Job, error) {
	s.calls = append(s.calls, req)
	return s.job, s.err
}

func (s *stubJobs) Status(context.Context, string, string) (*script.Job, error) {
	if s.job == nil {
		return nil, script.ErrJobNotFound
	}
	return s.job, nil
}

func (s *stubJobs) Retry(context.Context, string, string) (*script.Job, error) {
	return s.job, s.err
}

func newService(t *testing.T, jobs api.JobRunner) (*api.ScriptService, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if jobs == nil {
		jobs = &stubJobs{}
	}
	svc := api.NewScriptService(st, jobs, reconcile.New(st))
	if svc == nil {
		t.Fatal("expected service")
	}
	return svc, st
}

func analysisWith(score int, recs ...script.Recommendation) *script.Analysis {
	return &script.Analysis{
		OverallScore:    score,
		Confidence:      0.8,
		Recommendations: recs,
	}
}

func TestCreateInitialVersionIsNoOpForEqualContent(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	scenes := testsupport.ThreeSceneScript()
	first, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{
		Scenes: scenes,
		AnalysisResult: analysisWith(64,
			script.Recommendation{SceneNumber: 1, Priority: script.PriorityHigh, ScoreDelta: 8, SuggestedText: "Your coffee is bitter for one reason."},
			script.Recommendation{SceneNumber: 2, Priority: script.PriorityLow, ScoreDelta: 10, SuggestedText: "Boiling water scorches the grounds."},
		),
	})
	if err != nil {
		t.Fatalf("CreateInitialVersion: %v", err)
	}
	if first.AlreadyExists {
		t.Fatal("first save should not report alreadyExists")
	}
	if first.RecommendationsCount != 2 {
		t.Fatalf("expected 2 recommendations, got %d", first.RecommendationsCount)
	}
	if first.Version.VersionNumber != 1 || !first.Version.IsCurrent {
		t.Fatalf("unexpected first version: %+v", first.Version)
	}
	if first.Version.Provenance.Source != string(script.SourceInitial) {
		t.Fatalf("expected initial provenance, got %q", first.Version.Provenance.Source)
	}
	if first.Version.AnalysisScore == nil || *first.Version.AnalysisScore != 64 || first.Version.Verdict != "moderate" {
		t.Fatalf("expected score 64 (moderate), got %v %q", first.Version.AnalysisScore, first.Version.Verdict)
	}

	// Whitespace-only differences are the same content.
	respaced := scenes.Clone()
	respaced[0].Text = "  Stop scrolling:   you have been making coffee wrong your whole life. "
	again, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: respaced})
	if err != nil {
		t.Fatalf("CreateInitialVersion repeat: %v", err)
	}
	if !again.AlreadyExists {
		t.Fatal("expected alreadyExists for equal content")
	}
	if again.Version.ID != first.Version.ID || again.RecommendationsCount != 2 {
		t.Fatalf("expected the original version back, got %+v", again)
	}

	versions, err := svc.ListVersions(ctx, "proj")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected a single version, got %d", len(versions))
	}
}

func TestCreateInitialVersionOnExistingProjectIsHumanEdit(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: testsupport.ThreeSceneScript()}); err != nil {
		t.Fatalf("CreateInitialVersion: %v", err)
	}
	edited := testsupport.Scenes("A brand new hook.", "A brand new middle.")
	resp, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: edited, Actor: "sam"})
	if err != nil {
		t.Fatalf("CreateInitialVersion edit: %v", err)
	}
	if resp.Version.VersionNumber != 2 || resp.Version.Provenance.Source != string(script.SourceHumanEdit) {
		t.Fatalf("unexpected edit version: %+v", resp.Version)
	}
	if resp.Version.ParentVersionID == nil {
		t.Fatal("expected parent linkage to the prior current version")
	}
	if resp.Version.Provenance.Actor != "sam" {
		t.Fatalf("expected actor to be recorded, got %q", resp.Version.Provenance.Actor)
	}
}

func TestCreateInitialVersionRestoringOlderContentMovesHead(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	a := testsupport.Scenes("A one", "A two")
	b := testsupport.Scenes("B one", "B two")
	first, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: a})
	if err != nil {
		t.Fatalf("save A: %v", err)
	}
	if _, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: b}); err != nil {
		t.Fatalf("save B: %v", err)
	}
	back, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: a})
	if err != nil {
		t.Fatalf("save A again: %v", err)
	}
	if back.AlreadyExists {
		t.Fatal("content matching only an older snapshot must be saved")
	}
	if back.Version.ID == first.Version.ID || back.Version.VersionNumber != 3 || !back.Version.IsCurrent {
		t.Fatalf("expected a new current v3, got %+v", back.Version)
	}

	current, err := svc.CurrentVersion(ctx, "proj")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if current.ID != back.Version.ID || current.Scenes[0].Text != "A one" {
		t.Fatalf("expected head to hold A, got v%d %q", current.VersionNumber, current.Scenes[0].Text)
	}
}

func TestApplyAllRecommendationsAppliesOnlyEligible(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{
		Scenes: testsupport.ThreeSceneScript(),
		AnalysisResult: analysisWith(60,
			script.Recommendation{SceneNumber: 1, Priority: script.PriorityHigh, ScoreDelta: 8, SuggestedText: "Your coffee is bitter for one reason."},
			script.Recommendation{SceneNumber: 2, Priority: script.PriorityLow, ScoreDelta: 10, SuggestedText: "Boiling water scorches the grounds."},
		),
	}); err != nil {
		t.Fatalf("CreateInitialVersion: %v", err)
	}

	listed, err := svc.ListRecommendations(ctx, "proj", api.RecommendationQuery{})
	if err != nil {
		t.Fatalf("ListRecommendations: %v", err)
	}
	var highID int64
	for _, rec := range listed.Recommendations {
		if rec.Priority == string(script.PriorityHigh) {
			highID = rec.ID
			if !rec.Eligible {
				t.Fatal("expected high priority rec to be eligible")
			}
		} else if rec.Eligible {
			t.Fatal("expected low priority rec to be ineligible")
		}
	}

	resp, err := svc.ApplyAllRecommendations(ctx, "proj", nil)
	if err != nil {
		t.Fatalf("ApplyAllRecommendations: %v", err)
	}
	if len(resp.Applied) != 1 || resp.Applied[0] != highID {
		t.Fatalf("expected only %d applied, got %v", highID, resp.Applied)
	}
	if resp.Version.VersionNumber != 2 || !resp.NeedsReanalysis {
		t.Fatalf("unexpected batch result: %+v", resp)
	}
	if resp.Version.Scenes[0].Text != "Your coffee is bitter for one reason." {
		t.Fatalf("scene 1 not updated: %q", resp.Version.Scenes[0].Text)
	}

	remaining, err := svc.ListRecommendations(ctx, "proj", api.RecommendationQuery{})
	if err != nil {
		t.Fatalf("ListRecommendations: %v", err)
	}
	if remaining.VersionID != resp.Version.ID || len(remaining.Recommendations) != 1 {
		t.Fatalf("expected the low priority rec carried forward, got %+v", remaining)
	}
	if remaining.Recommendations[0].Priority != string(script.PriorityLow) {
		t.Fatalf("unexpected carried rec: %+v", remaining.Recommendations[0])
	}
}

func TestStartReanalysisConflictReturnsRunningJob(t *testing.T) {
	candidate := int64(7)
	jobs := &stubJobs{err: &script.ConflictError{Job: script.Job{
		JobID:              "job-running",
		ProjectID:          "proj",
		Status:             script.JobRunning,
		CandidateVersionID: &candidate,
	}}}
	svc, _ := newService(t, jobs)

	resp, err := svc.StartReanalysis(context.Background(), "proj", api.StartReanalysisRequest{
		Scenes:         testsupport.ThreeSceneScript(),
		IdempotencyKey: "key-2",
	})
	if err != nil {
		t.Fatalf("StartReanalysis: %v", err)
	}
	if !resp.Conflict || resp.JobID != "job-running" || resp.Status != string(script.JobRunning) {
		t.Fatalf("expected conflict with running job, got %+v", resp)
	}
	if len(jobs.calls) != 1 || jobs.calls[0].FullScript == "" {
		t.Fatalf("expected full script derived from scenes, got %+v", jobs.calls)
	}
}

func TestStartReanalysisRejectsUnknownContentType(t *testing.T) {
	jobs := &stubJobs{}
	svc, _ := newService(t, jobs)
	_, err := svc.StartReanalysis(context.Background(), "proj", api.StartReanalysisRequest{
		Scenes:      testsupport.ThreeSceneScript(),
		ContentType: "podcast",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(jobs.calls) != 0 {
		t.Fatal("manager should not be called for invalid input")
	}
}

func TestDeleteCurrentVersionIsInvalidState(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	created, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: testsupport.ThreeSceneScript()})
	if err != nil {
		t.Fatalf("CreateInitialVersion: %v", err)
	}
	_, err = svc.DeleteVersion(ctx, "proj", created.Version.ID)
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestListVersionsUnknownProject(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.ListVersions(context.Background(), "nope")
	if !errors.Is(err, script.ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
}

func TestRevertAndCompareVersions(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	v1, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: testsupport.ThreeSceneScript()})
	if err != nil {
		t.Fatalf("CreateInitialVersion: %v", err)
	}
	edited := testsupport.ThreeSceneScript()
	edited[1].Text = "Boiling water scorches the grounds and turns them bitter."
	edited = edited[:2]
	edited = append(edited, script.Scene{SceneNumber: 4, Text: "Save this for your next brew.", DurationSeconds: 3})
	v2, err := svc.CreateInitialVersion(ctx, "proj", api.CreateVersionRequest{Scenes: edited})
	if err != nil {
		t.Fatalf("CreateInitialVersion edit: %v", err)
	}

	cmp, err := svc.CompareVersions(ctx, "proj", v1.Version.ID, v2.Version.ID)
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	want := map[int]string{1: api.SceneUnchanged, 2: api.SceneChanged, 3: api.SceneRemoved, 4: api.SceneAdded}
	if len(cmp.Deltas.Scenes) != len(want) {
		t.Fatalf("expected %d scene deltas, got %+v", len(want), cmp.Deltas.Scenes)
	}
	for _, delta := range cmp.Deltas.Scenes {
		if delta.Status != want[delta.SceneNumber] {
			t.Errorf("scene %d: got %s want %s", delta.SceneNumber, delta.Status, want[delta.SceneNumber])
		}
	}
	if cmp.Deltas.ChangedScenes != 3 {
		t.Fatalf("expected 3 changed scenes, got %d", cmp.Deltas.ChangedScenes)
	}
	if cmp.Deltas.Overall != nil {
		t.Fatal("unscored versions should not report an overall delta")
	}

	reverted, err := svc.RevertToVersion(ctx, "proj", v1.Version.ID, "sam")
	if err != nil {
		t.Fatalf("RevertToVersion: %v", err)
	}
	if reverted.VersionNumber != 3 || !reverted.IsCurrent {
		t.Fatalf("unexpected reverted version: %+v", reverted)
	}
	if reverted.Provenance.RevertedFromVersionID != v1.Version.ID {
		t.Fatalf("expected revert provenance to name v1, got %+v", reverted.Provenance)
	}
	if _, err := svc.RevertToVersion(ctx, "proj", 9999, ""); !errors.Is(err, script.ErrRevertTarget) {
		t.Fatalf("expected revert target error, got %v", err)
	}

	// Comparing never writes.
	versions, err := svc.ListVersions(ctx, "proj")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
}
