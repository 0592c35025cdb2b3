package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
	"reelforge/internal/testsupport"
)

func startJob(t *testing.T, st *store.Store, projectID, jobID, key string, scenes script.Scenes) store.StartResult {
	t.Helper()
	res, err := st.StartJob(context.Background(), script.NewJob{
		JobID:          jobID,
		ProjectID:      projectID,
		IdempotencyKey: key,
		Scenes:         scenes,
		FullScript:     scenes.FullText(),
	}, script.NewVersion{ChangeSummary: "edited"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	return res
}

func TestStartJobCreatesCandidateAndQueuedJob(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	v1 := testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	edited, _ := v1.Scenes.WithText(1, "New hook")

	res := startJob(t, st, "p1", "job-1", "key-1", edited)
	if !res.Created || res.Job.Status != script.JobQueued {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Candidate == nil || !res.Candidate.IsCandidate || res.Candidate.VersionNumber != 2 {
		t.Fatalf("unexpected candidate %+v", res.Candidate)
	}
	if res.Candidate.CreatedBy != script.CreatedByAI || res.Candidate.Provenance.JobID != "job-1" {
		t.Fatalf("unexpected candidate metadata %+v", res.Candidate)
	}
	if res.Job.CandidateVersionID == nil || *res.Job.CandidateVersionID != res.Candidate.ID {
		t.Fatalf("job not bound to candidate: %+v", res.Job)
	}
	if res.Job.FullScript == "" || len(res.Job.Scenes) != 3 {
		t.Fatal("expected submitted payload to be stored on the job")
	}

	got, err := st.GetJob(ctx, "p1", "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.IdempotencyKey != "key-1" || got.Attempt != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
	if _, err := st.GetJob(ctx, "p2", "job-1"); !errors.Is(err, script.ErrJobNotFound) {
		t.Fatalf("expected cross-project lookup to fail, got %v", err)
	}
}

func TestStartJobIdempotencyAndConflict(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	first := startJob(t, st, "p1", "job-1", "key-1", testsupport.Scenes("a"))

	again := startJob(t, st, "p1", "job-2", "key-1", testsupport.Scenes("a"))
	if again.Created || again.Job.JobID != "job-1" {
		t.Fatalf("expected same job for repeated key, got %+v", again)
	}

	_, err := st.StartJob(ctx, script.NewJob{JobID: "job-3", ProjectID: "p1", IdempotencyKey: "key-2", Scenes: testsupport.Scenes("b")}, script.NewVersion{})
	conflict, ok := script.AsConflict(err)
	if !ok {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if conflict.Job.JobID != first.Job.JobID || conflict.Job.Status != script.JobQueued {
		t.Fatalf("conflict should carry the active job, got %+v", conflict.Job)
	}

	versions, _ := st.ListVersions(ctx, "p1")
	if len(versions) != 2 {
		t.Fatalf("expected exactly one candidate created, got %d versions", len(versions))
	}
}

func TestStartJobKeyReleasedOnceCandidateResolved(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	edits := testsupport.Scenes("edited hook", "edited body")

	first := startJob(t, st, "p1", "job-1", "edit:k", edits)
	if _, err := st.MarkJobRunning(ctx, "job-1", script.StepHook); err != nil {
		t.Fatalf("MarkJobRunning: %v", err)
	}
	if _, err := st.CompleteJob(ctx, "job-1", &script.Analysis{OverallScore: 70}, nil); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	// Candidate still pending: the key still names job-1.
	pending := startJob(t, st, "p1", "job-2", "edit:k", edits)
	if pending.Created || pending.Job.JobID != "job-1" {
		t.Fatalf("expected job-1 while its candidate is pending, got %+v", pending.Job)
	}

	if _, err := st.RejectCandidate(ctx, "p1"); err != nil {
		t.Fatalf("RejectCandidate: %v", err)
	}
	fresh := startJob(t, st, "p1", "job-3", "edit:k", edits)
	if !fresh.Created || fresh.Job.JobID != "job-3" || fresh.Job.Status != script.JobQueued {
		t.Fatalf("expected a new job after reject, got %+v", fresh.Job)
	}
	if fresh.Candidate == nil || fresh.Candidate.ID == *first.Job.CandidateVersionID {
		t.Fatalf("expected a new candidate, got %+v", fresh.Candidate)
	}
	cand, err := st.CandidateVersion(ctx, "p1")
	if err != nil || cand == nil || cand.ID != fresh.Candidate.ID {
		t.Fatalf("expected job-3's candidate to be pending, got %+v %v", cand, err)
	}

	// The newest job owns the key from now on.
	again := startJob(t, st, "p1", "job-4", "edit:k", edits)
	if again.Created || again.Job.JobID != "job-3" {
		t.Fatalf("expected job-3 for the repeated key, got %+v", again.Job)
	}
	assertInvariants(t, st, "p1")
}

func TestStartJobRejectsUnknownProject(t *testing.T) {
	st := newStore(t)
	_, err := st.StartJob(context.Background(), script.NewJob{JobID: "j", ProjectID: "ghost", IdempotencyKey: "k", Scenes: testsupport.Scenes("a")}, script.NewVersion{})
	if !errors.Is(err, script.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestJobLifecycleAttachesAnalysis(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	res := startJob(t, st, "p1", "job-1", "key-1", testsupport.ThreeSceneScript())

	if _, err := st.AcceptCandidate(ctx, "p1", res.Candidate.ID); !errors.Is(err, script.ErrCandidateBusy) {
		t.Fatalf("expected busy candidate while job is active, got %v", err)
	}

	ok, err := st.MarkJobRunning(ctx, "job-1", script.StepHook)
	if err != nil || !ok {
		t.Fatalf("MarkJobRunning: %v %v", ok, err)
	}
	if ok, _ := st.MarkJobRunning(ctx, "job-1", script.StepHook); ok {
		t.Fatal("second MarkJobRunning must not transition again")
	}
	if ok, err := st.UpdateJobProgress(ctx, "job-1", script.JobProgress{Step: script.StepSynthesis, Progress: 80}); err != nil || !ok {
		t.Fatalf("UpdateJobProgress: %v %v", ok, err)
	}
	// Progress never moves backwards.
	if _, err := st.UpdateJobProgress(ctx, "job-1", script.JobProgress{Step: script.StepSynthesis, Progress: 40}); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	running, _ := st.GetJob(ctx, "p1", "job-1")
	if running.Status != script.JobRunning || running.Step != script.StepSynthesis || running.Progress != 80 || running.LastHeartbeat == nil {
		t.Fatalf("unexpected running job %+v", running)
	}

	analysis := &script.Analysis{OverallScore: 81, Verdict: script.VerdictStrong}
	recs := []script.Recommendation{{SceneNumber: 1, Priority: script.PriorityHigh, SuggestedText: "x", ScoreDelta: 9}}
	done, err := st.CompleteJob(ctx, "job-1", analysis, recs)
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if done.Status != script.JobDone || done.Progress != 100 || done.CompletedAt == nil {
		t.Fatalf("unexpected done job %+v", done)
	}
	cand, _ := st.GetVersion(ctx, "p1", res.Candidate.ID)
	if cand.AnalysisScore == nil || *cand.AnalysisScore != 81 {
		t.Fatalf("analysis not attached: %+v", cand)
	}
	attached, _ := st.ListRecommendations(ctx, cand.ID)
	if len(attached) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(attached))
	}

	if _, err := st.CompleteJob(ctx, "job-1", analysis, recs); !errors.Is(err, store.ErrJobNotRunning) {
		t.Fatalf("expected late completion to be rejected, got %v", err)
	}
	if ok, _ := st.FailJob(ctx, "job-1", "late", "timeout", true); ok {
		t.Fatal("FailJob must not touch a finished job")
	}
	if _, err := st.AcceptCandidate(ctx, "p1", cand.ID); err != nil {
		t.Fatalf("AcceptCandidate after completion: %v", err)
	}
}

func TestFailedJobDiscardsLateCompletion(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	res := startJob(t, st, "p1", "job-1", "key-1", testsupport.ThreeSceneScript())
	if _, err := st.MarkJobRunning(ctx, "job-1", script.StepHook); err != nil {
		t.Fatalf("MarkJobRunning: %v", err)
	}
	if ok, err := st.FailJob(ctx, "job-1", "reanalysis timed out", "timeout", true); err != nil || !ok {
		t.Fatalf("FailJob: %v %v", ok, err)
	}
	_, err := st.CompleteJob(ctx, "job-1", &script.Analysis{OverallScore: 50}, nil)
	if !errors.Is(err, store.ErrJobNotRunning) || !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected ErrJobNotRunning, got %v", err)
	}
	cand, _ := st.GetVersion(ctx, "p1", res.Candidate.ID)
	if cand.Analysis != nil {
		t.Fatal("late result must not be attached")
	}
	failed, _ := st.GetJob(ctx, "p1", "job-1")
	if failed.Status != script.JobError || !failed.CanRetry || failed.ErrorKind != "timeout" {
		t.Fatalf("unexpected failed job %+v", failed)
	}
}

func TestRetryJobReusesCandidate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	res := startJob(t, st, "p1", "job-1", "key-1", testsupport.ThreeSceneScript())

	if _, err := st.RetryJob(ctx, "p1", "job-1", "job-2"); !errors.Is(err, script.ErrNotRetryable) {
		t.Fatalf("expected queued job to be non-retryable, got %v", err)
	}
	if _, err := st.FailJob(ctx, "job-1", "analyzer failed", "upstream", true); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	retry, err := st.RetryJob(ctx, "p1", "job-1", "job-2")
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if !retry.Created || retry.Job.RetryOf != "job-1" || retry.Job.Attempt != 2 {
		t.Fatalf("unexpected retry job %+v", retry.Job)
	}
	if retry.Candidate.ID != res.Candidate.ID {
		t.Fatal("expected retry to reuse the pending candidate")
	}
	if retry.Job.FullScript != res.Job.FullScript {
		t.Fatal("expected stored payload to be reused")
	}

	again, err := st.RetryJob(ctx, "p1", "job-1", "job-3")
	if err != nil {
		t.Fatalf("repeated RetryJob: %v", err)
	}
	if again.Created || again.Job.JobID != "job-2" {
		t.Fatalf("expected repeated retry to return job-2, got %+v", again)
	}
}

func TestRetryJobRecreatesRejectedCandidate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	startJob(t, st, "p1", "job-1", "key-1", testsupport.Scenes("edited"))
	if _, err := st.FailJob(ctx, "job-1", "boom", "upstream", true); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if _, err := st.RejectCandidate(ctx, "p1"); err != nil {
		t.Fatalf("RejectCandidate: %v", err)
	}
	failed, _ := st.GetJob(ctx, "p1", "job-1")
	if failed.CandidateVersionID != nil {
		t.Fatal("expected candidate link to be cleared on delete")
	}

	retry, err := st.RetryJob(ctx, "p1", "job-1", "job-2")
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retry.Candidate == nil || retry.Candidate.ContentHash != testsupport.Scenes("edited").ContentHash() {
		t.Fatalf("expected candidate recreated from stored scenes, got %+v", retry.Candidate)
	}
	assertInvariants(t, st, "p1")
}

func TestReclaimStaleJobs(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	testsupport.SeedProject(t, st, "p1", testsupport.ThreeSceneScript())
	startJob(t, st, "p1", "job-1", "key-1", testsupport.ThreeSceneScript())
	if _, err := st.MarkJobRunning(ctx, "job-1", script.StepHook); err != nil {
		t.Fatalf("MarkJobRunning: %v", err)
	}

	none, err := st.ReclaimStaleJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(none) != 0 {
		t.Fatalf("expected nothing stale, got %v %v", none, err)
	}
	skipped, err := st.ReclaimStaleJobs(ctx, time.Now().Add(time.Minute), "job-1")
	if err != nil || len(skipped) != 0 {
		t.Fatalf("expected job-1 to be skipped, got %v %v", skipped, err)
	}
	if still, _ := st.GetJob(ctx, "p1", "job-1"); still.Status != script.JobRunning {
		t.Fatalf("skipped job must stay running, got %s", still.Status)
	}
	reclaimed, err := st.ReclaimStaleJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].Status != script.JobQueued || reclaimed[0].Progress != 0 {
		t.Fatalf("unexpected reclaimed jobs %+v", reclaimed)
	}

	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats[script.JobQueued] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
