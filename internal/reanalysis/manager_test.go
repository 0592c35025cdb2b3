package reanalysis_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"reelforge/internal/reanalysis"
	"reelforge/internal/scoring"
	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
	"reelforge/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scorerFunc func(ctx context.Context, in scoring.Input, progress scoring.ProgressFunc) (*script.Analysis, error)

func (f scorerFunc) Run(ctx context.Context, in scoring.Input, progress scoring.ProgressFunc) (*script.Analysis, error) {
	return f(ctx, in, progress)
}

func heuristicScorer(t *testing.T) reanalysis.Scorer {
	t.Helper()
	pipeline, err := scoring.NewPipeline(scoring.HeuristicAnalyzers(), scoring.WeightedSynthesizer{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pipeline
}

// gatedScorer blocks until release is closed, then delegates. It honors
// cancellation only when honorCtx is set.
func gatedScorer(inner reanalysis.Scorer, release <-chan struct{}, honorCtx bool) reanalysis.Scorer {
	return scorerFunc(func(ctx context.Context, in scoring.Input, progress scoring.ProgressFunc) (*script.Analysis, error) {
		if honorCtx {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-release
		}
		return inner.Run(context.WithoutCancel(ctx), in, progress)
	})
}

type fixture struct {
	st      *store.Store
	manager *reanalysis.Manager
	v1      *script.Version
}

func newFixture(t *testing.T, scorer reanalysis.Scorer, opts ...reanalysis.Option) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	v1 := testsupport.SeedProject(t, st, "proj", testsupport.ThreeSceneScript())
	var n atomic.Int32
	base := []reanalysis.Option{
		reanalysis.WithIDGenerator(func() string { return fmt.Sprintf("job-%d", n.Add(1)) }),
		reanalysis.WithHeartbeat(10*time.Millisecond, time.Minute),
	}
	manager := reanalysis.NewManagerFromConfig(cfg, st, scorer, append(base, opts...)...)
	t.Cleanup(manager.Close)
	return fixture{st: st, manager: manager, v1: v1}
}

func editedScenes(t *testing.T, base script.Scenes) script.Scenes {
	t.Helper()
	edited, ok := base.WithText(1, "Stop scrolling: your coffee is bitter for one reason.")
	if !ok {
		t.Fatal("scene 1 missing")
	}
	return edited
}

func waitForStatus(t *testing.T, m *reanalysis.Manager, projectID, jobID string, want script.JobStatus) *script.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := m.Status(context.Background(), projectID, jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s (want %s): %+v", jobID, job.Status, want, job)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartScoresCandidateInBackground(t *testing.T) {
	f := newFixture(t, heuristicScorer(t))
	ctx := context.Background()

	job, err := f.manager.Start(ctx, reanalysis.StartRequest{
		ProjectID:      "proj",
		Scenes:         editedScenes(t, f.v1.Scenes),
		IdempotencyKey: "edit-1",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != script.JobQueued || job.CandidateVersionID == nil {
		t.Fatalf("unexpected job %+v", job)
	}

	// The edit is durable before scoring finishes.
	candidate, err := f.st.CandidateVersion(ctx, "proj")
	if err != nil || candidate == nil || candidate.VersionNumber != 2 {
		t.Fatalf("expected candidate v2, got %+v (err %v)", candidate, err)
	}

	done := waitForStatus(t, f.manager, "proj", job.JobID, script.JobDone)
	if done.Progress != 100 || done.Error != "" {
		t.Fatalf("unexpected finished job %+v", done)
	}

	candidate, err = f.st.GetVersion(ctx, "proj", *job.CandidateVersionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if candidate.Analysis == nil || candidate.AnalysisScore == nil {
		t.Fatalf("expected analysis on candidate, got %+v", candidate)
	}
	recs, err := f.st.ListRecommendations(ctx, candidate.ID)
	if err != nil {
		t.Fatalf("ListRecommendations: %v", err)
	}
	if len(recs) != len(candidate.Analysis.Recommendations) || len(recs) == 0 {
		t.Fatalf("expected %d stored recommendations, got %d", len(candidate.Analysis.Recommendations), len(recs))
	}

	accepted, err := f.st.AcceptCandidate(ctx, "proj", candidate.ID)
	if err != nil {
		t.Fatalf("AcceptCandidate: %v", err)
	}
	if !accepted.IsCurrent || accepted.IsCandidate {
		t.Fatalf("unexpected accepted version %+v", accepted)
	}
	old, err := f.st.GetVersion(ctx, "proj", f.v1.ID)
	if err != nil || old.IsCurrent {
		t.Fatalf("expected v1 demoted, got %+v (err %v)", old, err)
	}
}

func TestStartIsIdempotentAndSignalsConflict(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, gatedScorer(heuristicScorer(t), release, true))
	ctx := context.Background()
	scenes := editedScenes(t, f.v1.Scenes)

	first, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: scenes, IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, f.manager, "proj", first.JobID, script.JobRunning)

	again, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: scenes, IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("repeat Start: %v", err)
	}
	if again.JobID != first.JobID {
		t.Fatalf("expected same job for same key, got %s and %s", first.JobID, again.JobID)
	}

	_, err = f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: scenes, IdempotencyKey: "k2"})
	conflict, ok := script.AsConflict(err)
	if !ok {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if conflict.Job.JobID != first.JobID || conflict.Job.Status != script.JobRunning {
		t.Fatalf("conflict should carry the running job, got %+v", conflict.Job)
	}
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict marker, got %v", err)
	}

	versions, err := f.st.ListVersions(ctx, "proj")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected exactly one candidate to be created, got %d versions", len(versions))
	}

	close(release)
	waitForStatus(t, f.manager, "proj", first.JobID, script.JobDone)
}

func TestJobTimeoutFailsRetryablyAndDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, gatedScorer(heuristicScorer(t), release, false), reanalysis.WithJobTimeout(50*time.Millisecond))
	ctx := context.Background()

	job, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: editedScenes(t, f.v1.Scenes), IdempotencyKey: "slow"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed := waitForStatus(t, f.manager, "proj", job.JobID, script.JobError)
	if !failed.CanRetry || failed.ErrorKind != "timeout" || failed.Error == "" {
		t.Fatalf("unexpected timed out job %+v", failed)
	}

	close(release)
	// Give the abandoned scorer time to finish and try to report.
	time.Sleep(50 * time.Millisecond)

	after, err := f.manager.Status(ctx, "proj", job.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if after.Status != script.JobError {
		t.Fatalf("late result must not revive the job, got %+v", after)
	}
	candidate, err := f.st.GetVersion(ctx, "proj", *job.CandidateVersionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if candidate.Analysis != nil {
		t.Fatal("late analysis must not be attached to the candidate")
	}
}

func TestRetryRerunsFailedJobOnSameCandidate(t *testing.T) {
	var calls atomic.Int32
	inner := heuristicScorer(t)
	scorer := scorerFunc(func(ctx context.Context, in scoring.Input, progress scoring.ProgressFunc) (*script.Analysis, error) {
		if calls.Add(1) == 1 {
			return nil, services.Wrap(services.ErrUpstream, "hook", "analyze", "model unavailable", nil)
		}
		return inner.Run(ctx, in, progress)
	})
	f := newFixture(t, scorer)
	ctx := context.Background()

	job, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: editedScenes(t, f.v1.Scenes), IdempotencyKey: "flaky"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed := waitForStatus(t, f.manager, "proj", job.JobID, script.JobError)
	if !failed.CanRetry || failed.ErrorKind != "upstream" {
		t.Fatalf("unexpected failed job %+v", failed)
	}

	retry, err := f.manager.Retry(ctx, "proj", job.JobID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.JobID == job.JobID || retry.RetryOf != job.JobID || retry.Attempt != 2 {
		t.Fatalf("unexpected retry job %+v", retry)
	}
	if retry.CandidateVersionID == nil || *retry.CandidateVersionID != *job.CandidateVersionID {
		t.Fatal("retry should reuse the pending candidate")
	}
	if len(retry.Scenes) != 3 || retry.Scenes[0].Text != failed.Scenes[0].Text {
		t.Fatal("retry should reuse the stored payload")
	}
	waitForStatus(t, f.manager, "proj", retry.JobID, script.JobDone)

	again, err := f.manager.Retry(ctx, "proj", job.JobID)
	if err != nil {
		t.Fatalf("second Retry: %v", err)
	}
	if again.JobID != retry.JobID {
		t.Fatalf("expected the first retry back, got %s", again.JobID)
	}
}

func TestValidationFailureIsNotRetryable(t *testing.T) {
	scorer := scorerFunc(func(context.Context, scoring.Input, scoring.ProgressFunc) (*script.Analysis, error) {
		return nil, services.Wrap(services.ErrValidation, "", "score", "script text is empty", nil)
	})
	f := newFixture(t, scorer)
	ctx := context.Background()

	job, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: editedScenes(t, f.v1.Scenes), IdempotencyKey: "bad"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed := waitForStatus(t, f.manager, "proj", job.JobID, script.JobError)
	if failed.CanRetry || failed.ErrorKind != "validation" {
		t.Fatalf("unexpected failed job %+v", failed)
	}
	if _, err := f.manager.Retry(ctx, "proj", job.JobID); !errors.Is(err, script.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable, got %v", err)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t, heuristicScorer(t))
	if _, err := f.manager.Status(context.Background(), "proj", "nope"); !errors.Is(err, script.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestResumeStaleRunsOrphanedJobs(t *testing.T) {
	f := newFixture(t, heuristicScorer(t), reanalysis.WithHeartbeat(5*time.Millisecond, 20*time.Millisecond))
	ctx := context.Background()

	// A job row left behind by a process that never ran it.
	res, err := f.st.StartJob(ctx, script.NewJob{
		JobID:          "orphan",
		ProjectID:      "proj",
		IdempotencyKey: "orphan-key",
		Scenes:         editedScenes(t, f.v1.Scenes),
	}, script.NewVersion{ChangeSummary: "edited"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	resumed, err := f.manager.ResumeStale(ctx)
	if err != nil {
		t.Fatalf("ResumeStale: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("expected one resumed job, got %d", resumed)
	}
	waitForStatus(t, f.manager, "proj", res.Job.JobID, script.JobDone)
}

func TestCloseLeavesInterruptedJobResumable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, gatedScorer(heuristicScorer(t), release, true))
	ctx := context.Background()

	job, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: editedScenes(t, f.v1.Scenes), IdempotencyKey: "interrupted"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, f.manager, "proj", job.JobID, script.JobRunning)
	if f.manager.InFlight() != 1 {
		t.Fatalf("expected one in-flight job, got %d", f.manager.InFlight())
	}

	f.manager.Close()
	if f.manager.InFlight() != 0 {
		t.Fatalf("expected no in-flight jobs after Close, got %d", f.manager.InFlight())
	}
	got, err := f.st.GetJob(ctx, "proj", job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != script.JobRunning {
		t.Fatalf("interrupted job should stay running for reclaim, got %s", got.Status)
	}
	if _, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: f.v1.Scenes, IdempotencyKey: "late"}); !errors.Is(err, reanalysis.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseWaitsForAbandonedScorer(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	scorer := scorerFunc(func(context.Context, scoring.Input, scoring.ProgressFunc) (*script.Analysis, error) {
		<-release
		finished.Store(true)
		return nil, errors.New("too late")
	})
	f := newFixture(t, scorer, reanalysis.WithJobTimeout(30*time.Millisecond))

	job, err := f.manager.Start(context.Background(), reanalysis.StartRequest{ProjectID: "proj", Scenes: editedScenes(t, f.v1.Scenes), IdempotencyKey: "abandoned"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, f.manager, "proj", job.JobID, script.JobError)

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	f.manager.Close()
	if !finished.Load() {
		t.Fatal("Close returned before the abandoned scorer finished")
	}
}

func TestResumeStaleSkipsJobsRunningHere(t *testing.T) {
	release := make(chan struct{})
	// Heartbeats never fire within the test, so the running job looks stale.
	f := newFixture(t, gatedScorer(heuristicScorer(t), release, true), reanalysis.WithHeartbeat(time.Hour, 20*time.Millisecond))
	ctx := context.Background()

	job, err := f.manager.Start(ctx, reanalysis.StartRequest{ProjectID: "proj", Scenes: editedScenes(t, f.v1.Scenes), IdempotencyKey: "busy"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, f.manager, "proj", job.JobID, script.JobRunning)
	time.Sleep(40 * time.Millisecond)

	resumed, err := f.manager.ResumeStale(ctx)
	if err != nil {
		t.Fatalf("ResumeStale: %v", err)
	}
	if resumed != 0 {
		t.Fatalf("expected no resumed jobs, got %d", resumed)
	}
	got, err := f.st.GetJob(ctx, "proj", job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != script.JobRunning {
		t.Fatalf("job running here must not be requeued, got %s", got.Status)
	}

	close(release)
	waitForStatus(t, f.manager, "proj", job.JobID, script.JobDone)
}
