package reconcile

import (
	"context"
	"errors"
	"slices"
	"time"

	"reelforge/internal/script"
	"reelforge/internal/textutil"
)

// Applier sends persisted recommendation IDs to the store. *Reconciler and
// the HTTP API client both satisfy it.
type Applier interface {
	ApplyAll(ctx context.Context, projectID string, ids []int64) (*BatchResult, error)
}

// Session is a client-side working set of recommendations for one project.
//
// Baseline is the scene snapshot the recommendations were computed against.
// Recommendations with negative IDs are fresh: they were never written to
// the store and only this session knows about them.
type Session struct {
	ProjectID       string
	Baseline        script.Scenes
	Recommendations []script.Recommendation
	Threshold       float64

	nextFreshID int64
}

// NewSession starts a session over baseline and recs.
func NewSession(projectID string, baseline script.Scenes, recs []script.Recommendation, threshold float64) *Session {
	s := &Session{
		ProjectID:       projectID,
		Baseline:        baseline.Clone(),
		Recommendations: slices.Clone(recs),
		Threshold:       threshold,
	}
	for _, rec := range recs {
		s.nextFreshID = min(s.nextFreshID, rec.ID)
	}
	return s
}

// AddFresh adds a client-computed recommendation and returns it with its
// synthetic negative ID.
func (s *Session) AddFresh(rec script.Recommendation) script.Recommendation {
	s.nextFreshID--
	rec.ID = s.nextFreshID
	rec.ScriptVersionID = 0
	if rec.CurrentText == "" {
		if scene, ok := s.Baseline.Find(rec.SceneNumber); ok {
			rec.CurrentText = scene.Text
		}
	}
	s.Recommendations = append(s.Recommendations, rec)
	return rec
}

// Outcome is what the caller should display after ApplyAll.
type Outcome struct {
	// Scenes is the reconciled snapshot.
	Scenes script.Scenes
	// Version is the store's new current version; nil when only fresh
	// recommendations were applied.
	Version *script.Version
	// FreshApplied lists fresh recommendations whose edit is in Scenes.
	FreshApplied []int64
	// FreshDropped lists fresh recommendations whose scene the store
	// changed to something else; the store's text wins.
	FreshDropped []int64
	// PersistedApplied lists recommendations the store applied.
	PersistedApplied []int64
	Skipped          []Skipped
	// NeedsPersist is set when Scenes holds edits the store has not seen;
	// the caller must save them before they are durable.
	NeedsPersist    bool
	NeedsReanalysis bool
}

type freshEdit struct {
	id   int64
	text string
}

// ApplyAll applies every eligible recommendation in the working set.
//
// Fresh edits are folded into the baseline locally. Persisted IDs are sent
// to applier in one call, and the store's returned snapshot becomes the base
// of the result. A fresh edit is then overlaid on a scene only when the
// store left that scene at its baseline text; where the store already shows
// the fresh text nothing changes, and where it shows different text the
// fresh edit is dropped.
func (s *Session) ApplyAll(ctx context.Context, applier Applier) (*Outcome, error) {
	eligible := make([]script.Recommendation, 0, len(s.Recommendations))
	out := &Outcome{}
	for _, rec := range s.Recommendations {
		if rec.IsApplied() {
			continue
		}
		if !rec.Eligible(s.Threshold) {
			out.Skipped = append(out.Skipped, Skipped{ID: rec.ID, Reason: SkipIneligible})
			continue
		}
		eligible = append(eligible, rec)
	}
	script.SortRecommendations(eligible)

	fresh := make(map[int]freshEdit)
	var persisted []int64
	for _, rec := range eligible {
		if !rec.IsFresh() {
			persisted = append(persisted, rec.ID)
			continue
		}
		if _, taken := fresh[rec.SceneNumber]; taken {
			out.Skipped = append(out.Skipped, Skipped{ID: rec.ID, Reason: SkipSceneTaken})
			continue
		}
		if _, ok := s.Baseline.Find(rec.SceneNumber); !ok {
			out.Skipped = append(out.Skipped, Skipped{ID: rec.ID, Reason: SkipSceneGone})
			continue
		}
		fresh[rec.SceneNumber] = freshEdit{id: rec.ID, text: rec.SuggestedText}
	}

	base := s.Baseline.Clone()
	if len(persisted) > 0 {
		if applier == nil {
			return nil, errors.New("reconcile: applier required for persisted recommendations")
		}
		batch, err := applier.ApplyAll(ctx, s.ProjectID, persisted)
		if err != nil {
			return nil, err
		}
		out.Version = batch.Version
		out.PersistedApplied = batch.Applied
		out.Skipped = append(out.Skipped, batch.Skipped...)
		out.NeedsReanalysis = batch.NeedsReanalysis
		if batch.Version != nil {
			base = batch.Version.Scenes.Clone()
		}
	}

	numbers := make([]int, 0, len(fresh))
	for n := range fresh {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	scenes := base
	for _, n := range numbers {
		edit := fresh[n]
		stored, ok := scenes.Find(n)
		if !ok {
			out.FreshDropped = append(out.FreshDropped, edit.id)
			continue
		}
		original, _ := s.Baseline.Find(n)
		switch {
		case textutil.EqualText(stored.Text, edit.text):
			out.FreshApplied = append(out.FreshApplied, edit.id)
		case textutil.EqualText(stored.Text, original.Text):
			scenes, _ = scenes.WithText(n, edit.text)
			out.FreshApplied = append(out.FreshApplied, edit.id)
			out.NeedsPersist = true
		default:
			out.FreshDropped = append(out.FreshDropped, edit.id)
		}
	}
	if len(out.FreshApplied) > 0 {
		out.NeedsReanalysis = true
	}
	out.Scenes = scenes
	s.markApplied(out)
	return out, nil
}

// markApplied records the outcome in the working set so a second ApplyAll
// does not reapply the same edits.
func (s *Session) markApplied(out *Outcome) {
	applied := make(map[int64]bool, len(out.FreshApplied)+len(out.PersistedApplied))
	for _, id := range out.FreshApplied {
		applied[id] = true
	}
	for _, id := range out.PersistedApplied {
		applied[id] = true
	}
	now := time.Now().UTC()
	for i := range s.Recommendations {
		if applied[s.Recommendations[i].ID] {
			s.Recommendations[i].AppliedAt = &now
		}
	}
	s.Baseline = out.Scenes.Clone()
}
