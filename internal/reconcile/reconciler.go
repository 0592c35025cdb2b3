package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"reelforge/internal/logging"
	"reelforge/internal/script"
	"reelforge/internal/services"
	"reelforge/internal/store"
	"reelforge/internal/textutil"
)

const (
	// DefaultThreshold is the minimum score delta for bulk application.
	DefaultThreshold = 6.0

	maxAttempts = 3
)

// Skip reasons reported for recommendations left out of a batch.
const (
	SkipIneligible = "ineligible"
	SkipSceneTaken = "scene_taken"
	SkipSceneGone  = "scene_missing"
	SkipUnchanged  = "unchanged"
	SkipApplied    = "already_applied"
)

// Recorder receives reconciliation instrumentation. *metrics.Metrics
// satisfies it.
type Recorder interface {
	RecordApplied(mode string, count int)
	RecordVersion(source string)
}

// Skipped names a recommendation left out of a batch and why.
type Skipped struct {
	ID     int64  `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// BatchResult is the outcome of applying recommendations.
type BatchResult struct {
	// Version is the new current version, or the unchanged current version
	// when nothing was applied.
	Version         *script.Version `json:"version" yaml:"version"`
	Applied         []int64         `json:"applied" yaml:"applied"`
	Skipped         []Skipped       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	ChangedScenes   []script.Scene  `json:"changedScenes,omitempty" yaml:"changedScenes,omitempty"`
	NeedsReanalysis bool            `json:"needsReanalysis" yaml:"needsReanalysis"`
}

// OneResult is the outcome of applying a single recommendation.
type OneResult struct {
	Scene           script.Scene    `json:"scene" yaml:"scene"`
	Version         *script.Version `json:"version" yaml:"version"`
	NeedsReanalysis bool            `json:"needsReanalysis" yaml:"needsReanalysis"`
}

// Reconciler applies persisted recommendations against the store.
type Reconciler struct {
	store     *store.Store
	threshold float64
	logger    *slog.Logger
	metrics   Recorder
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithThreshold sets the bulk-apply score delta threshold.
func WithThreshold(threshold float64) Option {
	return func(r *Reconciler) {
		if threshold >= 0 {
			r.threshold = threshold
		}
	}
}

// WithLogger sets the reconciler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches instrumentation.
func WithMetrics(recorder Recorder) Option {
	return func(r *Reconciler) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// New constructs a Reconciler.
func New(st *store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: st, threshold: DefaultThreshold, logger: logging.NewNop(), metrics: nopRecorder{}}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "reconcile")
	return r
}

// Threshold reports the configured eligibility threshold.
func (r *Reconciler) Threshold() float64 { return r.threshold }

// ApplyOne applies a single persisted recommendation of the current version
// regardless of its priority, producing a new current version that carries
// the remaining unapplied recommendations forward.
func (r *Reconciler) ApplyOne(ctx context.Context, projectID string, recommendationID int64) (*OneResult, error) {
	if recommendationID <= 0 {
		return nil, script.ErrFreshRecommendation
	}
	var result *OneResult
	err := r.retryConcurrent(ctx, func() error {
		current, err := r.store.CurrentVersion(ctx, projectID)
		if err != nil {
			return err
		}
		rec, err := r.store.GetRecommendation(ctx, recommendationID)
		if err != nil {
			return err
		}
		if rec.ScriptVersionID != current.ID {
			return fmt.Errorf("recommendation %d is not on the current version: %w", recommendationID, script.ErrRecommendationNotFound)
		}
		if rec.IsApplied() {
			return fmt.Errorf("recommendation %d: %w", recommendationID, script.ErrAlreadyApplied)
		}
		scenes, ok := current.Scenes.WithText(rec.SceneNumber, rec.SuggestedText)
		if !ok {
			return fmt.Errorf("scene %d: %w", rec.SceneNumber, script.ErrSceneMissing)
		}
		parent := current.ID
		created, err := r.store.CreateVersion(ctx, script.NewVersion{
			ProjectID:       projectID,
			ParentVersionID: &parent,
			Scenes:          scenes,
			CreatedBy:       script.CreatedByHuman,
			ChangeSummary:   fmt.Sprintf("Applied recommendation #%d to scene %d", rec.ID, rec.SceneNumber),
			Provenance: script.Provenance{
				Source:            script.SourceRecommendation,
				RecommendationIDs: []int64{rec.ID},
			},
			Slot:                     script.SlotCurrent,
			AppliedRecommendationIDs: []int64{rec.ID},
		})
		if err != nil {
			return err
		}
		scene, _ := created.Scenes.Find(rec.SceneNumber)
		result = &OneResult{Scene: scene, Version: created, NeedsReanalysis: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordApplied("one", 1)
	r.metrics.RecordVersion(string(script.SourceRecommendation))
	r.logger.Info("recommendation applied",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64("recommendation_id", recommendationID),
		logging.Int64(logging.FieldVersionID, result.Version.ID),
		logging.Int("version_number", result.Version.VersionNumber),
	)
	return result, nil
}

// ApplyAll applies the eligible unapplied recommendations of the current
// version in one new current version. With ids, only those recommendations
// are considered. At most one recommendation is applied per scene, the
// highest ranked; the rest are reported as skipped and stay unapplied. When
// nothing qualifies no version is written and the current version is
// returned.
func (r *Reconciler) ApplyAll(ctx context.Context, projectID string, ids []int64) (*BatchResult, error) {
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("recommendation %d: %w", id, script.ErrFreshRecommendation)
		}
	}
	var result *BatchResult
	err := r.retryConcurrent(ctx, func() error {
		current, err := r.store.CurrentVersion(ctx, projectID)
		if err != nil {
			return err
		}
		recs, err := r.store.ListRecommendations(ctx, current.ID)
		if err != nil {
			return err
		}
		plan, err := r.plan(current, recs, ids)
		if err != nil {
			return err
		}
		result = &BatchResult{Version: current, Skipped: plan.skipped, Applied: []int64{}}
		if len(plan.applied) == 0 {
			return nil
		}

		parent := current.ID
		created, err := r.store.CreateVersion(ctx, script.NewVersion{
			ProjectID:       projectID,
			ParentVersionID: &parent,
			Scenes:          plan.scenes,
			CreatedBy:       script.CreatedByHuman,
			ChangeSummary:   fmt.Sprintf("Applied %d recommendations to scenes %s", len(plan.applied), joinInts(plan.sceneNumbers)),
			Provenance: script.Provenance{
				Source:            script.SourceRecommendation,
				RecommendationIDs: plan.applied,
			},
			Slot:                     script.SlotCurrent,
			AppliedRecommendationIDs: plan.applied,
		})
		if err != nil {
			return err
		}
		result.Version = created
		result.Applied = plan.applied
		result.NeedsReanalysis = true
		for _, n := range plan.sceneNumbers {
			if scene, ok := created.Scenes.Find(n); ok {
				result.ChangedScenes = append(result.ChangedScenes, scene)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n := len(result.Applied); n > 0 {
		r.metrics.RecordApplied("all", n)
		r.metrics.RecordVersion(string(script.SourceRecommendation))
	}
	r.logger.Info("recommendations applied",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int("applied", len(result.Applied)),
		logging.Int("skipped", len(result.Skipped)),
		logging.Int64(logging.FieldVersionID, result.Version.ID),
	)
	return result, nil
}

type batchPlan struct {
	scenes       script.Scenes
	applied      []int64
	sceneNumbers []int
	skipped      []Skipped
}

func (r *Reconciler) plan(current *script.Version, recs []script.Recommendation, ids []int64) (batchPlan, error) {
	if len(ids) > 0 {
		byID := make(map[int64]script.Recommendation, len(recs))
		for _, rec := range recs {
			byID[rec.ID] = rec
		}
		selected := make([]script.Recommendation, 0, len(ids))
		for _, id := range ids {
			rec, ok := byID[id]
			if !ok {
				return batchPlan{}, fmt.Errorf("recommendation %d is not on the current version: %w", id, script.ErrRecommendationNotFound)
			}
			selected = append(selected, rec)
		}
		recs = selected
	}

	out := batchPlan{scenes: current.Scenes.Clone()}
	candidates := make([]script.Recommendation, 0, len(recs))
	for _, rec := range recs {
		switch {
		case rec.IsApplied():
			if len(ids) > 0 {
				out.skipped = append(out.skipped, Skipped{ID: rec.ID, Reason: SkipApplied})
			}
		case !rec.Eligible(r.threshold):
			out.skipped = append(out.skipped, Skipped{ID: rec.ID, Reason: SkipIneligible})
		default:
			candidates = append(candidates, rec)
		}
	}
	script.SortRecommendations(candidates)

	taken := make(map[int]bool)
	for _, rec := range candidates {
		if taken[rec.SceneNumber] {
			out.skipped = append(out.skipped, Skipped{ID: rec.ID, Reason: SkipSceneTaken})
			continue
		}
		scene, ok := out.scenes.Find(rec.SceneNumber)
		if !ok {
			out.skipped = append(out.skipped, Skipped{ID: rec.ID, Reason: SkipSceneGone})
			continue
		}
		if textutil.EqualText(scene.Text, rec.SuggestedText) {
			out.skipped = append(out.skipped, Skipped{ID: rec.ID, Reason: SkipUnchanged})
			continue
		}
		out.scenes, _ = out.scenes.WithText(rec.SceneNumber, rec.SuggestedText)
		taken[rec.SceneNumber] = true
		out.applied = append(out.applied, rec.ID)
		out.sceneNumbers = append(out.sceneNumbers, rec.SceneNumber)
	}
	slices.Sort(out.sceneNumbers)
	return out, nil
}

// retryConcurrent reruns fn when another writer moved the current version
// between fn's read and its write.
func (r *Reconciler) retryConcurrent(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, script.ErrConcurrentModification) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Debug("current version moved; retrying", logging.Int("attempt", attempt))
	}
	return services.Wrap(services.ErrConflict, "", "apply recommendations", "current version kept changing", err)
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ", ")
}

type nopRecorder struct{}

func (nopRecorder) RecordApplied(string, int) {}
func (nopRecorder) RecordVersion(string)      {}
