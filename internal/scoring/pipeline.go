package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reelforge/internal/logging"
	"reelforge/internal/script"
	"reelforge/internal/services"
)

const (
	defaultAnalyzerTimeout = 90 * time.Second

	progressStart          = 5
	progressPerAnalyzer    = 15
	progressSynthesisStart = 70
)

// ProgressFunc receives step and percentage updates while a run proceeds.
type ProgressFunc func(script.JobProgress)

// Pipeline fans out to the analyzers and gathers their results through the
// synthesizer.
type Pipeline struct {
	analyzers   []Analyzer
	synthesizer Synthesizer
	timeout     time.Duration
	observer    Observer
	logger      *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithAnalyzerTimeout bounds each analyzer and the synthesizer individually.
func WithAnalyzerTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithObserver attaches timing instrumentation.
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline validates that exactly one analyzer serves each analyzer step.
func NewPipeline(analyzers []Analyzer, synthesizer Synthesizer, opts ...Option) (*Pipeline, error) {
	if synthesizer == nil {
		return nil, errors.New("scoring: synthesizer required")
	}
	seen := make(map[script.Step]bool, len(analyzers))
	for _, a := range analyzers {
		if a == nil {
			return nil, errors.New("scoring: nil analyzer")
		}
		step := a.Step()
		if !slices.Contains(script.AnalyzerSteps, step) {
			return nil, fmt.Errorf("scoring: unknown analyzer step %q", step)
		}
		if seen[step] {
			return nil, fmt.Errorf("scoring: duplicate analyzer for %q", step)
		}
		seen[step] = true
	}
	for _, step := range script.AnalyzerSteps {
		if !seen[step] {
			return nil, fmt.Errorf("scoring: missing analyzer for %q", step)
		}
	}
	p := &Pipeline{
		analyzers:   slices.Clone(analyzers),
		synthesizer: synthesizer,
		timeout:     defaultAnalyzerTimeout,
		observer:    nopObserver{},
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run scores the input. Analyzers run concurrently; the first failure
// cancels the others and fails the run as an upstream error.
func (p *Pipeline) Run(ctx context.Context, in Input, progress ProgressFunc) (*script.Analysis, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.ContentType == "" {
		in.ContentType = script.ContentReel
	}
	if progress == nil {
		progress = func(script.JobProgress) {}
	}
	logger := logging.WithContext(ctx, p.logger)

	progress(script.JobProgress{Step: script.AnalyzerSteps[0], Progress: progressStart})

	var (
		mu         sync.Mutex
		breakdowns = make(map[script.Step]script.Breakdown, len(p.analyzers))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, analyzer := range p.analyzers {
		g.Go(func() error {
			step := analyzer.Step()
			actx, cancel := context.WithTimeout(services.WithStep(gctx, string(step)), p.timeout)
			defer cancel()

			started := time.Now()
			breakdown, err := analyzer.Analyze(actx, in)
			p.observer.ObserveAnalyzer(string(step), time.Since(started), err)
			if err != nil {
				if errors.Is(actx.Err(), context.DeadlineExceeded) && gctx.Err() == nil {
					return services.Wrap(services.ErrUpstream, string(step), "analyze", fmt.Sprintf("timed out after %s", p.timeout), err)
				}
				return services.Wrap(services.ErrUpstream, string(step), "analyze", "analyzer failed", err)
			}
			breakdown.Analyzer = string(step)
			breakdown.Score = script.ClampScore(breakdown.Score)

			logger.Debug("analyzer finished",
				logging.String(logging.FieldStep, string(step)),
				logging.Int("score", breakdown.Score),
				logging.Duration("elapsed", time.Since(started)),
			)

			// Reported under the lock so observers see progress in order.
			mu.Lock()
			defer mu.Unlock()
			breakdowns[step] = breakdown
			progress(analyzerProgress(breakdowns))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress(script.JobProgress{Step: script.StepSynthesis, Progress: progressSynthesisStart})
	sctx, cancel := context.WithTimeout(services.WithStep(ctx, string(script.StepSynthesis)), p.timeout)
	defer cancel()
	started := time.Now()
	analysis, err := p.synthesizer.Synthesize(sctx, in, breakdowns)
	p.observer.ObserveAnalyzer(string(script.StepSynthesis), time.Since(started), err)
	if err != nil {
		return nil, services.Wrap(services.ErrUpstream, string(script.StepSynthesis), "synthesize", "synthesis failed", err)
	}
	if analysis == nil {
		return nil, services.Wrap(services.ErrUpstream, string(script.StepSynthesis), "synthesize", "synthesizer returned no analysis", nil)
	}

	finalize(analysis, in, breakdowns)
	logger.Info("script scored",
		logging.Int("overall_score", analysis.OverallScore),
		logging.String("verdict", string(analysis.Verdict)),
		logging.Int("recommendations", len(analysis.Recommendations)),
	)
	return analysis, nil
}

// analyzerProgress reports the first unfinished analyzer in canonical order
// and a percentage proportional to how many have finished.
func analyzerProgress(done map[script.Step]script.Breakdown) script.JobProgress {
	step := script.StepSynthesis
	for _, candidate := range script.AnalyzerSteps {
		if _, ok := done[candidate]; !ok {
			step = candidate
			break
		}
	}
	return script.JobProgress{Step: step, Progress: progressStart + progressPerAnalyzer*len(done)}
}

// finalize fills the common fields a synthesizer may leave empty and
// normalizes the result.
func finalize(analysis *script.Analysis, in Input, breakdowns map[script.Step]script.Breakdown) {
	if analysis.ContentType == "" {
		analysis.ContentType = in.ContentType
	}
	if analysis.Breakdowns == nil {
		analysis.Breakdowns = make(map[string]script.Breakdown, len(breakdowns))
	}
	for step, breakdown := range breakdowns {
		if _, ok := analysis.Breakdowns[string(step)]; !ok {
			analysis.Breakdowns[string(step)] = breakdown
		}
	}
	if len(analysis.SceneScores) == 0 {
		analysis.SceneScores = averageSceneScores(breakdowns)
	}
	for i := range analysis.Recommendations {
		rec := &analysis.Recommendations[i]
		rec.ID = 0
		rec.ScriptVersionID = 0
		rec.AppliedAt = nil
		if rec.CurrentText == "" {
			if scene, ok := in.Scenes.Find(rec.SceneNumber); ok {
				rec.CurrentText = scene.Text
			}
		}
	}
	analysis.Recommendations = sceneScoped(analysis.Recommendations, in.Scenes)
	analysis.Normalize()
}

// sceneScoped keeps recommendations that target a scene present in the
// snapshot and actually change its text. Without scenes every suggestion is
// kept.
func sceneScoped(recs []script.Recommendation, scenes script.Scenes) []script.Recommendation {
	if len(scenes) == 0 {
		return recs
	}
	out := make([]script.Recommendation, 0, len(recs))
	for _, rec := range recs {
		scene, ok := scenes.Find(rec.SceneNumber)
		if !ok || rec.SuggestedText == "" {
			continue
		}
		if scene.Text == rec.SuggestedText {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func averageSceneScores(breakdowns map[script.Step]script.Breakdown) map[int]int {
	sums := map[int]int{}
	counts := map[int]int{}
	for _, breakdown := range breakdowns {
		for number, score := range breakdown.SceneScores {
			sums[number] += script.ClampScore(score)
			counts[number]++
		}
	}
	if len(sums) == 0 {
		return nil
	}
	out := make(map[int]int, len(sums))
	for number, sum := range sums {
		out[number] = (sum + counts[number]/2) / counts[number]
	}
	return out
}
