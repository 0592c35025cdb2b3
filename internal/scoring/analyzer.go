package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"reelforge/internal/script"
	"reelforge/internal/services"
)

// Input is what every analyzer sees.
type Input struct {
	ProjectID   string
	Scenes      script.Scenes
	FullScript  string
	ContentType script.ContentType
}

// Text returns the script text to analyze, preferring the submitted full
// script over the rendered scene list.
func (in Input) Text() string {
	if text := strings.TrimSpace(in.FullScript); text != "" {
		return text
	}
	return in.Scenes.FullText()
}

// Key identifies the input by content for caching.
func (in Input) Key() string {
	h := sha256.New()
	h.Write([]byte(in.ContentType))
	h.Write([]byte{0})
	h.Write([]byte(in.Text()))
	h.Write([]byte{0})
	h.Write([]byte(in.Scenes.ContentHash()))
	return hex.EncodeToString(h.Sum(nil))
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Text()) == "" {
		return services.Wrap(services.ErrValidation, "", "score", "script text is empty", nil)
	}
	if len(in.Scenes) > 0 {
		if err := in.Scenes.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Analyzer scores one aspect of a script.
type Analyzer interface {
	Step() script.Step
	Analyze(ctx context.Context, in Input) (script.Breakdown, error)
}

// Synthesizer combines the four breakdowns into the final analysis.
type Synthesizer interface {
	Synthesize(ctx context.Context, in Input, breakdowns map[script.Step]script.Breakdown) (*script.Analysis, error)
}

// Observer receives per-analyzer timings and cache lookups.
type Observer interface {
	ObserveAnalyzer(analyzer string, d time.Duration, err error)
	RecordCacheLookup(analyzer string, hit bool)
}

type nopObserver struct{}

func (nopObserver) ObserveAnalyzer(string, time.Duration, error) {}
func (nopObserver) RecordCacheLookup(string, bool)               {}

// AnalyzerFunc adapts a function into an Analyzer.
type AnalyzerFunc struct {
	Name script.Step
	Fn   func(ctx context.Context, in Input) (script.Breakdown, error)
}

func (f AnalyzerFunc) Step() script.Step { return f.Name }

func (f AnalyzerFunc) Analyze(ctx context.Context, in Input) (script.Breakdown, error) {
	return f.Fn(ctx, in)
}
