package scoring

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"reelforge/internal/script"
)

// CachedAnalyzer memoizes breakdowns by input content so reanalysis of an
// unchanged script does not pay for the model call twice. Failures are never
// cached.
type CachedAnalyzer struct {
	inner    Analyzer
	cache    *cache.Cache
	observer Observer
}

// NewCache builds the shared breakdown cache.
func NewCache(ttl time.Duration) *cache.Cache {
	return cache.New(ttl, 2*ttl)
}

// WithCache wraps each analyzer with a CachedAnalyzer sharing c. A nil cache
// returns the analyzers unchanged.
func WithCache(analyzers []Analyzer, c *cache.Cache, observer Observer) []Analyzer {
	if c == nil {
		return analyzers
	}
	if observer == nil {
		observer = nopObserver{}
	}
	out := make([]Analyzer, 0, len(analyzers))
	for _, a := range analyzers {
		out = append(out, &CachedAnalyzer{inner: a, cache: c, observer: observer})
	}
	return out
}

func (c *CachedAnalyzer) Step() script.Step { return c.inner.Step() }

func (c *CachedAnalyzer) Analyze(ctx context.Context, in Input) (script.Breakdown, error) {
	key := string(c.inner.Step()) + ":" + in.Key()
	if cached, ok := c.cache.Get(key); ok {
		c.observer.RecordCacheLookup(string(c.inner.Step()), true)
		return cloneBreakdown(cached.(script.Breakdown)), nil
	}
	c.observer.RecordCacheLookup(string(c.inner.Step()), false)
	breakdown, err := c.inner.Analyze(ctx, in)
	if err != nil {
		return script.Breakdown{}, err
	}
	c.cache.SetDefault(key, cloneBreakdown(breakdown))
	return breakdown, nil
}

func cloneBreakdown(b script.Breakdown) script.Breakdown {
	out := b
	out.Strengths = append([]string(nil), b.Strengths...)
	out.Weaknesses = append([]string(nil), b.Weaknesses...)
	out.MatchedPatterns = append([]string(nil), b.MatchedPatterns...)
	out.MissingPatterns = append([]string(nil), b.MissingPatterns...)
	out.Suggestions = append([]script.Recommendation(nil), b.Suggestions...)
	if b.SceneScores != nil {
		out.SceneScores = make(map[int]int, len(b.SceneScores))
		for k, v := range b.SceneScores {
			out.SceneScores[k] = v
		}
	}
	return out
}
