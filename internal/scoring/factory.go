package scoring

import (
	"fmt"
	"log/slog"
	"time"

	"reelforge/internal/config"
	"reelforge/internal/logging"
	"reelforge/internal/services/llm"
)

// TokenRecorder is implemented by observers that also account for LLM
// token usage.
type TokenRecorder interface {
	RecordTokens(model string, prompt, completion int)
}

// New builds the pipeline described by cfg. client may be nil, in which case
// an LLM client is constructed from cfg when a model-backed component is
// configured.
func New(cfg *config.Config, client Completer, observer Observer, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scoring: config required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "scoring")
	needsLLM := cfg.Scoring.Provider == config.ProviderLLM || cfg.Scoring.Synthesizer == config.SynthesizerLLM
	if needsLLM && client == nil {
		var opts []llm.Option
		if rec, ok := observer.(TokenRecorder); ok {
			opts = append(opts, llm.WithUsageObserver(func(model string, u llm.Usage) {
				rec.RecordTokens(model, u.PromptTokens, u.CompletionTokens)
			}))
		}
		client = llm.NewClient(llm.Config(cfg.GetLLM()), opts...)
	}

	var analyzers []Analyzer
	switch cfg.Scoring.Provider {
	case config.ProviderLLM:
		analyzers = LLMAnalyzers(client)
	case config.ProviderHeuristic:
		analyzers = HeuristicAnalyzers()
	default:
		return nil, fmt.Errorf("scoring: unknown provider %q", cfg.Scoring.Provider)
	}
	if ttl := time.Duration(cfg.Scoring.CacheTTLSeconds) * time.Second; ttl > 0 {
		analyzers = WithCache(analyzers, NewCache(ttl), observer)
	}

	var synth Synthesizer
	switch cfg.Scoring.Synthesizer {
	case config.SynthesizerLLM:
		synth = NewLLMSynthesizer(client)
	case config.SynthesizerWeighted:
		synth = WeightedSynthesizer{}
	default:
		return nil, fmt.Errorf("scoring: unknown synthesizer %q", cfg.Scoring.Synthesizer)
	}

	logger.Debug("scoring pipeline configured",
		logging.String("provider", cfg.Scoring.Provider),
		logging.String("synthesizer", cfg.Scoring.Synthesizer),
		logging.Duration("analyzer_timeout", cfg.AnalyzerTimeout()),
	)
	return NewPipeline(analyzers, synth,
		WithAnalyzerTimeout(cfg.AnalyzerTimeout()),
		WithObserver(observer),
		WithLogger(logger),
	)
}
