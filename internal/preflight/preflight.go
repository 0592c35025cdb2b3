package preflight

import (
	"context"

	"reelforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
	Detail string `json:"detail" yaml:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDatabase(ctx, "Database", cfg.DatabasePath()),
	}

	if usesLLM(cfg) {
		results = append(results, CheckLLM(ctx, "Scoring LLM", cfg.GetLLM()))
	}

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

func usesLLM(cfg *config.Config) bool {
	return cfg.Scoring.Provider == config.ProviderLLM || cfg.Scoring.Synthesizer == config.SynthesizerLLM
}
