package testsupport

import (
	"path/filepath"
	"testing"

	"reelforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Scoring defaults to the offline heuristic analyzers and weighted synthesis
// so tests never reach the network.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Scoring.Provider = config.ProviderHeuristic
	cfgVal.Scoring.Synthesizer = config.SynthesizerWeighted

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLLM points the config at an LLM endpoint (usually an httptest server)
// and switches scoring to the LLM provider.
func WithLLM(baseURL, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = baseURL
		b.cfg.LLM.APIKey = apiKey
		b.cfg.Scoring.Provider = config.ProviderLLM
		b.cfg.Scoring.Synthesizer = config.SynthesizerLLM
	}
}

// WithJobTimeout overrides the reanalysis wall-clock budget.
func WithJobTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reanalysis.JobTimeoutSeconds = seconds
	}
}

// WithAPIToken sets the bearer token the daemon API requires.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
