package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LLM contains the chat-completions connection used by the scoring analyzers.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Scoring controls how a script is analyzed.
type Scoring struct {
	// Provider selects the analyzer implementation: "llm" or "heuristic".
	Provider string `toml:"provider"`
	// Synthesizer selects how sub-scores are combined: "llm" or "weighted".
	Synthesizer            string `toml:"synthesizer"`
	AnalyzerTimeoutSeconds int    `toml:"analyzer_timeout_seconds"`
	CacheTTLSeconds        int    `toml:"cache_ttl_seconds"`
}

// Reanalysis contains job timing configuration.
type Reanalysis struct {
	JobTimeoutSeconds   int `toml:"job_timeout_seconds"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// Recommendations controls bulk application of suggested edits.
type Recommendations struct {
	ApplyThreshold float64 `toml:"apply_threshold"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelforge.
//
// Configuration sections by subsystem:
//   - Paths: database, logs, client state, and API bind address
//   - LLM: chat-completions connection used by analyzers and synthesis
//   - Scoring: analyzer provider, synthesizer mode, per-analyzer timeout
//   - Reanalysis: job wall-clock budget, heartbeats, client poll cadence
//   - Recommendations: bulk-apply eligibility threshold
//   - Logging: log format and level
type Config struct {
	Paths           Paths           `toml:"paths"`
	LLM             LLM             `toml:"llm"`
	Scoring         Scoring         `toml:"scoring"`
	Reanalysis      Reanalysis      `toml:"reanalysis"`
	Recommendations Recommendations `toml:"recommendations"`
	Logging         Logging         `toml:"logging"`
}

// EnsureDirectories creates the data, log, and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range [...]string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.StateDir} {
		if dir = strings.TrimSpace(dir); dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file holding versions, recommendations, and jobs.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "reelforge.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "reelforged.lock")
}

// ResumeCachePath returns the client-side job resume cache file.
func (c *Config) ResumeCachePath() string {
	return filepath.Join(c.Paths.StateDir, "resume.json")
}

// JobTimeout returns the hard wall-clock budget for a reanalysis job.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Reanalysis.JobTimeoutSeconds) * time.Second
}

// AnalyzerTimeout returns the per-analyzer budget inside one pipeline run.
func (c *Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Scoring.AnalyzerTimeoutSeconds) * time.Second
}

// PollInterval returns how often clients poll job status.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reanalysis.PollIntervalSeconds) * time.Second
}

// LLMConfig contains the trimmed LLM settings handed to the client.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
