package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reelforge/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	t.Setenv("REELFORGE_LLM_API_KEY", "")
	t.Setenv(config.ConfigEnvVar, "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "reelforge")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "reelforge.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.JobTimeout() != 120*time.Second {
		t.Fatalf("expected 120s job timeout, got %s", cfg.JobTimeout())
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.PollInterval())
	}
	if cfg.Recommendations.ApplyThreshold != 6 {
		t.Fatalf("expected apply threshold 6, got %v", cfg.Recommendations.ApplyThreshold)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "reelforge.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Scoring struct {
			Provider    string `toml:"provider"`
			Synthesizer string `toml:"synthesizer"`
		} `toml:"scoring"`
		Reanalysis struct {
			JobTimeoutSeconds int `toml:"job_timeout_seconds"`
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"reanalysis"`
		Recommendations struct {
			ApplyThreshold float64 `toml:"apply_threshold"`
		} `toml:"recommendations"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Scoring.Provider = "Heuristic"
	custom.Scoring.Synthesizer = "weighted"
	custom.Reanalysis.JobTimeoutSeconds = 30
	custom.Reanalysis.HeartbeatInterval = 2
	custom.Reanalysis.HeartbeatTimeout = 10
	custom.Recommendations.ApplyThreshold = 4.5
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Scoring.Provider != config.ProviderHeuristic {
		t.Fatalf("expected provider to normalize to heuristic, got %q", cfg.Scoring.Provider)
	}
	if cfg.JobTimeout() != 30*time.Second {
		t.Fatalf("expected 30s job timeout, got %s", cfg.JobTimeout())
	}
	if cfg.Recommendations.ApplyThreshold != 4.5 {
		t.Fatalf("expected threshold 4.5, got %v", cfg.Recommendations.ApplyThreshold)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "reelforge.toml")

	type payload struct {
		Paths struct {
			APIToken string `toml:"api_token"`
		} `toml:"paths"`
		LLM struct {
			APIKey string `toml:"api_key"`
		} `toml:"llm"`
	}
	custom := payload{}
	custom.Paths.APIToken = "file-token"
	custom.LLM.APIKey = "file-key"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("REELFORGE_API_TOKEN", "env-token")
	t.Setenv("REELFORGE_LLM_API_KEY", "env-key")
	t.Setenv("OPENROUTER_API_KEY", "other-key")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Errorf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected REELFORGE_LLM_API_KEY to win, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelforge.toml")
	body := "[scoring]\nprovider = \"heuristic\"\nsynthesizer = \"weighted\"\nweights = 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "weights") {
		t.Fatalf("expected unknown key error naming weights, got %v", err)
	}
}

func TestLoadHonorsConfigEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.toml")
	body := "[scoring]\nprovider = \"heuristic\"\nsynthesizer = \"weighted\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.ConfigEnvVar, path)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != path || !exists {
		t.Fatalf("expected env path %q to be used, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Scoring.Provider != config.ProviderHeuristic {
		t.Fatalf("unexpected provider %q", cfg.Scoring.Provider)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_openrouter_api_key_here") {
		t.Fatalf("sample config missing placeholder key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Reanalysis.JobTimeoutSeconds != 120 {
		t.Fatalf("expected sample job timeout 120, got %d", cfg.Reanalysis.JobTimeoutSeconds)
	}
	if !strings.Contains(cfg.Paths.DataDir, "reelforge") {
		t.Fatalf("expected data dir to contain reelforge, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.LLM.APIKey = "key"
		return cfg
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with key to validate, got %v", err)
	}

	cfg = config.Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for llm provider without api key")
	}

	cfg = config.Default()
	cfg.Scoring.Provider = config.ProviderHeuristic
	cfg.Scoring.Synthesizer = config.SynthesizerWeighted
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected offline scoring to validate without key, got %v", err)
	}

	cfg = valid()
	cfg.Scoring.Synthesizer = "median"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown synthesizer")
	}

	cfg = valid()
	cfg.Reanalysis.JobTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive job timeout")
	}

	cfg = valid()
	cfg.Reanalysis.HeartbeatTimeout = cfg.Reanalysis.HeartbeatInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when timeout <= interval")
	}

	cfg = valid()
	cfg.Recommendations.ApplyThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative threshold")
	}

	cfg = valid()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
