package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateReanalysis(); err != nil {
		return err
	}
	if err := c.validateRecommendations(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateScoring() error {
	switch c.Scoring.Provider {
	case ProviderLLM:
		if c.LLM.APIKey == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("llm.api_key is required when scoring.provider is %q. Set OPENROUTER_API_KEY or edit %s (create with 'reelforge config init')", ProviderLLM, defaultPath)
		}
	case ProviderHeuristic:
	default:
		return fmt.Errorf("scoring.provider: unsupported value %q", c.Scoring.Provider)
	}
	switch c.Scoring.Synthesizer {
	case SynthesizerLLM:
		if c.Scoring.Provider == ProviderHeuristic && c.LLM.APIKey == "" {
			return errors.New("scoring.synthesizer \"llm\" requires llm.api_key; use \"weighted\" for offline scoring")
		}
	case SynthesizerWeighted:
	default:
		return fmt.Errorf("scoring.synthesizer: unsupported value %q", c.Scoring.Synthesizer)
	}
	if c.Scoring.AnalyzerTimeoutSeconds <= 0 {
		return errors.New("scoring.analyzer_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateReanalysis() error {
	if c.Reanalysis.JobTimeoutSeconds <= 0 {
		return errors.New("reanalysis.job_timeout_seconds must be positive")
	}
	if c.Reanalysis.HeartbeatInterval <= 0 {
		return errors.New("reanalysis.heartbeat_interval must be positive")
	}
	if c.Reanalysis.HeartbeatTimeout <= c.Reanalysis.HeartbeatInterval {
		return errors.New("reanalysis.heartbeat_timeout must be greater than heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRecommendations() error {
	if c.Recommendations.ApplyThreshold < 0 {
		return errors.New("recommendations.apply_threshold must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
