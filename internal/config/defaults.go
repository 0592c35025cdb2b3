package config

const (
	defaultConfigPath                 = "~/.config/reelforge/config.toml"
	defaultDataDir                    = "~/.local/share/reelforge"
	defaultLogDir                     = "~/.local/share/reelforge/logs"
	defaultStateDir                   = "~/.local/state/reelforge"
	defaultAPIBind                    = "127.0.0.1:7488"
	defaultLLMBaseURL                 = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                   = "google/gemini-3-flash-preview"
	defaultLLMReferer                 = "https://github.com/reelforge/reelforge"
	defaultLLMTitle                   = "reelforge"
	defaultLLMTimeoutSeconds          = 60
	defaultScoringProvider            = ProviderLLM
	defaultScoringSynthesizer         = SynthesizerLLM
	defaultAnalyzerTimeoutSeconds     = 90
	defaultCacheTTLSeconds            = 900
	defaultJobTimeoutSeconds          = 120
	defaultReanalysisHeartbeat        = 5
	defaultReanalysisHeartbeatTimeout = 30
	defaultPollIntervalSeconds        = 2
	defaultApplyThreshold             = 6
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
)

// Scoring provider and synthesizer modes.
const (
	ProviderLLM       = "llm"
	ProviderHeuristic = "heuristic"

	SynthesizerLLM      = "llm"
	SynthesizerWeighted = "weighted"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Scoring: Scoring{
			Provider:               defaultScoringProvider,
			Synthesizer:            defaultScoringSynthesizer,
			AnalyzerTimeoutSeconds: defaultAnalyzerTimeoutSeconds,
			CacheTTLSeconds:        defaultCacheTTLSeconds,
		},
		Reanalysis: Reanalysis{
			JobTimeoutSeconds:   defaultJobTimeoutSeconds,
			HeartbeatInterval:   defaultReanalysisHeartbeat,
			HeartbeatTimeout:    defaultReanalysisHeartbeatTimeout,
			PollIntervalSeconds: defaultPollIntervalSeconds,
		},
		Recommendations: Recommendations{
			ApplyThreshold: defaultApplyThreshold,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
