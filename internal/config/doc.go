// Package config reads reelforge.toml into a Config.
//
// Load resolves the file (explicit flag, $REELFORGE_CONFIG, the per-user
// path, then ./reelforge.toml), decodes it strictly so misspelled keys fail,
// applies environment overrides for secrets (REELFORGE_API_TOKEN,
// REELFORGE_LLM_API_KEY, OPENROUTER_API_KEY), and validates the result.
// Paths come back absolute with ~ expanded.
package config
