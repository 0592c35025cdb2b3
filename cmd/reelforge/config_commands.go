package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"reelforge/internal/config"
)

const redacted = "********"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check, and print configuration",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var target string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configTarget(target)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(path)
				if statErr == nil {
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", path)
				}
				if !errors.Is(statErr, fs.ErrNotExist) {
					return fmt.Errorf("check %s: %w", path, statErr)
				}
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", path)
			fmt.Fprintln(out, "LLM scoring needs llm.api_key or REELFORGE_LLM_API_KEY; set scoring.provider = \"heuristic\" to score offline.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "path", "p", "", "Destination (defaults to ~/.config/reelforge/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func configTarget(flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("resolve default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(strings.TrimSpace(flagValue))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", flagValue, err)
	}
	return path, nil
}

type configSummary struct {
	Path           string  `json:"path" yaml:"path"`
	FileExists     bool    `json:"fileExists" yaml:"fileExists"`
	DataDir        string  `json:"dataDir" yaml:"dataDir"`
	APIBind        string  `json:"apiBind" yaml:"apiBind"`
	Scoring        string  `json:"scoring" yaml:"scoring"`
	ApplyThreshold float64 `json:"applyThreshold" yaml:"applyThreshold"`
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load and validate the configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(ctx.flags.config))
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("configured directories: %w", err)
			}
			summary := configSummary{
				Path:           path,
				FileExists:     exists,
				DataDir:        cfg.Paths.DataDir,
				APIBind:        cfg.Paths.APIBind,
				Scoring:        cfg.Scoring.Provider + "/" + cfg.Scoring.Synthesizer,
				ApplyThreshold: cfg.Recommendations.ApplyThreshold,
			}
			return ctx.emit(cmd, summary, func(out io.Writer, colorize bool) error {
				source := summary.Path
				if !exists {
					source += " (not found, using defaults)"
				}
				fmt.Fprintln(out, renderStatusLine("Config", statusOK, source, colorize))
				fmt.Fprintln(out, renderStatusLine("Data directory", statusInfo, summary.DataDir, colorize))
				fmt.Fprintln(out, renderStatusLine("API bind", statusInfo, summary.APIBind, colorize))
				fmt.Fprintln(out, renderStatusLine("Scoring", statusInfo, summary.Scoring, colorize))
				fmt.Fprintln(out, renderStatusLine("Apply threshold", statusInfo, fmt.Sprintf("%.1f", summary.ApplyThreshold), colorize))
				return nil
			})
		},
	}
}

// newConfigShowCommand prints the effective configuration with secrets
// masked. Table output is TOML so it can be pasted back into a config file.
func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			masked := *cfg
			if masked.LLM.APIKey != "" {
				masked.LLM.APIKey = redacted
			}
			if masked.Paths.APIToken != "" {
				masked.Paths.APIToken = redacted
			}
			return ctx.emit(cmd, masked, func(out io.Writer, _ bool) error {
				data, err := toml.Marshal(masked)
				if err != nil {
					return fmt.Errorf("encode config: %w", err)
				}
				_, err = out.Write(data)
				return err
			})
		},
	}
}
