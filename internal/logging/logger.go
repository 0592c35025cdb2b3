package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"reelforge/internal/config"
)

// Options controls New.
type Options struct {
	Level  string
	Format string // "console" (default) or "json"
	// Outputs lists destinations: "stdout", "stderr", or a file path that is
	// appended to. Ignored when Writer is set.
	Outputs     []string
	Development bool
	Writer      io.Writer
}

// New builds a logger. Source locations are attached in development mode and
// at debug level.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))
	source := opts.Development || level.Level() <= slog.LevelDebug

	w := opts.Writer
	if w == nil {
		var err error
		if w, err = openOutputs(opts.Outputs); err != nil {
			return nil, err
		}
	}

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		return slog.New(newConsoleHandler(w, level, source)), nil
	case "json":
		return slog.New(newJSONHandler(w, level, source)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig logs to stderr and, when cfg has a log directory, mirrors to
// <log_dir>/<name>.log. A nil cfg yields an info-level console logger.
func NewFromConfig(cfg *config.Config, name string) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}
	outputs := []string{"stderr"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" && name != "" {
		outputs = append(outputs, filepath.Join(dir, name+".log"))
	}
	return New(Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Outputs: outputs})
}

// ParseLevel maps a config level name onto slog. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func openOutputs(outputs []string) (io.Writer, error) {
	var targets []string
	for _, out := range outputs {
		if out = strings.TrimSpace(out); out != "" && !slices.Contains(targets, out) {
			targets = append(targets, out)
		}
	}
	if len(targets) == 0 {
		return os.Stderr, nil
	}

	writers := make([]io.Writer, 0, len(targets))
	for _, target := range targets {
		w, err := openOutput(target)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log dir for %s: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	return f, nil
}
