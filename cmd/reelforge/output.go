package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func (c *commandContext) validateOutput() error {
	switch strings.ToLower(strings.TrimSpace(c.flags.output)) {
	case "", outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want table, json, or yaml)", c.flags.output)
	}
}

func (c *commandContext) outputFormat() string {
	format := strings.ToLower(strings.TrimSpace(c.flags.output))
	if format == "" {
		return outputTable
	}
	return format
}

// emit writes v as JSON or YAML when requested, otherwise calls render.
func (c *commandContext) emit(cmd *cobra.Command, v any, render func(out io.Writer, colorize bool) error) error {
	switch c.outputFormat() {
	case outputJSON:
		return writeJSON(cmd, v)
	case outputYAML:
		return writeYAML(cmd, v)
	}
	out := cmd.OutOrStdout()
	return render(out, shouldColorize(out))
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorVerdict(verdict string, colorize bool) string {
	if !colorize || verdict == "" {
		return verdict
	}
	switch verdict {
	case "viral", "strong":
		return ansiGreen + verdict + ansiReset
	case "moderate":
		return ansiYellow + verdict + ansiReset
	default:
		return ansiRed + verdict + ansiReset
	}
}

func colorJobStatus(status string, colorize bool) string {
	if !colorize {
		return status
	}
	switch status {
	case "done":
		return ansiGreen + status + ansiReset
	case "error":
		return ansiRed + status + ansiReset
	default:
		return ansiYellow + status + ansiReset
	}
}
