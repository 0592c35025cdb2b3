package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reelforge/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories and the scoring LLM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if err := ctx.emit(cmd, results, func(out io.Writer, colorize bool) error {
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				return nil
			}); err != nil {
				return err
			}
			if preflight.Failed(results) {
				return fmt.Errorf("preflight checks failed")
			}
			return nil
		},
	}
}
