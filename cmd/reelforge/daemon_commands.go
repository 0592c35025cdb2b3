package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"reelforge/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the reelforge daemon",
	}

	var logLevel string
	var development bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	runCmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")

	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("daemon at %s: %w", client.BaseURL(), err)
			}
			return ctx.emit(cmd, health, func(out io.Writer, colorize bool) error {
				kind := statusOK
				if health.Status != "ok" {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", kind, client.BaseURL(), colorize))
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, health.DatabasePath, colorize))
				fmt.Fprintln(out, renderStatusLine("Scoring", statusInfo, health.Scoring, colorize))
				fmt.Fprintln(out, renderStatusLine("In-flight jobs", statusInfo, strconv.Itoa(health.InFlightJobs), colorize))
				statuses := make([]string, 0, len(health.JobCounts))
				for status := range health.JobCounts {
					statuses = append(statuses, status)
				}
				sort.Strings(statuses)
				for _, status := range statuses {
					fmt.Fprintln(out, renderStatusLine("Jobs "+status, statusInfo, strconv.Itoa(health.JobCounts[status]), colorize))
				}
				return nil
			})
		},
	}
}
