package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelforge/internal/api"
	"reelforge/internal/apiclient"
	"reelforge/internal/resume"
	"reelforge/internal/services"
)

func newReanalyzeCommand(ctx *commandContext) *cobra.Command {
	var scenesPath, key, contentType, summary, actor string
	var noWait bool

	cmd := &cobra.Command{
		Use:   "reanalyze <project>",
		Short: "Submit edited scenes for scoring and follow the job",
		Long: "Submit edited scenes for scoring and follow the job.\n\n" +
			"The submission is recorded in the resume cache before polling starts, so an\n" +
			"interrupted wait can be picked up with `reelforge resume <project>`.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			scenes, err := readScenes(scenesPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(key) == "" {
				key = "edit:" + scenes.ContentHash()
			}
			payload := resume.Payload{
				Scenes:         scenes,
				FullScript:     scenes.FullText(),
				IdempotencyKey: key,
				ContentType:    contentType,
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			cache, err := ctx.resumeCache()
			if err != nil {
				return err
			}
			started, err := submit(cmd.Context(), client, projectID, payload, summary, actor)
			if err != nil {
				return err
			}
			if started.Conflict {
				fmt.Fprintf(cmd.ErrOrStderr(), "Job %s is already %s for %s; following it\n", started.JobID, started.Status, projectID)
			}
			if err := cache.Save(resume.Entry{ProjectID: projectID, JobID: started.JobID, LastPayload: payload}); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: unable to record resume entry: %v\n", err)
			}
			if noWait {
				return ctx.emit(cmd, started, func(out io.Writer, _ bool) error {
					fmt.Fprintf(out, "Job %s %s\n", started.JobID, started.Status)
					return nil
				})
			}
			return ctx.follow(cmd, client, cache, projectID, started.JobID)
		},
	}
	cmd.Flags().StringVarP(&scenesPath, "scenes", "f", "", "Scenes JSON file (- for stdin)")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key (defaults to the content hash)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "reel, news, or custom (defaults to the current version's)")
	cmd.Flags().StringVarP(&summary, "summary", "m", "", "Change summary")
	cmd.Flags().StringVar(&actor, "actor", "", "Who made the change")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the job is queued")
	_ = cmd.MarkFlagRequired("scenes")
	return cmd
}

func submit(ctx context.Context, client *apiclient.Client, projectID string, payload resume.Payload, summary, actor string) (*api.StartReanalysisResponse, error) {
	return client.StartReanalysis(ctx, projectID, api.StartReanalysisRequest{
		Scenes:         payload.Scenes,
		FullScript:     payload.FullScript,
		IdempotencyKey: payload.IdempotencyKey,
		ContentType:    payload.ContentType,
		ChangeSummary:  summary,
		Actor:          actor,
	})
}

// follow polls the job until it finishes, then clears the resume entry.
// An interrupted wait leaves the entry in place.
func (c *commandContext) follow(cmd *cobra.Command, client *apiclient.Client, cache *resume.Cache, projectID, jobID string) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	progress := cmd.ErrOrStderr()
	lastStep := ""
	lastProgress := -1
	job, err := client.WaitForJob(cmd.Context(), projectID, jobID, cfg.PollInterval(), func(j api.Job) {
		if c.outputFormat() != outputTable || (j.Step == lastStep && j.Progress == lastProgress) {
			return
		}
		lastStep, lastProgress = j.Step, j.Progress
		fmt.Fprintf(progress, "  %3d%%  %s\n", j.Progress, j.Step)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(progress, "Stopped waiting; run `reelforge resume %s` to continue\n", projectID)
		}
		return err
	}
	if err := cache.Clear(projectID); err != nil {
		fmt.Fprintf(progress, "warn: unable to clear resume entry: %v\n", err)
	}
	if err := c.emit(cmd, job, func(out io.Writer, colorize bool) error {
		renderJob(out, *job, colorize)
		return nil
	}); err != nil {
		return err
	}
	if job.Error != "" {
		return fmt.Errorf("job %s failed: %s", job.JobID, job.Error)
	}
	return nil
}

func renderJob(out io.Writer, job api.Job, colorize bool) {
	fmt.Fprintf(out, "Job %s: %s (%d%%)\n", job.JobID, colorJobStatus(job.Status, colorize), job.Progress)
	if job.CandidateVersionID != nil {
		fmt.Fprintf(out, "Candidate version id: %d\n", *job.CandidateVersionID)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error (%s): %s\n", job.ErrorKind, job.Error)
		if job.CanRetry {
			fmt.Fprintf(out, "Retry with `reelforge retry %s %s`\n", job.ProjectID, job.JobID)
		}
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [project]",
		Short: "List or continue interrupted reanalysis waits",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := ctx.resumeCache()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				entries, err := cache.List()
				if err != nil {
					return err
				}
				return ctx.emit(cmd, entries, func(out io.Writer, _ bool) error {
					if len(entries) == 0 {
						fmt.Fprintln(out, "Nothing to resume")
						return nil
					}
					rows := make([][]string, 0, len(entries))
					for _, e := range entries {
						rows = append(rows, []string{e.ProjectID, e.JobID, strconv.Itoa(len(e.LastPayload.Scenes)), e.SavedAt.Local().Format("2006-01-02 15:04:05")})
					}
					fmt.Fprintln(out, renderTable([]string{"Project", "Job", "Scenes", "Saved"}, rows,
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
					return nil
				})
			}

			projectID := args[0]
			entry, ok, err := cache.Load(projectID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("nothing to resume for %s", projectID)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobID := entry.JobID
			if _, err := client.JobStatus(cmd.Context(), projectID, jobID); err != nil {
				if !errors.Is(err, services.ErrNotFound) {
					return err
				}
				// The daemon lost the job; the idempotency key makes resubmission safe.
				started, err := submit(cmd.Context(), client, projectID, entry.LastPayload, "", "")
				if err != nil {
					return err
				}
				jobID = started.JobID
				entry.JobID = jobID
				if err := cache.Save(entry); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: unable to record resume entry: %v\n", err)
				}
			}
			return ctx.follow(cmd, client, cache, projectID, jobID)
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <project>",
		Short: "List a project's reanalysis jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return ctx.emit(cmd, api.JobListResponse{Jobs: jobs}, func(out io.Writer, colorize bool) error {
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, j := range jobs {
					candidate := "-"
					if j.CandidateVersionID != nil {
						candidate = strconv.FormatInt(*j.CandidateVersionID, 10)
					}
					rows = append(rows, []string{
						j.JobID,
						colorJobStatus(j.Status, colorize),
						strconv.Itoa(j.Progress) + "%",
						candidate,
						strconv.Itoa(j.Attempt),
						shortTime(j.CreatedAt),
						truncate(j.Error, 40),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Status", "Progress", "Candidate", "Attempt", "Created", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "retry <project> <job-id>",
		Short: "Retry a failed reanalysis job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			started, err := client.RetryJob(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if started.Conflict {
				fmt.Fprintf(cmd.ErrOrStderr(), "Job %s is already %s; following it\n", started.JobID, started.Status)
			}
			if noWait {
				return ctx.emit(cmd, started, func(out io.Writer, _ bool) error {
					fmt.Fprintf(out, "Job %s %s\n", started.JobID, started.Status)
					return nil
				})
			}
			cache, err := ctx.resumeCache()
			if err != nil {
				return err
			}
			return ctx.follow(cmd, client, cache, args[0], started.JobID)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the job is queued")
	return cmd
}
