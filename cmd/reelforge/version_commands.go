package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelforge/internal/api"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			projects, err := client.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			return ctx.emit(cmd, api.ProjectListResponse{Projects: projects}, func(out io.Writer, _ bool) error {
				if len(projects) == 0 {
					fmt.Fprintln(out, "No projects")
					return nil
				}
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.ProjectID,
						strconv.Itoa(p.VersionCount),
						"v" + strconv.Itoa(p.CurrentVersion),
						yesNo(p.HasCandidate),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Project", "Versions", "Current", "Candidate"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <project>",
		Short: "List a project's versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			versions, err := client.ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return ctx.emit(cmd, api.VersionListResponse{Versions: versions}, func(out io.Writer, colorize bool) error {
				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					rows = append(rows, []string{
						strconv.FormatInt(v.ID, 10),
						"v" + strconv.Itoa(v.VersionNumber),
						versionRole(v),
						formatScore(v.AnalysisScore),
						colorVerdict(v.Verdict, colorize),
						v.Provenance.Source,
						shortTime(v.CreatedAt),
						truncate(v.ChangeSummary, 40),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Version", "Role", "Score", "Verdict", "Source", "Created", "Summary"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project> [version-id|current]",
		Short: "Show one version's scenes and score",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var v *api.Version
			if len(args) == 1 || strings.EqualFold(args[1], "current") {
				v, err = client.CurrentVersion(cmd.Context(), args[0])
			} else {
				var id int64
				if id, err = parseID(args[1], "version id"); err != nil {
					return err
				}
				v, err = client.GetVersion(cmd.Context(), args[0], id)
			}
			if err != nil {
				return err
			}
			return ctx.emit(cmd, api.VersionResponse{Version: *v}, func(out io.Writer, colorize bool) error {
				renderVersionDetail(out, *v, colorize)
				return nil
			})
		},
	}
}

func renderVersionDetail(out io.Writer, v api.Version, colorize bool) {
	fmt.Fprintf(out, "%s v%d (id %d, %s)\n", v.ProjectID, v.VersionNumber, v.ID, versionRole(v))
	fmt.Fprintf(out, "Source:  %s", v.Provenance.Source)
	if v.Provenance.Actor != "" {
		fmt.Fprintf(out, " by %s", v.Provenance.Actor)
	}
	fmt.Fprintln(out)
	if v.ChangeSummary != "" {
		fmt.Fprintf(out, "Summary: %s\n", v.ChangeSummary)
	}
	if v.AnalysisScore != nil {
		fmt.Fprintf(out, "Score:   %d (%s)\n", *v.AnalysisScore, colorVerdict(v.Verdict, colorize))
	}
	rows := make([][]string, 0, len(v.Scenes))
	for _, scene := range v.Scenes {
		score := "-"
		if v.AnalysisResult != nil {
			if s, ok := v.AnalysisResult.SceneScores[scene.SceneNumber]; ok {
				score = strconv.Itoa(s)
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(scene.SceneNumber),
			strconv.FormatFloat(scene.DurationSeconds, 'f', 1, 64),
			score,
			truncate(scene.Text, sceneTextWidth),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Scene", "Seconds", "Score", "Text"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft},
	))
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var scenesPath, analysisPath, summary, actor string
	var score int

	cmd := &cobra.Command{
		Use:   "create <project>",
		Short: "Save a scene snapshot as the project's current version",
		Long: "Save a scene snapshot as the project's current version. Saving content\n" +
			"identical to an existing version is a no-op that returns that version.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenes, err := readScenes(scenesPath)
			if err != nil {
				return err
			}
			req := api.CreateVersionRequest{Scenes: scenes, ChangeSummary: summary, Actor: actor}
			if analysisPath != "" {
				if req.AnalysisResult, err = readAnalysis(analysisPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("score") {
				req.AnalysisScore = &score
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.CreateVersion(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return ctx.emit(cmd, resp, func(out io.Writer, _ bool) error {
				if resp.AlreadyExists {
					fmt.Fprintf(out, "Unchanged: matches v%d (id %d)\n", resp.Version.VersionNumber, resp.Version.ID)
				} else {
					fmt.Fprintf(out, "Saved v%d (id %d)\n", resp.Version.VersionNumber, resp.Version.ID)
				}
				fmt.Fprintf(out, "Unapplied recommendations: %d\n", resp.RecommendationsCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&scenesPath, "scenes", "f", "", "Scenes JSON file (- for stdin)")
	cmd.Flags().StringVar(&analysisPath, "analysis", "", "Analysis result JSON to attach")
	cmd.Flags().IntVar(&score, "score", 0, "Override the attached analysis score")
	cmd.Flags().StringVarP(&summary, "summary", "m", "", "Change summary")
	cmd.Flags().StringVar(&actor, "actor", "", "Who made the change")
	_ = cmd.MarkFlagRequired("scenes")
	return cmd
}

func newAcceptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <project> <version-id>",
		Short: "Promote the scored candidate to current",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1], "version id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := client.AcceptVersion(cmd.Context(), args[0], id)
			return ctx.emitVersion(cmd, "Accepted", v, err)
		},
	}
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <project>",
		Short: "Discard the project's candidate version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := client.RejectCandidate(cmd.Context(), args[0])
			return ctx.emitVersion(cmd, "Rejected", v, err)
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <version-id>",
		Short: "Delete a candidate version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1], "version id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := client.DeleteVersion(cmd.Context(), args[0], id)
			return ctx.emitVersion(cmd, "Deleted", v, err)
		},
	}
}

func newRevertCommand(ctx *commandContext) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "revert <project> <version-id>",
		Short: "Create a new current version from an earlier one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1], "version id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := client.RevertToVersion(cmd.Context(), args[0], id, actor)
			return ctx.emitVersion(cmd, "Reverted to new", v, err)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Who requested the revert")
	return cmd
}

func (c *commandContext) emitVersion(cmd *cobra.Command, verb string, v *api.Version, err error) error {
	if err != nil {
		return err
	}
	return c.emit(cmd, api.VersionResponse{Version: *v}, func(out io.Writer, _ bool) error {
		fmt.Fprintf(out, "%s v%d (id %d)\n", verb, v.VersionNumber, v.ID)
		return nil
	})
}

func newCompareCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <project> <base-id> <target-id>",
		Short: "Diff two versions scene by scene",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseID(args[1], "base version id")
			if err != nil {
				return err
			}
			target, err := parseID(args[2], "target version id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			cmp, err := client.CompareVersions(cmd.Context(), args[0], base, target)
			if err != nil {
				return err
			}
			return ctx.emit(cmd, cmp, func(out io.Writer, colorize bool) error {
				renderComparison(out, cmp, colorize)
				return nil
			})
		},
	}
}

func renderComparison(out io.Writer, cmp *api.Comparison, colorize bool) {
	fmt.Fprintf(out, "v%d (%s, %s) -> v%d (%s, %s)\n",
		cmp.Base.VersionNumber, formatScore(cmp.Base.AnalysisScore), colorVerdict(cmp.Base.Verdict, colorize),
		cmp.Candidate.VersionNumber, formatScore(cmp.Candidate.AnalysisScore), colorVerdict(cmp.Candidate.Verdict, colorize),
	)
	fmt.Fprintf(out, "Overall: %s  Changed scenes: %d  Duration: %+.1fs\n",
		formatDelta(cmp.Deltas.Overall), cmp.Deltas.ChangedScenes, cmp.Deltas.DurationChange)

	rows := make([][]string, 0, len(cmp.Deltas.Scenes))
	for _, d := range cmp.Deltas.Scenes {
		text := d.TargetText
		if text == "" {
			text = d.BaseText
		}
		rows = append(rows, []string{
			strconv.Itoa(d.SceneNumber),
			d.Status,
			strconv.FormatFloat(d.Similarity, 'f', 2, 64),
			formatDelta(d.ScoreDelta),
			truncate(text, sceneTextWidth),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Scene", "Status", "Similarity", "Score", "Text"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
	))
}
