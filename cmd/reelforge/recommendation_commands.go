package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelforge/internal/api"
	"reelforge/internal/reconcile"
	"reelforge/internal/script"
)

func newRecommendationsCommand(ctx *commandContext) *cobra.Command {
	var versionFlag string
	var all bool

	cmd := &cobra.Command{
		Use:     "recommendations <project>",
		Aliases: []string{"recs"},
		Short:   "List recommendations for the current or a given version",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var versionID int64
			if strings.TrimSpace(versionFlag) != "" {
				id, err := parseID(versionFlag, "version id")
				if err != nil {
					return err
				}
				versionID = id
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ListRecommendations(cmd.Context(), args[0], versionID, all)
			if err != nil {
				return err
			}
			return ctx.emit(cmd, resp, func(out io.Writer, _ bool) error {
				fmt.Fprintf(out, "v%d (id %d), bulk threshold %.1f\n", resp.VersionNumber, resp.VersionID, resp.Threshold)
				if len(resp.Recommendations) == 0 {
					fmt.Fprintln(out, "No recommendations")
					return nil
				}
				fmt.Fprintln(out, renderRecommendations(resp.Recommendations))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&versionFlag, "version", "", "Version id (defaults to current)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include applied recommendations")
	return cmd
}

func renderRecommendations(recs []api.Recommendation) string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		state := "open"
		if rec.AppliedAt != "" {
			state = "applied"
		} else if rec.Eligible {
			state = "eligible"
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			strconv.Itoa(rec.SceneNumber),
			rec.Priority,
			strconv.FormatFloat(rec.ScoreDelta, 'f', 1, 64),
			state,
			rec.SourceAgent,
			truncate(rec.SuggestedText, sceneTextWidth),
		})
	}
	return renderTable(
		[]string{"ID", "Scene", "Priority", "Delta", "State", "Source", "Suggestion"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <project> <recommendation-id>",
		Short: "Apply one recommendation, creating a new current version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1], "recommendation id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ApplyRecommendation(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			return ctx.emit(cmd, resp, func(out io.Writer, _ bool) error {
				fmt.Fprintf(out, "Applied recommendation %d to scene %d -> v%d (id %d)\n",
					id, resp.Scene.SceneNumber, resp.Version.VersionNumber, resp.Version.ID)
				if resp.NeedsReanalysis {
					fmt.Fprintf(out, "Run `reelforge reanalyze %s` to rescore\n", args[0])
				}
				return nil
			})
		},
	}
}

// applyAllResult is the CLI view of a reconcile.Outcome.
type applyAllResult struct {
	Version          *api.Version        `json:"version,omitempty" yaml:"version,omitempty"`
	Scenes           []script.Scene      `json:"scenes" yaml:"scenes"`
	PersistedApplied []int64             `json:"persistedApplied" yaml:"persistedApplied"`
	FreshApplied     []int64             `json:"freshApplied,omitempty" yaml:"freshApplied,omitempty"`
	FreshDropped     []int64             `json:"freshDropped,omitempty" yaml:"freshDropped,omitempty"`
	Skipped          []reconcile.Skipped `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	NeedsReanalysis  bool                `json:"needsReanalysis" yaml:"needsReanalysis"`
}

func newApplyAllCommand(ctx *commandContext) *cobra.Command {
	var idFlags []string
	var freshPath string
	var actor string

	cmd := &cobra.Command{
		Use:   "apply-all <project>",
		Short: "Apply every eligible recommendation in one new version",
		Long: "Apply every eligible recommendation in one new version.\n\n" +
			"Recommendations from --fresh are suggestions that were never stored. They are\n" +
			"reconciled against the daemon's result: a fresh edit lands only where the\n" +
			"daemon left the scene untouched, and the combined snapshot is saved as a\n" +
			"human edit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			ids, err := parseIDList(idFlags, "recommendation id")
			if err != nil {
				return err
			}
			var fresh []script.Recommendation
			if freshPath != "" {
				if fresh, err = readRecommendations(freshPath); err != nil {
					return err
				}
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			current, err := client.CurrentVersion(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			listed, err := client.ListRecommendations(cmd.Context(), projectID, current.ID, false)
			if err != nil {
				return err
			}
			stored := make([]script.Recommendation, 0, len(listed.Recommendations))
			for _, dto := range listed.Recommendations {
				if len(ids) > 0 && !slices.Contains(ids, dto.ID) {
					continue
				}
				stored = append(stored, api.ToRecommendation(dto))
			}

			session := reconcile.NewSession(projectID, current.Scenes, stored, listed.Threshold)
			for _, rec := range fresh {
				session.AddFresh(rec)
			}
			outcome, err := session.ApplyAll(cmd.Context(), client)
			if err != nil {
				return err
			}

			result := applyAllResult{
				Scenes:           outcome.Scenes,
				PersistedApplied: outcome.PersistedApplied,
				FreshApplied:     outcome.FreshApplied,
				FreshDropped:     outcome.FreshDropped,
				Skipped:          outcome.Skipped,
				NeedsReanalysis:  outcome.NeedsReanalysis,
			}
			if result.PersistedApplied == nil {
				result.PersistedApplied = []int64{}
			}
			if outcome.Version != nil {
				dto := api.FromVersion(outcome.Version)
				result.Version = &dto
			}
			if outcome.NeedsPersist {
				saved, err := client.CreateVersion(cmd.Context(), projectID, api.CreateVersionRequest{
					Scenes:        outcome.Scenes,
					ChangeSummary: fmt.Sprintf("Applied %d unsaved recommendations", len(outcome.FreshApplied)),
					Actor:         actor,
				})
				if err != nil {
					return fmt.Errorf("save reconciled scenes: %w", err)
				}
				result.Version = &saved.Version
				result.NeedsReanalysis = true
			}

			return ctx.emit(cmd, result, func(out io.Writer, _ bool) error {
				applied := len(result.PersistedApplied) + len(result.FreshApplied)
				if result.Version == nil || applied == 0 {
					fmt.Fprintln(out, "Nothing applied")
				} else {
					fmt.Fprintf(out, "Applied %d recommendations -> v%d (id %d)\n", applied, result.Version.VersionNumber, result.Version.ID)
				}
				for _, s := range result.Skipped {
					fmt.Fprintf(out, "  skipped %d: %s\n", s.ID, s.Reason)
				}
				for _, id := range result.FreshDropped {
					fmt.Fprintf(out, "  dropped unsaved %d: scene changed on the daemon\n", id)
				}
				if result.NeedsReanalysis {
					fmt.Fprintf(out, "Run `reelforge reanalyze %s` to rescore\n", projectID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&idFlags, "ids", nil, "Only consider these stored recommendation ids")
	cmd.Flags().StringVar(&freshPath, "fresh", "", "JSON file of unsaved recommendations to reconcile")
	cmd.Flags().StringVar(&actor, "actor", "", "Who made the change")
	return cmd
}
