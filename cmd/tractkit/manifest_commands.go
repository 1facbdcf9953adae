package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tractkit/internal/manifest"
	"tractkit/internal/pipeline"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	var dir string
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect or reset the completion manifest of a working directory",
		Long: "Every working directory keeps a manifest of completed stage items and\n" +
			"past runs. --dir defaults to the RecobundlesX output directory, which\n" +
			"the recobundles and tractometry commands share.",
	}
	manifestCmd.PersistentFlags().StringVarP(&dir, "dir", "d", "", "Working directory whose manifest to open")

	openStore := func(cmd *cobra.Command) (*manifest.Store, error) {
		target := strings.TrimSpace(dir)
		if target == "" {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return nil, err
			}
			target = cfg.Paths.RecoxOutputDir
		}
		return manifest.Open(cmd.Context(), target)
	}

	manifestCmd.AddCommand(newManifestRunsCommand(openStore))
	manifestCmd.AddCommand(newManifestMarkersCommand(openStore))
	manifestCmd.AddCommand(newManifestClearCommand(openStore))
	return manifestCmd
}

type storeOpener func(cmd *cobra.Command) (*manifest.Store, error)

func newManifestRunsCommand(open storeOpener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent runs and their stage outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for i, run := range runs {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "Run %s %s (%s, %s)\n", run.ID, run.Status,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
				if run.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", run.Error)
				}
				rows := make([][]string, 0, len(run.Stages))
				for _, stage := range run.Stages {
					rows = append(rows, []string{
						pipeline.Label(stage.Stage),
						stage.Outcome,
						strconv.Itoa(stage.Items),
						strconv.Itoa(stage.Skipped),
						strconv.Itoa(stage.Failed),
						stage.Duration.String(),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Outcome", "Items", "Skipped", "Failed", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Number of runs to show (0 shows all)")
	return cmd
}

func newManifestMarkersCommand(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "markers [STAGE]",
		Short: "List completed items, optionally for one stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			stage := ""
			if len(args) == 1 {
				stage = args[0]
			}
			markers, err := store.Markers(cmd.Context(), stage)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(markers))
			for _, marker := range markers {
				rows = append(rows, []string{
					marker.Stage,
					marker.Key,
					strconv.Itoa(len(marker.Outputs)),
					marker.CompletedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Stage", "Item", "Outputs", "Completed"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			fmt.Fprintf(out, "%d marker(s)\n", len(markers))
			return nil
		},
	}
}

func newManifestClearCommand(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "clear STAGE",
		Short: "Forget completed items of STAGE so the next run redoes them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Clear(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d marker(s) for stage %s\n", removed, args[0])
			return nil
		},
	}
}
