package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tractkit/internal/atlas"
	"tractkit/internal/config"
	"tractkit/internal/pipeline"
	"tractkit/internal/publish"
	"tractkit/internal/recobundles"
	"tractkit/internal/tractometry"
)

func newAtlasCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "atlas [DIR]",
		Short: "Build a RecobundlesX atlas from manual tracts in DIR",
		Long: "Build a RecobundlesX atlas from the <tag>_<tract>.tck files in DIR.\n" +
			"DIR is asked for when omitted. The manual_review stage waits for\n" +
			"confirmation before opening the cluster review tool.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			console := ctx.console(cmd, cfg)
			dir, err := requireArgsOrPrompt(args, func() (string, error) {
				return console.AskPath("Which folder holds the atlas tracts?")
			})
			if err != nil {
				return err
			}
			builder := atlas.New(cfg, ctx.executor(cfg, logger), console, logger)
			return runStages(cmd, ctx, cfg, logger, dir, builder.Stages())
		},
	}
}

func newRecobundlesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recobundles",
		Short: "Recognize bundles for every subject under the tractoflow root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			builder := recobundles.New(cfg, ctx.executor(cfg, logger), logger)
			return runStages(cmd, ctx, cfg, logger, cfg.Paths.RecoxOutputDir, builder.Stages())
		},
	}
}

func newTractometryCommand(ctx *commandContext) *cobra.Command {
	var preview int
	cmd := &cobra.Command{
		Use:   "tractometry",
		Short: "Compute per-tract statistics and write the dated CSV report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			publisher, err := publish.NewPublisher(cfg, logger)
			if err != nil {
				return err
			}
			builder := tractometry.New(cfg, ctx.executor(cfg, logger), publisher, logger)
			if err := runStages(cmd, ctx, cfg, logger, cfg.Paths.RecoxOutputDir, builder.Stages()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			table := builder.LastTable()
			if table == nil {
				if !cfg.Pipeline.DryRun {
					fmt.Fprintf(out, "Report already up to date: %s\n", builder.ReportPath(time.Now()))
				}
				return nil
			}
			fmt.Fprintf(out, "Report written to %s\n", builder.ReportPath(time.Now()))
			if preview > 0 {
				fmt.Fprintln(out, renderReportPreview(table, preview))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&preview, "preview", 20, "Rows of the report to print (0 disables)")
	return cmd
}

func (c *commandContext) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runStages(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, logger *slog.Logger, dir string, stages []pipeline.Stage) error {
	return ctx.withRunner(cfg, logger, func(runner *pipeline.Runner) error {
		report, err := runner.Run(cmd.Context(), dir, stages)
		if len(report.Stages) > 0 {
			printRunReport(cmd.OutOrStdout(), report)
		}
		return err
	})
}

func printRunReport(out io.Writer, report pipeline.RunReport) {
	headers := []string{"Stage", "Outcome", "Items", "Skipped", "Failed", "Duration"}
	rows := make([][]string, 0, len(report.Stages))
	for _, stage := range report.Stages {
		rows = append(rows, []string{
			pipeline.Label(stage.Stage),
			string(stage.Outcome),
			strconv.Itoa(stage.Items),
			strconv.Itoa(stage.Skipped),
			strconv.Itoa(stage.Failed),
			stage.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight}))
	status := report.Status()
	if report.DryRun {
		status += " (dry run)"
	}
	fmt.Fprintf(out, "Run %s %s\n", report.RunID, status)
}

func renderReportPreview(table *tractometry.Table, limit int) string {
	rows := table.Rows()
	if len(rows) > limit {
		rows = rows[:limit]
	}
	headers := table.Header()
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		record := []string{row.Group, row.Subject, row.Tract}
		for _, stat := range row.Stats {
			record = append(record, stat.Mean, stat.Std, stat.Count)
		}
		records = append(records, record)
	}
	aligns := make([]columnAlignment, len(headers))
	for i := 3; i < len(aligns); i++ {
		aligns[i] = alignRight
	}
	rendered := renderTable(headers, records, aligns)
	if extra := table.Len() - len(rows); extra > 0 {
		rendered += fmt.Sprintf("\n(%d more rows)", extra)
	}
	return rendered
}
