package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tractkit/internal/deps"
	"tractkit/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var pipelineName string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check directories, external tools, and optional sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pipelines := deps.Pipelines()
			if name := strings.TrimSpace(pipelineName); name != "" {
				if !containsString(pipelines, name) {
					return fmt.Errorf("unknown pipeline %q (want one of %s)", name, strings.Join(pipelines, ", "))
				}
				pipelines = []string{name}
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			path := ctx.configPath
			if path == "" {
				path = "defaults"
			}
			lines = append(lines, renderStatusLine("Config", statusInfo, path, colorize))
			mode := "Live"
			if cfg.Pipeline.DryRun {
				mode = "Dry run"
			}
			lines = append(lines, renderStatusLine("Mode", statusInfo, fmt.Sprintf("%s, %d worker(s)", mode, cfg.Pipeline.Workers), colorize))

			// Sinks are reported separately so disabled ones show up too.
			paths := *cfg
			paths.Storage.Enabled = false
			paths.Events.Enabled = false
			paths.Database.Enabled = false
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Directories", colorize)...)
			lines = append(lines, preflightLines(preflight.RunAll(cmd.Context(), &paths), statusError, colorize)...)

			for _, name := range pipelines {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Tools: "+name, colorize)...)
				lines = append(lines, dependencyLines(preflight.CheckSystemDeps(cfg, name), colorize)...)
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Sinks", colorize)...)
			lines = append(lines, preflightLines(preflight.SinkStatus(cmd.Context(), cfg), statusWarn, colorize)...)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Only check tools for this pipeline")
	return cmd
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
