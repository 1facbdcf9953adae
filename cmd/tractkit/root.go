package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "tractkit",
		Short:         "Diffusion MRI tractography pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.IntVarP(&flags.workers, "workers", "w", 0, "Items processed concurrently within a stage (overrides config)")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Log external commands instead of running them")
	pf.BoolVarP(&flags.yes, "yes", "y", false, "Answer yes to confirmation prompts")

	rootCmd.AddCommand(newAtlasCommand(ctx))
	rootCmd.AddCommand(newRecobundlesCommand(ctx))
	rootCmd.AddCommand(newTractometryCommand(ctx))
	rootCmd.AddCommand(newManualCommand(ctx))
	rootCmd.AddCommand(newSubjectsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newManifestCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
