package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tractkit/internal/subject"
)

var errNoSubjects = errors.New("no subjects found")

func newSubjectsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "subjects [ROOT]",
		Short: "List the subjects discovered under ROOT (default: tractoflow root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := cfg.Paths.TractoflowRoot
			if len(args) == 1 {
				root = args[0]
			}
			items, err := subject.Discover(root, cfg.Cohort.Groups)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("%w under %s", errNoSubjects, root)
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{item.Group, item.Tag, item.Path})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Group", "Tag", "Path"}, rows, nil))
			fmt.Fprintf(out, "%d subject(s)\n", len(items))
			return nil
		},
	}
}
