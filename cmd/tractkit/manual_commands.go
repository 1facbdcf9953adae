package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tractkit/internal/manualtrack"
	"tractkit/internal/subject"
)

func newManualCommand(ctx *commandContext) *cobra.Command {
	var tag string
	manualCmd := &cobra.Command{
		Use:   "manual",
		Short: "Manual tractography with ROIs drawn in mrview",
		Long: "SUBJECT_DIR is a tractoflow subject folder with Extract_DTI_Shell/ and\n" +
			"DTI_Metrics/. The tag is read from the directory name unless --tag is given.",
	}
	manualCmd.PersistentFlags().StringVar(&tag, "tag", "", "Subject tag when it cannot be read from SUBJECT_DIR")

	manualCmd.AddCommand(&cobra.Command{
		Use:   "init SUBJECT_DIR TRACT",
		Short: "Create the tract folder and open mrview for ROI drawing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, subjectTag, err := ctx.tracker(args[0], tag)
			if err != nil {
				return err
			}
			dir, err := tracker.Initialize(cmd.Context(), args[0], subjectTag, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Save ROIs for %s in %s\n", args[1], dir)
			fmt.Fprintln(cmd.OutOrStdout(), "Name seeds *seed*.mif, inclusions *include*.mif, exclusions *exclude*.mif.")
			return nil
		},
	})

	var selectCount int
	generate := &cobra.Command{
		Use:   "generate SUBJECT_DIR TRACT",
		Short: "Run tckgen with the ROIs saved for TRACT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, subjectTag, err := ctx.tracker(args[0], tag)
			if err != nil {
				return err
			}
			out, err := tracker.Generate(cmd.Context(), args[0], subjectTag, args[1], selectCount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	generate.Flags().IntVar(&selectCount, "select", 0, "Streamlines to select (0 uses manual_tracking.select)")
	manualCmd.AddCommand(generate)
	return manualCmd
}

func (c *commandContext) tracker(subjectDir, tag string) (*manualtrack.Tracker, string, error) {
	cfg, logger, err := c.setup()
	if err != nil {
		return nil, "", err
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		found, ok := subject.FindTag(filepath.Base(filepath.Clean(subjectDir)))
		if !ok {
			return nil, "", fmt.Errorf("no subject tag in %q; pass --tag", subjectDir)
		}
		tag = found
	}
	exec := c.executor(cfg, logger)
	return manualtrack.New(cfg, exec, exec, logger), tag, nil
}
