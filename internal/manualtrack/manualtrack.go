package manualtrack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"tractkit/internal/command"
	"tractkit/internal/config"
	"tractkit/internal/deps"
	"tractkit/internal/logging"
	"tractkit/internal/services"
	"tractkit/internal/subject"
)

// TractsDir is the folder inside a subject directory that holds one folder
// of ROIs per manually tracked tract.
const TractsDir = "Manual_Tractography"

// Tracker runs the manual tractography tools for one subject at a time.
type Tracker struct {
	cfg      *config.Config
	exec     command.Executor
	launcher command.Launcher
	logger   *slog.Logger
}

// New constructs a Tracker. launcher starts the viewer without waiting.
func New(cfg *config.Config, exec command.Executor, launcher command.Launcher, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:      cfg,
		exec:     exec,
		launcher: launcher,
		logger:   logging.NewComponentLogger(logger, "manualtrack"),
	}
}

type inputs struct {
	dwi  string
	rgb  string
	bval string
	bvec string
}

func subjectInputs(subjectDir, tag string) inputs {
	shell := filepath.Join(subjectDir, "Extract_DTI_Shell")
	return inputs{
		dwi:  filepath.Join(shell, tag+"__dwi_dti.nii.gz"),
		rgb:  filepath.Join(subjectDir, "DTI_Metrics", tag+"__rgb.nii.gz"),
		bval: filepath.Join(shell, tag+"__bval_dti"),
		bvec: filepath.Join(shell, tag+"__bvec_dti"),
	}
}

// TractDir returns the ROI folder for tract.
func TractDir(subjectDir, tract string) string {
	return filepath.Join(subjectDir, TractsDir, tract)
}

func validate(op, tag, tract string) error {
	if !subject.IsTag(tag) {
		return services.Wrap(services.ErrValidation, "manual", op, fmt.Sprintf("%q is not a subject tag", tag), nil)
	}
	if tract == "" || strings.ContainsRune(tract, filepath.Separator) || tract == "." || tract == ".." {
		return services.Wrap(services.ErrValidation, "manual", op, fmt.Sprintf("invalid tract name %q", tract), nil)
	}
	return nil
}

// Initialize creates the tract's ROI folder and opens the subject in mrview.
// It returns the folder.
func (t *Tracker) Initialize(ctx context.Context, subjectDir, tag, tract string) (string, error) {
	if err := validate("initialize", tag, tract); err != nil {
		return "", err
	}
	in := subjectInputs(subjectDir, tag)
	for what, path := range map[string]string{"dwi": in.dwi, "rgb map": in.rgb} {
		if _, err := os.Stat(path); err != nil {
			return "", services.Wrap(services.ErrNotFound, "manual", what, path, err)
		}
	}
	dir := TractDir(subjectDir, tract)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tract folder: %w", err)
	}
	if t.launcher == nil {
		return dir, services.Wrap(services.ErrConfiguration, "manual", "launch viewer", "no launcher configured", nil)
	}
	inv := command.New(t.cfg.Binary(deps.MRView), in.dwi, "-overlay.load", in.rgb).In(dir)
	if err := t.launcher.Launch(ctx, inv); err != nil {
		return dir, err
	}
	logging.WithContext(ctx, t.logger).Info("viewer launched; save ROIs into the tract folder",
		logging.String("tract_dir", dir),
	)
	return dir, nil
}

// ROIs lists the ROI files of a tract folder.
type ROIs struct {
	Seeds   []string
	Include []string
	Exclude []string
}

// FindROIs globs "*seed*.mif", "*and*.mif" and "*not*.mif" in dir. Seed files
// are never also used as include or exclude regions.
func FindROIs(dir string) (ROIs, error) {
	glob := func(pattern string) ([]string, error) {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		slices.Sort(matches)
		return matches, nil
	}
	var (
		rois ROIs
		err  error
	)
	if rois.Seeds, err = glob("*seed*.mif"); err != nil {
		return rois, err
	}
	isSeed := func(path string) bool { return slices.Contains(rois.Seeds, path) }
	if rois.Include, err = glob("*and*.mif"); err != nil {
		return rois, err
	}
	rois.Include = slices.DeleteFunc(rois.Include, isSeed)
	if rois.Exclude, err = glob("*not*.mif"); err != nil {
		return rois, err
	}
	rois.Exclude = slices.DeleteFunc(rois.Exclude, isSeed)
	return rois, nil
}

// OutputName names a generated tract after its ROI counts, e.g.
// "01-0001_AF_L_2and_1not.tck".
func OutputName(tag, tract string, rois ROIs) string {
	return fmt.Sprintf("%s_%s_%dand_%dnot.tck", tag, tract, len(rois.Include), len(rois.Exclude))
}

// Generate runs tckgen with every ROI in the tract folder and returns the
// tract file it wrote. selectCount of zero uses the configured default.
func (t *Tracker) Generate(ctx context.Context, subjectDir, tag, tract string, selectCount int) (string, error) {
	if err := validate("generate", tag, tract); err != nil {
		return "", err
	}
	if selectCount < 0 {
		return "", services.Wrap(services.ErrValidation, "manual", "generate", "select count must be positive", nil)
	}
	if selectCount == 0 {
		selectCount = t.cfg.ManualTracking.Select
	}
	dir := TractDir(subjectDir, tract)
	rois, err := FindROIs(dir)
	if err != nil {
		return "", err
	}
	if len(rois.Seeds) == 0 {
		return "", services.Wrap(services.ErrNotFound, "manual", "seed ROI", "no *seed*.mif in "+dir, nil)
	}
	logger := logging.WithContext(ctx, t.logger)
	if len(rois.Seeds) > 1 {
		logging.WarnWithContext(logger, "several seed ROIs found; using the first", "roi_ambiguous",
			logging.Strings("seeds", rois.Seeds),
			logging.String(logging.FieldErrorHint, "keep a single *seed*.mif in the tract folder"),
		)
	}

	in := subjectInputs(subjectDir, tag)
	out := filepath.Join(dir, OutputName(tag, tract, rois))
	args := []string{
		in.dwi, out,
		"-algorithm", t.cfg.ManualTracking.Algorithm,
		"-fslgrad", in.bvec, in.bval,
		"-select", strconv.Itoa(selectCount),
		"-seeds", strconv.Itoa(t.cfg.ManualTracking.Seeds),
		"-seed_image", rois.Seeds[0],
		"-force",
	}
	for _, roi := range rois.Include {
		args = append(args, "-include", roi)
	}
	for _, roi := range rois.Exclude {
		args = append(args, "-exclude", roi)
	}
	inv := command.New(t.cfg.Binary(deps.TckGen), args...).In(dir).Expect(out)
	if _, err := t.exec.Run(ctx, inv); err != nil {
		return "", err
	}
	logger.Info("tract generated",
		logging.String("output", out),
		logging.Int("include_rois", len(rois.Include)),
		logging.Int("exclude_rois", len(rois.Exclude)),
	)
	return out, nil
}
