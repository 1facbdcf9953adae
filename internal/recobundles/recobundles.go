package recobundles

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"tractkit/internal/command"
	"tractkit/internal/config"
	"tractkit/internal/deps"
	"tractkit/internal/fileutil"
	"tractkit/internal/logging"
	"tractkit/internal/pipeline"
	"tractkit/internal/services"
	"tractkit/internal/subject"
)

const (
	StageRegister  = "register"
	StageRecognize = "recognize"

	RegistrationDir = "0_ants_registrations"
	TractsDir       = "1_recox_tracts"
)

// Builder assembles the recognition stages.
type Builder struct {
	cfg    *config.Config
	exec   command.Executor
	logger *slog.Logger
}

// New constructs a Builder.
func New(cfg *config.Config, exec command.Executor, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, exec: exec, logger: logging.NewComponentLogger(logger, "recobundles")}
}

// Stages returns the recognition stages in run order. The runner's working
// directory should be the RecoX output root; inputs are read from the
// tractoflow root.
func (b *Builder) Stages() []pipeline.Stage {
	return []pipeline.Stage{b.registerStage(), b.recognizeStage()}
}

// SubjectDir returns the output directory for one subject.
func (b *Builder) SubjectDir(item subject.WorkItem) string {
	return filepath.Join(b.cfg.Paths.RecoxOutputDir, item.Group, item.Tag)
}

func (b *Builder) discover(context.Context, string) ([]subject.WorkItem, error) {
	return subject.Discover(b.cfg.Paths.TractoflowRoot, b.cfg.Cohort.Groups)
}

func (b *Builder) affine(item subject.WorkItem) (mat, txt string) {
	prefix := filepath.Join(b.SubjectDir(item), RegistrationDir, item.Tag+"_to_mni_")
	return prefix + "0GenericAffine.mat", prefix + "0GenericAffine.txt"
}

func (b *Builder) registerStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageRegister,
		Find:      b.discover,
		Produces: func(_ string, item subject.WorkItem) []string {
			mat, txt := b.affine(item)
			return []string{mat, txt}
		},
		Run: func(ctx context.Context, _ string, item subject.WorkItem) error {
			t1 := filepath.Join(item.Path, "Register_T1", item.Tag+"__t1_warped.nii.gz")
			if err := requireFile(StageRegister, "T1", t1); err != nil {
				return err
			}
			template := b.cfg.MNITemplate(b.cfg.Paths.RecoxAtlasDir)
			if err := requireFile(StageRegister, "atlas template", template); err != nil {
				return err
			}
			outDir := filepath.Join(b.SubjectDir(item), RegistrationDir)
			if err := fileutil.EnsureDirs(outDir); err != nil {
				return err
			}
			mat, txt := b.affine(item)
			if !pipeline.FilesExist([]string{mat}) {
				prefix := filepath.Join(outDir, item.Tag+"_to_mni_")
				args := []string{"-d", "3", "-f", template, "-m", t1, "-o", prefix, "-t", "a", "-n", "4"}
				if err := b.run(ctx, outDir, deps.ANTsRegistration, args, mat); err != nil {
					return err
				}
			}
			if pipeline.FilesExist([]string{txt}) {
				return nil
			}
			return b.run(ctx, outDir, deps.ConvertTransformFile, []string{"3", mat, txt, "--hm", "--ras"}, txt)
		},
	}
}

// recognizeStage is complete for a subject once any bundle file exists in
// its tracts directory.
func (b *Builder) recognizeStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageRecognize,
		Needs:     []string{StageRegister},
		Find:      b.discover,
		Produces: func(_ string, item subject.WorkItem) []string {
			return b.Bundles(item)
		},
		Run: func(ctx context.Context, _ string, item subject.WorkItem) error {
			logger := logging.WithContext(ctx, b.logger)
			if found := b.Bundles(item); len(found) > 0 {
				logger.Info("bundles already recognized", logging.Int("bundles", len(found)))
				return nil
			}
			tracking := filepath.Join(item.Path, "Tracking", item.Tag+"__tracking.trk")
			if err := requireFile(StageRecognize, "tractogram", tracking); err != nil {
				return err
			}
			atlasCfg := filepath.Join(b.cfg.Paths.RecoxAtlasDir, b.cfg.Recobundles.ConfigFile)
			if err := requireFile(StageRecognize, "recognition config", atlasCfg); err != nil {
				return err
			}
			templates, err := filepath.Glob(filepath.Join(b.cfg.Paths.RecoxAtlasDir, "atlas", "*"))
			if err != nil || len(templates) == 0 {
				return services.Wrap(services.ErrNotFound, StageRecognize, "atlas templates",
					filepath.Join(b.cfg.Paths.RecoxAtlasDir, "atlas"), err)
			}
			_, txt := b.affine(item)
			if !b.cfg.Pipeline.DryRun {
				if err := requireFile(StageRecognize, "affine", txt); err != nil {
					return err
				}
			}
			outDir := filepath.Join(b.SubjectDir(item), TractsDir)
			if err := fileutil.EnsureDirs(outDir); err != nil {
				return err
			}
			args := b.recognizeArgs(tracking, atlasCfg, templates, txt, outDir)
			if err := b.run(ctx, outDir, deps.RecognizeMultiBundles, args); err != nil {
				return err
			}
			if !b.cfg.Pipeline.DryRun && len(b.Bundles(item)) == 0 {
				logging.WarnWithContext(logger, "no bundles recognized", "recognition_empty",
					logging.String(logging.FieldErrorHint, "check the registration and lower minimal_vote"),
					logging.String(logging.FieldImpact, "tractometry reports no tract for this subject"),
				)
			}
			return nil
		},
	}
}

func (b *Builder) recognizeArgs(tracking, atlasCfg string, templates []string, affine, outDir string) []string {
	rb := b.cfg.Recobundles
	args := []string{tracking, atlasCfg}
	args = append(args, templates...)
	args = append(args, affine,
		"--out_dir", outDir,
		"--log_level", "DEBUG",
		"--minimal_vote", strconv.FormatFloat(rb.MinimalVote, 'f', 2, 64),
		"--multi_parameters", strconv.Itoa(rb.MultiParameters),
		"--tractogram_clustering",
	)
	for _, threshold := range rb.Clustering {
		args = append(args, strconv.Itoa(threshold))
	}
	return append(args,
		"--processes", strconv.Itoa(rb.Processes),
		"--seeds", strconv.Itoa(rb.Seeds),
		"-f",
	)
}

// Bundles lists the recognized bundle files of a subject.
func (b *Builder) Bundles(item subject.WorkItem) []string {
	matches, _ := filepath.Glob(filepath.Join(b.SubjectDir(item), TractsDir, "*.trk"))
	return matches
}

func (b *Builder) run(ctx context.Context, dir, tool string, args []string, outputs ...string) error {
	inv := command.New(b.cfg.Binary(tool), args...).In(dir).Expect(outputs...)
	_, err := b.exec.Run(ctx, inv)
	return err
}

func requireFile(stage, what, path string) error {
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrNotFound, stage, what, path, err)
	}
	return nil
}
