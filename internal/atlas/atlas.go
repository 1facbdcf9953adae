package atlas

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"tractkit/internal/command"
	"tractkit/internal/config"
	"tractkit/internal/fileutil"
	"tractkit/internal/logging"
	"tractkit/internal/pipeline"
	"tractkit/internal/services"
	"tractkit/internal/subject"
)

// Stage names, in run order.
const (
	StageReference    = "reference"
	StageConvert      = "convert"
	StageDownsample   = "downsample"
	StageFlipRegister = "flip_register"
	StageFlipFuse     = "flip_fuse"
	StageClusters     = "clusters"
	StageManualReview = "manual_review"
	StageSmooth       = "smooth"
	StageCoregister   = "coregister"
	StageFinalize     = "finalize"
)

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Builder assembles the atlas stages.
type Builder struct {
	cfg     *config.Config
	exec    command.Executor
	confirm Confirmer
	logger  *slog.Logger
}

// New constructs a Builder.
func New(cfg *config.Config, exec command.Executor, confirm Confirmer, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:     cfg,
		exec:    exec,
		confirm: confirm,
		logger:  logging.NewComponentLogger(logger, "atlas"),
	}
}

// Stages returns the atlas stages in run order.
func (b *Builder) Stages() []pipeline.Stage {
	return []pipeline.Stage{
		b.referenceStage(),
		b.convertStage(),
		b.downsampleStage(),
		b.flipRegisterStage(),
		b.flipFuseStage(),
		b.clustersStage(),
		b.manualReviewStage(),
		b.smoothStage(),
		b.coregisterStage(),
		b.finalizeStage(),
	}
}

func (b *Builder) run(ctx context.Context, dir, tool string, args []string, outputs ...string) error {
	inv := command.New(b.cfg.Binary(tool), args...).In(dir).Expect(outputs...)
	_, err := b.exec.Run(ctx, inv)
	return err
}

// tagItems lists one work item per exemplar subject found in dir.
func (b *Builder) tagItems(_ context.Context, dir string) ([]subject.WorkItem, error) {
	tags, err := subject.TagsInDir(dir)
	if err != nil {
		return nil, err
	}
	items := make([]subject.WorkItem, 0, len(tags))
	for _, tag := range tags {
		items = append(items, subject.WorkItem{Key: tag, Group: b.cfg.Cohort.AtlasGroup, Tag: tag, Path: dir})
	}
	return items, nil
}

func files(sub, pattern string) func(context.Context, string) ([]subject.WorkItem, error) {
	return func(_ context.Context, dir string) ([]subject.WorkItem, error) {
		return subject.Files(filepath.Join(dir, sub), pattern)
	}
}

// forEach runs fn over items with the configured concurrency.
func (b *Builder) forEach(ctx context.Context, items []subject.WorkItem, fn func(context.Context, subject.WorkItem) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.cfg.Pipeline.Workers, 1))
	for _, item := range items {
		g.Go(func() error {
			if err := fn(services.WithSubject(gctx, item.Key), item); err != nil {
				return fmt.Errorf("%s: %w", item.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func requireFile(stage, what, path string) error {
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrNotFound, stage, what, path, err)
	}
	return nil
}

// subdirs lists the directories directly inside parent, sorted by name.
func subdirs(parent string) ([]subject.WorkItem, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", parent, err)
	}
	var items []subject.WorkItem
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		item := subject.FileItem(filepath.Join(parent, entry.Name()))
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func removeTemp(logger *slog.Logger, path string) {
	if err := fileutil.RemoveIfExists(path); err != nil {
		logger.Debug("temporary file not removed", logging.String("path", path), logging.Error(err))
	}
}
