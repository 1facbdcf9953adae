package tractometry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tractkit/internal/command"
	"tractkit/internal/config"
	"tractkit/internal/deps"
	"tractkit/internal/logging"
	"tractkit/internal/pipeline"
	"tractkit/internal/publish"
	"tractkit/internal/recobundles"
	"tractkit/internal/services"
	"tractkit/internal/subject"
)

const (
	StageMask    = "mask"
	StageNoddi   = "noddi"
	StageMetrics = "metrics"

	reportDateLayout = "2006-01-02"
)

// Publisher receives the finished report.
type Publisher interface {
	Publish(ctx context.Context, report publish.Report) error
}

// Builder assembles the tractometry stages.
type Builder struct {
	cfg       *config.Config
	exec      command.Executor
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	last *Table
}

// New constructs a Builder. publisher may be nil.
func New(cfg *config.Config, exec command.Executor, publisher Publisher, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:       cfg,
		exec:      exec,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "tractometry"),
		now:       time.Now,
	}
}

// Stages returns the tractometry stages in run order. The runner's working
// directory should be the RecoX output root.
func (b *Builder) Stages() []pipeline.Stage {
	return []pipeline.Stage{b.maskStage(), b.noddiStage(), b.metricsStage()}
}

// ReportPath returns the CSV written for day.
func (b *Builder) ReportPath(day time.Time) string {
	return filepath.Join(b.cfg.Paths.ReportDir, "tractometry_"+day.Format(reportDateLayout)+".csv")
}

// LastTable returns the table written by the most recent metrics run, or nil.
func (b *Builder) LastTable() *Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *Builder) discover(context.Context, string) ([]subject.WorkItem, error) {
	return subject.Discover(b.cfg.Paths.RecoxOutputDir, b.cfg.Cohort.Groups)
}

func tractsDir(item subject.WorkItem) string {
	return filepath.Join(item.Path, recobundles.TractsDir)
}

func (b *Builder) bundles(item subject.WorkItem) []string {
	matches, _ := filepath.Glob(filepath.Join(tractsDir(item), "*.trk"))
	return matches
}

func (b *Builder) maskStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageMask,
		Find:      b.discover,
		Produces: func(_ string, item subject.WorkItem) []string {
			trks := b.bundles(item)
			if len(trks) == 0 {
				// nothing to mask
				return []string{item.Path}
			}
			outputs := make([]string, 0, 2*len(trks))
			for _, trk := range trks {
				base := trimTrk(trk)
				outputs = append(outputs, base+".tck", base+".nii")
			}
			return outputs
		},
		Run: func(ctx context.Context, _ string, item subject.WorkItem) error {
			trks := b.bundles(item)
			if len(trks) == 0 {
				logging.WithContext(ctx, b.logger).Info("no recognized bundles to mask")
				return nil
			}
			dwi := filepath.Join(b.cfg.Paths.TractoflowRoot, item.Group, item.Tag, "Extract_DTI_Shell", item.Tag+"__dwi_dti.nii.gz")
			dir := tractsDir(item)
			for _, trk := range trks {
				base := trimTrk(trk)
				tck, nii := base+".tck", base+".nii"
				if !pipeline.FilesExist([]string{tck}) {
					if err := b.run(ctx, dir, deps.ConvertTractogram, []string{trk, tck, "-f"}, tck); err != nil {
						return err
					}
				}
				if pipeline.FilesExist([]string{nii}) {
					continue
				}
				if err := requireFile(StageMask, "dwi template", dwi); err != nil {
					return err
				}
				if err := b.run(ctx, dir, deps.TckMap, []string{tck, nii, "-template", dwi}, nii); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (b *Builder) noddiMaps(tag string) (ficvf, odi string) {
	dir := b.cfg.Paths.NoddiMapsDir
	return filepath.Join(dir, tag+"_fitted_ficvf.nii"), filepath.Join(dir, tag+"_fitted_odi.nii")
}

func (b *Builder) coregisteredMap(tag, measure string) string {
	return filepath.Join(b.cfg.Paths.NoddiCoregDir, tag+"_"+measure+"_coreg.nii")
}

func (b *Builder) hasNoddi(tag string) bool {
	ficvf, odi := b.noddiMaps(tag)
	return pipeline.FilesExist([]string{ficvf, odi})
}

// noddiStage registers multishell FA to single-shell FA and applies the
// transform to the subject's NODDI maps. Subjects without both maps have
// nothing to do.
func (b *Builder) noddiStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageNoddi,
		Needs:     []string{StageMask},
		Find:      b.discover,
		Produces: func(_ string, item subject.WorkItem) []string {
			if !b.hasNoddi(item.Tag) {
				return []string{item.Path}
			}
			return []string{b.coregisteredMap(item.Tag, "ficvf"), b.coregisteredMap(item.Tag, "odi")}
		},
		Run: func(ctx context.Context, _ string, item subject.WorkItem) error {
			if !b.hasNoddi(item.Tag) {
				logging.WithContext(ctx, b.logger).Info("NODDI maps missing; skipping registration")
				return nil
			}
			single := filepath.Join(b.cfg.Paths.TractoflowRoot, item.Group, item.Tag, "DTI_Metrics", item.Tag+"__fa.nii.gz")
			multi := filepath.Join(b.cfg.Paths.MultishellRoot, item.Tag, "DTI_Metrics", item.Tag+"__fa.nii.gz")
			for what, path := range map[string]string{"single-shell FA": single, "multishell FA": multi} {
				if err := requireFile(StageNoddi, what, path); err != nil {
					return err
				}
			}
			warpDir, coregDir := b.cfg.Paths.NoddiWarpsDir, b.cfg.Paths.NoddiCoregDir
			for _, dir := range []string{warpDir, coregDir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			prefix := filepath.Join(warpDir, item.Tag+"_multi_to_singleshell_")
			mat := prefix + "0GenericAffine.mat"
			if !pipeline.FilesExist([]string{mat}) {
				args := []string{"-d", "3", "-f", single, "-m", multi, "-o", prefix, "-t", "a", "-n", "4"}
				if err := b.run(ctx, warpDir, deps.ANTsRegistrationQuick, args, mat); err != nil {
					return err
				}
			}
			ficvf, odi := b.noddiMaps(item.Tag)
			for measure, input := range map[string]string{"ficvf": ficvf, "odi": odi} {
				out := b.coregisteredMap(item.Tag, measure)
				args := []string{"-d", "3", "-r", single, "-i", input, "-o", out, "-t", mat}
				if err := b.run(ctx, coregDir, deps.ANTsApplyTransforms, args, out); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// metricsStage has a single item, today's report. The report is complete
// once its CSV exists, so a new day or a deleted CSV reruns it.
func (b *Builder) metricsStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageMetrics,
		Needs:     []string{StageMask, StageNoddi},
		Find: func(context.Context, string) ([]subject.WorkItem, error) {
			day := b.now()
			return []subject.WorkItem{{Key: "report-" + day.Format(reportDateLayout), Path: b.ReportPath(day)}}, nil
		},
		Produces: func(_ string, item subject.WorkItem) []string {
			return []string{item.Path}
		},
		Run: func(ctx context.Context, _ string, item subject.WorkItem) error {
			return b.writeReport(ctx, item.Path)
		},
	}
}

func (b *Builder) writeReport(ctx context.Context, path string) error {
	logger := logging.WithContext(ctx, b.logger)
	subjects, err := subject.Discover(b.cfg.Paths.RecoxOutputDir, b.cfg.Cohort.Groups)
	if err != nil {
		return services.Wrap(services.ErrValidation, StageMetrics, "discover", "malformed subject paths", err)
	}
	if b.cfg.Pipeline.DryRun {
		logger.Info("would write tractometry report",
			logging.String("path", path),
			logging.Int("subjects", len(subjects)),
		)
		return nil
	}
	table, err := b.Aggregate(ctx, subjects)
	if err != nil {
		return err
	}
	if err := writeCSV(path, table); err != nil {
		return services.Wrap(services.ErrTransient, StageMetrics, "write report", path, err)
	}
	b.mu.Lock()
	b.last = table
	b.mu.Unlock()
	logger.Info("tractometry report written",
		logging.String(logging.FieldEventType, "report_written"),
		logging.String("path", path),
		logging.Int("rows", table.Len()),
	)

	if b.publisher == nil {
		return nil
	}
	runID, _ := services.RunIDFromContext(ctx)
	report := publish.Report{RunID: runID, Date: b.now(), Path: path, Rows: table.Long()}
	if err := b.publisher.Publish(ctx, report); err != nil {
		logging.WarnWithContext(logger, "report publication failed", "report_publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run tractkit status to check the sinks, then delete the report and rerun"),
			logging.String(logging.FieldImpact, "the local CSV is complete; external sinks are stale"),
		)
	}
	return nil
}

// Aggregate computes the statistics rows for items, preserving item order.
func (b *Builder) Aggregate(ctx context.Context, items []subject.WorkItem) (*Table, error) {
	perSubject := make([][]Row, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.cfg.Pipeline.Workers, 1))
	for i, item := range items {
		g.Go(func() error {
			rows, err := b.subjectRows(services.WithSubject(gctx, item.Key), item)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Key, err)
			}
			perSubject[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	table := NewTable(b.cfg.Cohort.Measures)
	for _, rows := range perSubject {
		if err := table.Append(rows...); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (b *Builder) subjectRows(ctx context.Context, item subject.WorkItem) ([]Row, error) {
	logger := logging.WithContext(ctx, b.logger)
	measures := b.cfg.Cohort.Measures
	rows := make([]Row, 0, len(b.cfg.Cohort.Tracts))
	for _, tract := range b.cfg.Cohort.Tracts {
		row := Row{Group: item.Group, Subject: item.Tag, Tract: tract, Stats: make([]Stat, 0, len(measures))}
		mask := filepath.Join(tractsDir(item), tract+".nii")
		if !pipeline.FilesExist([]string{mask}) {
			logger.Info("tract mask missing", logging.String("tract", tract))
			for range measures {
				row.Stats = append(row.Stats, sentinel(NoTract))
			}
			rows = append(rows, row)
			continue
		}
		for _, measure := range measures {
			stat, err := b.measure(ctx, item, mask, measure)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", tract, measure, err)
			}
			row.Stats = append(row.Stats, stat)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *Builder) measure(ctx context.Context, item subject.WorkItem, mask, measure string) (Stat, error) {
	source := b.MeasureMap(item, measure)
	if !pipeline.FilesExist([]string{source}) {
		logging.WithContext(ctx, b.logger).Info("measure map missing",
			logging.String("measure", measure),
			logging.String("path", source),
		)
		return sentinel(NoMap), nil
	}
	inv := command.New(b.cfg.Binary(deps.MRStats), source,
		"-mask", mask,
		"-output", "mean", "-output", "std", "-output", "count",
		"-ignorezero",
	).In(tractsDir(item))
	result, err := b.exec.Run(ctx, inv)
	if err != nil {
		return Stat{}, err
	}
	return ParseStats(result.Stdout)
}

// MeasureMap locates the scalar map for measure. Tensor measures come from
// tractoflow; NODDI measures from the coregistered maps.
func (b *Builder) MeasureMap(item subject.WorkItem, measure string) string {
	switch measure {
	case "ficvf", "odi":
		return b.coregisteredMap(item.Tag, measure)
	default:
		return filepath.Join(b.cfg.Paths.TractoflowRoot, item.Group, item.Tag, "DTI_Metrics", item.Tag+"__"+measure+".nii.gz")
	}
}

func (b *Builder) run(ctx context.Context, dir, tool string, args []string, outputs ...string) error {
	inv := command.New(b.cfg.Binary(tool), args...).In(dir).Expect(outputs...)
	_, err := b.exec.Run(ctx, inv)
	return err
}

// writeCSV replaces path atomically.
func writeCSV(path string, table *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tractometry-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := table.WriteCSV(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// trimTrk drops every extension so a bundle's mask is named after its tract,
// which is the name the metrics lookup uses.
func trimTrk(path string) string {
	return filepath.Join(filepath.Dir(path), subject.TrimExt(path))
}

func requireFile(stage, what, path string) error {
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrNotFound, stage, what, path, err)
	}
	return nil
}
