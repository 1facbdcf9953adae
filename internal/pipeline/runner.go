package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tractkit/internal/logging"
	"tractkit/internal/manifest"
	"tractkit/internal/notifications"
	"tractkit/internal/preflight"
	"tractkit/internal/services"
	"tractkit/internal/subject"
)

// LockFileName is the run lock kept next to the manifest.
const LockFileName = "run.lock"

var (
	ErrNoStages      = errors.New("no stages to run")
	ErrInvalidStages = errors.New("invalid stage list")
	ErrRunInProgress = errors.New("another run holds the working directory lock")
)

// maxReportedFailures bounds how many item errors are joined into a stage error.
const maxReportedFailures = 5

// Options configures a Runner.
type Options struct {
	Logger   *slog.Logger
	Notifier notifications.Service
	Workers  int
	// DryRun runs stages without recording markers or run history. The
	// stages are expected to use a dry-run executor.
	DryRun bool
}

// Runner executes stage lists.
type Runner struct {
	logger   *slog.Logger
	notifier notifications.Service
	workers  int
	dryRun   bool
}

// NewRunner constructs a runner.
func NewRunner(opts Options) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil, nil)
	}
	return &Runner{
		logger:   logging.NewComponentLogger(opts.Logger, "pipeline"),
		notifier: notifier,
		workers:  workers,
		dryRun:   opts.DryRun,
	}
}

// Run executes stages in order against dir. The returned report lists every
// stage that was evaluated; the error is non-nil when a stage failed or the
// run could not start.
func (r *Runner) Run(ctx context.Context, dir string, stages []Stage) (RunReport, error) {
	report := RunReport{DryRun: r.dryRun, StartedAt: time.Now().UTC()}

	root, err := filepath.Abs(dir)
	if err != nil {
		return report, fmt.Errorf("resolve working directory: %w", err)
	}
	report.WorkDir = root
	if check := preflight.CheckDirectoryAccess("Working directory", root); !check.Passed {
		return report, services.Wrap(services.ErrConfiguration, "pipeline", "working directory", check.Detail, nil)
	}
	if err := ValidateStages(stages); err != nil {
		return report, err
	}

	unlock, err := acquireLock(root)
	if err != nil {
		return report, err
	}
	defer unlock()

	store, err := manifest.Open(ctx, root)
	if err != nil {
		return report, fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()

	report.RunID = uuid.NewString()
	ctx = services.WithRunID(ctx, report.RunID)
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.String("work_dir", root),
		logging.Int("stages", len(stages)),
		logging.Int("workers", r.workers),
		logging.Bool("dry_run", r.dryRun),
	)
	r.publish(ctx, notifications.EventRunStarted, notifications.Payload{
		"run_id":   report.RunID,
		"work_dir": root,
		"dry_run":  r.dryRun,
	})

	var runErr error
	for _, stage := range stages {
		result := r.runStage(ctx, store, root, stage)
		report.Stages = append(report.Stages, result)
		if result.Outcome == OutcomeFailed {
			runErr = result.Err
			break
		}
	}
	report.FinishedAt = time.Now().UTC()

	r.publish(ctx, notifications.EventRunCompleted, notifications.Payload{
		"run_id":   report.RunID,
		"work_dir": root,
		"status":   report.Status(),
		"duration": report.FinishedAt.Sub(report.StartedAt),
	})
	if !r.dryRun {
		if err := store.RecordRun(context.WithoutCancel(ctx), toRecord(report, runErr)); err != nil {
			logging.WarnWithContext(logger, "failed to record run history", "manifest_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run history incomplete; markers are unaffected"),
			)
		}
	}

	if runErr != nil {
		logging.ErrorWithContext(logger, "run stopped", "run_failed",
			logging.Error(runErr),
			logging.String(logging.FieldErrorKind, services.Kind(runErr)),
			logging.String(logging.FieldErrorHint, services.Hint(runErr)),
		)
		return report, runErr
	}
	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_completed"),
		logging.Duration("run_duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (r *Runner) runStage(ctx context.Context, store *manifest.Store, dir string, stage Stage) StageResult {
	name := stage.Name()
	result := StageResult{Stage: name}
	start := time.Now()

	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, r.logger).With(logging.String("stage_label", Label(name)))
	runID, _ := services.RunIDFromContext(ctx)
	payload := func(extra notifications.Payload) notifications.Payload {
		p := notifications.Payload{"run_id": runID, "stage": name}
		for k, v := range extra {
			p[k] = v
		}
		return p
	}
	fail := func(err error) StageResult {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Duration = time.Since(start)
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "later stages were not run"),
			logging.Int("failed_items", result.Failed),
		)
		r.publish(stageCtx, notifications.EventStageFailure, payload(notifications.Payload{
			"error":        err,
			"failed_items": result.Failed,
			"duration":     result.Duration,
		}))
		return result
	}

	complete, err := stage.IsComplete(stageCtx, dir)
	if err != nil {
		return fail(fmt.Errorf("check completion: %w", err))
	}
	if complete {
		result.Outcome = OutcomeSkipped
		result.Duration = time.Since(start)
		logger.Info("stage already complete",
			logging.String(logging.FieldEventType, "stage_skip"),
		)
		r.publish(stageCtx, notifications.EventStageSkip, payload(nil))
		return result
	}

	items, err := stage.Discover(stageCtx, dir)
	if err != nil {
		return fail(fmt.Errorf("discover work items: %w", err))
	}
	result.Items = len(items)

	pending, err := r.pendingItems(stageCtx, logger, store, dir, stage, items)
	if err != nil {
		return fail(err)
	}
	result.Skipped = len(items) - len(pending)
	if len(pending) == 0 {
		result.Outcome = OutcomeSkipped
		result.Duration = time.Since(start)
		logger.Info("every item already complete",
			logging.String(logging.FieldEventType, "stage_skip"),
			logging.Int("items", result.Items),
		)
		r.publish(stageCtx, notifications.EventStageSkip, payload(notifications.Payload{"items": result.Items}))
		return result
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("items", len(items)),
		logging.Int("pending", len(pending)),
	)
	r.publish(stageCtx, notifications.EventStageStart, payload(notifications.Payload{
		"items":   len(items),
		"pending": len(pending),
	}))

	var failures []error
	if batch, ok := stage.(BatchStage); ok {
		if err := batch.ExecuteBatch(stageCtx, dir, pending); err != nil {
			result.Failed = len(pending)
			return fail(err)
		}
		for _, item := range pending {
			r.mark(stageCtx, logger, store, dir, stage, item)
		}
	} else {
		failures, err = r.executeItems(stageCtx, logger, store, dir, stage, pending)
		result.Failed = len(failures)
		if err != nil {
			return fail(err)
		}
	}
	if len(failures) > 0 {
		return fail(joinFailures(name, failures))
	}

	complete, err = stage.IsComplete(stageCtx, dir)
	if err != nil {
		return fail(fmt.Errorf("check completion: %w", err))
	}
	result.Duration = time.Since(start)
	if complete {
		result.Outcome = OutcomeCompleted
	} else {
		result.Outcome = OutcomeAttempted
		logging.WarnWithContext(logger, "stage ran but is still incomplete", "stage_attempted",
			logging.String(logging.FieldErrorHint, "inspect the stage outputs; rerun retries the missing items"),
			logging.String(logging.FieldImpact, "later stages may see partial inputs"),
		)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("outcome", string(result.Outcome)),
		logging.Int("items", result.Items),
		logging.Int("skipped_items", result.Skipped),
		logging.Duration("stage_duration", result.Duration),
	)
	r.publish(stageCtx, notifications.EventStageComplete, payload(notifications.Payload{
		"outcome":  string(result.Outcome),
		"items":    result.Items,
		"skipped":  result.Skipped,
		"duration": result.Duration,
	}))
	return result
}

// pendingItems drops items that already have a valid marker. A marker only
// counts while the outputs the stage declares for the item now also exist, so
// an item whose output set grew since it was marked runs again. Items whose
// declared outputs already exist are adopted: a marker is recorded and the
// item is skipped.
func (r *Runner) pendingItems(ctx context.Context, logger *slog.Logger, store *manifest.Store, dir string, stage Stage, items []subject.WorkItem) ([]subject.WorkItem, error) {
	done, err := store.Completed(ctx, stage.Name())
	if err != nil {
		return nil, fmt.Errorf("load markers: %w", err)
	}
	reporter, _ := stage.(OutputReporter)

	pending := make([]subject.WorkItem, 0, len(items))
	for _, item := range items {
		var current []string
		if reporter != nil {
			current = reporter.Outputs(dir, item)
		}
		present := len(current) > 0 && FilesExist(current)
		_, marked := done[item.Key]
		switch {
		case marked && (len(current) == 0 || present):
			logger.Debug("item already complete",
				logging.String(logging.FieldEventType, "item_skip"),
				logging.String(logging.FieldSubject, item.Key),
			)
			continue
		case marked:
			logger.Debug("item marker outdated; declared outputs missing",
				logging.String(logging.FieldEventType, "item_stale"),
				logging.String(logging.FieldSubject, item.Key),
			)
		case present:
			logger.Debug("item outputs already present",
				logging.String(logging.FieldEventType, "item_skip"),
				logging.String(logging.FieldSubject, item.Key),
			)
			r.mark(ctx, logger, store, dir, stage, item)
			continue
		}
		pending = append(pending, item)
	}
	return pending, nil
}

// executeItems runs pending items with bounded concurrency. Item failures are
// collected and returned; cancellation and user aborts stop the stage and are
// returned as the error.
func (r *Runner) executeItems(ctx context.Context, logger *slog.Logger, store *manifest.Store, dir string, stage Stage, items []subject.WorkItem) ([]error, error) {
	var (
		mu       sync.Mutex
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, item := range items {
		g.Go(func() error {
			itemCtx := services.WithSubject(gctx, item.Key)
			if err := itemCtx.Err(); err != nil {
				return err
			}
			if err := stage.Execute(itemCtx, dir, item); err != nil {
				if errors.Is(err, services.ErrUserAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logging.WarnWithContext(logging.WithContext(itemCtx, logger), "item failed", "item_failure",
					logging.Error(err),
					logging.String(logging.FieldErrorKind, services.Kind(err)),
					logging.String(logging.FieldErrorHint, services.Hint(err)),
					logging.String(logging.FieldImpact, "stage will be reported failed"),
				)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", item.Key, err))
				mu.Unlock()
				return nil
			}
			r.mark(itemCtx, logger, store, dir, stage, item)
			return nil
		})
	}
	err := g.Wait()
	return failures, err
}

func (r *Runner) mark(ctx context.Context, logger *slog.Logger, store *manifest.Store, dir string, stage Stage, item subject.WorkItem) {
	if r.dryRun {
		return
	}
	var outputs []string
	if reporter, ok := stage.(OutputReporter); ok {
		outputs = reporter.Outputs(dir, item)
	}
	if err := store.MarkComplete(context.WithoutCancel(ctx), stage.Name(), item.Key, outputs); err != nil {
		logging.WarnWithContext(logger, "failed to record item marker", "manifest_write_failed",
			logging.String(logging.FieldSubject, item.Key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item will be re-run next time"),
		)
	}
}

func (r *Runner) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		logging.WithContext(ctx, r.logger).Debug("event publish failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

// ValidateStages checks that the stage list is non-empty, uniquely named,
// and that every declared requirement names an earlier stage.
func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return ErrNoStages
	}
	position := make(map[string]int, len(stages))
	for idx, stage := range stages {
		if stage == nil {
			return fmt.Errorf("%w: stage %d is nil", ErrInvalidStages, idx)
		}
		name := strings.TrimSpace(stage.Name())
		if name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidStages, idx)
		}
		if _, dup := position[name]; dup {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidStages, name)
		}
		position[name] = idx
	}

	var edges []toposort.Edge
	for _, stage := range stages {
		name := stage.Name()
		requires := stage.Requires()
		if len(requires) == 0 {
			edges = append(edges, toposort.Edge{nil, name})
			continue
		}
		for _, dep := range requires {
			if _, ok := position[dep]; !ok {
				return fmt.Errorf("%w: stage %q requires unknown stage %q", ErrInvalidStages, name, dep)
			}
			edges = append(edges, toposort.Edge{dep, name})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStages, err)
	}

	// The graph is acyclic; the listed order must also respect it.
	for idx, stage := range stages {
		for _, dep := range stage.Requires() {
			if position[dep] > idx {
				return fmt.Errorf("%w: stage %q requires %q which does not run before it", ErrInvalidStages, stage.Name(), dep)
			}
		}
	}
	return nil
}

func acquireLock(root string) (func(), error) {
	dir := filepath.Join(root, manifest.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, root)
	}
	return func() { _ = lock.Unlock() }, nil
}

func joinFailures(stage string, failures []error) error {
	shown := failures
	if len(shown) > maxReportedFailures {
		shown = shown[:maxReportedFailures]
	}
	err := errors.Join(shown...)
	if extra := len(failures) - len(shown); extra > 0 {
		err = fmt.Errorf("%w\n(and %d more)", err, extra)
	}
	return fmt.Errorf("stage %s: %d item(s) failed: %w", stage, len(failures), err)
}

func toRecord(report RunReport, runErr error) manifest.RunRecord {
	record := manifest.RunRecord{
		ID:         report.RunID,
		WorkDir:    report.WorkDir,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Status:     report.Status(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	for _, stage := range report.Stages {
		entry := manifest.StageRecord{
			Stage:    stage.Stage,
			Outcome:  string(stage.Outcome),
			Items:    stage.Items,
			Skipped:  stage.Skipped,
			Failed:   stage.Failed,
			Duration: stage.Duration,
		}
		if stage.Err != nil {
			entry.Error = stage.Err.Error()
		}
		record.Stages = append(record.Stages, entry)
	}
	return record
}
