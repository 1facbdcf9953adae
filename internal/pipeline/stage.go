package pipeline

import (
	"context"
	"os"

	"tractkit/internal/subject"
)

// Stage is one idempotent step of a pipeline.
type Stage interface {
	Name() string
	// Requires names earlier stages whose outputs this stage reads. Every
	// stage still runs after all stages listed before it.
	Requires() []string
	IsComplete(ctx context.Context, dir string) (bool, error)
	Discover(ctx context.Context, dir string) ([]subject.WorkItem, error)
	Execute(ctx context.Context, dir string, item subject.WorkItem) error
}

// BatchStage runs all of its pending items as one unit. Items are marked
// complete only when the whole batch succeeds.
type BatchStage interface {
	Stage
	ExecuteBatch(ctx context.Context, dir string, items []subject.WorkItem) error
}

// OutputReporter lists the files an item produces. Outputs are stored with
// the item's marker; a marker whose outputs disappeared no longer counts.
type OutputReporter interface {
	Outputs(dir string, item subject.WorkItem) []string
}

// Step is a Stage assembled from functions.
type Step struct {
	StageName string
	Needs     []string
	Find      func(ctx context.Context, dir string) ([]subject.WorkItem, error)
	Produces  func(dir string, item subject.WorkItem) []string
	Run       func(ctx context.Context, dir string, item subject.WorkItem) error
	// Done overrides the default completion predicate.
	Done func(ctx context.Context, dir string) (bool, error)
}

func (s *Step) Name() string { return s.StageName }

func (s *Step) Requires() []string { return s.Needs }

func (s *Step) Discover(ctx context.Context, dir string) ([]subject.WorkItem, error) {
	if s.Find == nil {
		return nil, nil
	}
	return s.Find(ctx, dir)
}

func (s *Step) Execute(ctx context.Context, dir string, item subject.WorkItem) error {
	if s.Run == nil {
		return nil
	}
	return s.Run(ctx, dir, item)
}

func (s *Step) Outputs(dir string, item subject.WorkItem) []string {
	if s.Produces == nil {
		return nil
	}
	return s.Produces(dir, item)
}

// IsComplete uses Done when set. Otherwise the stage is complete when every
// discovered item declares outputs and all of them exist.
func (s *Step) IsComplete(ctx context.Context, dir string) (bool, error) {
	if s.Done != nil {
		return s.Done(ctx, dir)
	}
	if s.Produces == nil {
		return false, nil
	}
	items, err := s.Discover(ctx, dir)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		outputs := s.Produces(dir, item)
		if len(outputs) == 0 || !FilesExist(outputs) {
			return false, nil
		}
	}
	return true, nil
}

// BatchStep is a Step whose pending items run together.
type BatchStep struct {
	Step
	RunBatch func(ctx context.Context, dir string, items []subject.WorkItem) error
}

func (b *BatchStep) ExecuteBatch(ctx context.Context, dir string, items []subject.WorkItem) error {
	if b.RunBatch == nil {
		return nil
	}
	return b.RunBatch(ctx, dir, items)
}

// FilesExist reports whether every path exists.
func FilesExist(paths []string) bool {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}
