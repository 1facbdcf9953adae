package pipeline

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Outcome is the result of one stage within a run.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompleted Outcome = "completed"
	// OutcomeAttempted means the stage ran but its completion predicate
	// still reports incomplete.
	OutcomeAttempted Outcome = "attempted"
	OutcomeFailed    Outcome = "failed"
)

// StageResult summarises one stage.
type StageResult struct {
	Stage    string
	Outcome  Outcome
	Items    int
	Skipped  int
	Failed   int
	Err      error
	Duration time.Duration
}

// RunReport summarises a pipeline run.
type RunReport struct {
	RunID      string
	WorkDir    string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []StageResult
}

// Failed reports whether any stage failed.
func (r RunReport) Failed() bool {
	for _, stage := range r.Stages {
		if stage.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Outcome returns the outcome recorded for stage, or "" when it did not run.
func (r RunReport) Outcome(stage string) Outcome {
	for _, result := range r.Stages {
		if result.Stage == stage {
			return result.Outcome
		}
	}
	return ""
}

// Status condenses the report into a single word for run history.
func (r RunReport) Status() string {
	if r.Failed() {
		return "failed"
	}
	return "completed"
}

// Label turns a stage name such as "flip_register" into "Flip Register".
func Label(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.TrimSpace(name), "_", " "))
}
