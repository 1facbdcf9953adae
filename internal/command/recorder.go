package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Recorder is an Executor that records invocations instead of running them.
// When CreateOutputs is set it touches every expected output so downstream
// stages see the files a real tool would have produced.
type Recorder struct {
	CreateOutputs bool
	// Respond, when set, decides the result of each invocation.
	Respond func(inv Invocation) (Result, error)

	mu       sync.Mutex
	calls    []Invocation
	launches []Invocation
}

// NewRecorder returns a recorder that creates expected outputs.
func NewRecorder() *Recorder {
	return &Recorder{CreateOutputs: true}
}

// Run records inv and returns the configured response.
func (r *Recorder) Run(ctx context.Context, inv Invocation) (Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	respond := r.Respond
	create := r.CreateOutputs
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var (
		result Result
		err    error
	)
	if respond != nil {
		result, err = respond(inv)
		if err != nil {
			return result, err
		}
	}
	if create {
		for _, output := range inv.Outputs {
			if err := touch(output); err != nil {
				return result, err
			}
		}
	}
	return result, VerifyOutputs(ctx, inv)
}

// Launch records a detached launch.
func (r *Recorder) Launch(_ context.Context, inv Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches = append(r.launches, inv)
	return nil
}

// Calls returns the invocations run so far.
func (r *Recorder) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Launches returns the detached launches recorded so far.
func (r *Recorder) Launches() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.launches)
}

// Programs returns the program name of every recorded call, in order.
func (r *Recorder) Programs() []string {
	calls := r.Calls()
	programs := make([]string, len(calls))
	for i, call := range calls {
		programs[i] = call.Program
	}
	return programs
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.launches = nil
}

// touch creates path as an empty file, or as a directory when path ends in
// a separator.
func touch(path string) error {
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return os.MkdirAll(path, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	return file.Close()
}
