package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"tractkit/internal/logging"
	"tractkit/internal/services"
)

const stderrTailLines = 8

// Executor runs invocations.
type Executor interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// Launcher starts programs without waiting for them.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) error
}

// Local runs programs on this machine.
type Local struct {
	logger *slog.Logger
	env    []string
}

// Option configures a Local executor.
type Option func(*Local)

// WithEnv appends KEY=VALUE pairs to the environment of every program.
func WithEnv(env ...string) Option {
	return func(l *Local) {
		l.env = append(l.env, env...)
	}
}

// NewLocal constructs an executor that runs programs directly.
func NewLocal(logger *slog.Logger, opts ...Option) *Local {
	l := &Local{logger: logging.NewComponentLogger(logger, "command")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes inv and waits for it. A non-zero exit or a missing expected
// output is reported as services.ErrExternalTool.
func (l *Local) Run(ctx context.Context, inv Invocation) (Result, error) {
	if strings.TrimSpace(inv.Program) == "" {
		return Result{}, services.Wrap(services.ErrValidation, stageOf(ctx), "run", "program required", nil)
	}
	logger := logging.WithContext(ctx, l.logger)
	logger.Debug("running external tool",
		logging.String(logging.FieldEventType, "tool_invocation"),
		logging.String("command", inv.String()),
		logging.String("dir", inv.Dir),
	)

	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...) //nolint:gosec
	cmd.Dir = inv.Dir
	if len(l.env) > 0 {
		cmd.Env = append(os.Environ(), l.env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	start := time.Now()
	stdout, stderr, err := execute(cmd)
	result := Result{
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		message := fmt.Sprintf("exit status %d", result.ExitCode)
		switch {
		case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist):
			message = "binary not found"
		case cmd.ProcessState == nil:
			message = "failed to start"
		}
		if tail := tailLines(stderr, stderrTailLines); tail != "" {
			message += " (stderr: " + tail + ")"
		}
		return result, services.Wrap(services.ErrExternalTool, stageOf(ctx), inv.Program, message, err)
	}

	if err := VerifyOutputs(ctx, inv); err != nil {
		return result, err
	}
	logger.Debug("external tool finished",
		logging.String("program", inv.Program),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// Launch starts inv detached from tractkit and returns immediately.
func (l *Local) Launch(ctx context.Context, inv Invocation) error {
	cmd := exec.Command(inv.Program, inv.Args...) //nolint:gosec
	cmd.Dir = inv.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, stageOf(ctx), inv.Program, "launch failed", err)
	}
	logging.WithContext(ctx, l.logger).Info("launched external tool",
		logging.String(logging.FieldEventType, "tool_launch"),
		logging.String("command", inv.String()),
		logging.Int("pid", cmd.Process.Pid),
	)
	return cmd.Process.Release()
}

// VerifyOutputs checks that every expected output of inv exists.
func VerifyOutputs(ctx context.Context, inv Invocation) error {
	for _, output := range inv.Outputs {
		if _, err := os.Stat(output); err != nil {
			return services.Wrap(services.ErrExternalTool, stageOf(ctx), inv.Program, "produced no output "+output, err)
		}
	}
	return nil
}

func execute(cmd *exec.Cmd) (string, string, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start command: %w", err)
	}

	var (
		wg                sync.WaitGroup
		stdoutBuf, errBuf bytes.Buffer
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&errBuf, stderrPipe)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return stdoutBuf.String(), errBuf.String(), fmt.Errorf("wait command: %w", err)
	}
	return stdoutBuf.String(), errBuf.String(), nil
}

func tailLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

func stageOf(ctx context.Context) string {
	stage, _ := services.StageFromContext(ctx)
	return stage
}
