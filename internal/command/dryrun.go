package command

import (
	"context"
	"log/slog"

	"tractkit/internal/logging"
)

// DryRun logs invocations without executing them.
type DryRun struct {
	logger *slog.Logger
}

// NewDryRun constructs a dry-run executor.
func NewDryRun(logger *slog.Logger) *DryRun {
	return &DryRun{logger: logging.NewComponentLogger(logger, "dry-run")}
}

func (d *DryRun) Run(ctx context.Context, inv Invocation) (Result, error) {
	logging.WithContext(ctx, d.logger).Info("would run",
		logging.String(logging.FieldEventType, "tool_invocation"),
		logging.String("command", inv.String()),
		logging.String("dir", inv.Dir),
	)
	return Result{}, ctx.Err()
}

func (d *DryRun) Launch(ctx context.Context, inv Invocation) error {
	logging.WithContext(ctx, d.logger).Info("would launch",
		logging.String(logging.FieldEventType, "tool_launch"),
		logging.String("command", inv.String()),
	)
	return nil
}
