package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tractkit/internal/command"
	"tractkit/internal/config"
	"tractkit/internal/logging"
	"tractkit/internal/notifications"
	"tractkit/internal/pipeline"
	"tractkit/internal/prompt"
)

type globalFlags struct {
	config  string
	workers int
	dryRun  bool
	yes     bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads .env from the current directory, then the config file,
// then applies command-line overrides.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if cwd, err := os.Getwd(); err == nil {
			if err := config.LoadEnv(cwd); err != nil {
				c.configErr = err
				return
			}
		}
		cfg, path, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if c.flags.workers > 0 {
			cfg.Pipeline.Workers = c.flags.workers
		}
		if c.flags.dryRun {
			cfg.Pipeline.DryRun = true
		}
		if c.flags.yes {
			cfg.Pipeline.AssumeYes = true
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

type toolRunner interface {
	command.Executor
	command.Launcher
}

// executor returns a dry-run executor when dry-run is enabled.
func (c *commandContext) executor(cfg *config.Config, logger *slog.Logger) toolRunner {
	if cfg.Pipeline.DryRun {
		return command.NewDryRun(logger)
	}
	return command.NewLocal(logger)
}

func (c *commandContext) console(cmd *cobra.Command, cfg *config.Config) *prompt.Console {
	opts := []prompt.Option{prompt.WithAssumeYes(cfg.Pipeline.AssumeYes)}
	if in, ok := cmd.InOrStdin().(*os.File); !ok || in != os.Stdin {
		opts = append(opts, prompt.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()))
	}
	return prompt.New(opts...)
}

// withRunner builds a runner whose notifier is closed once fn returns.
func (c *commandContext) withRunner(cfg *config.Config, logger *slog.Logger, fn func(*pipeline.Runner) error) error {
	notifier := notifications.NewService(cfg, logger)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("event notifier close failed", logging.Error(err))
		}
	}()
	runner := pipeline.NewRunner(pipeline.Options{
		Logger:   logger,
		Notifier: notifier,
		Workers:  cfg.Pipeline.Workers,
		DryRun:   cfg.Pipeline.DryRun,
	})
	return fn(runner)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func requireArgsOrPrompt(args []string, ask func() (string, error)) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	answer, err := ask()
	if err != nil {
		return "", fmt.Errorf("read working directory: %w", err)
	}
	return answer, nil
}
