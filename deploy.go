package pipeline

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
)

// DeployTrigger hands the built output to an external deploy command.
type DeployTrigger struct {
	command string
	runner  *ShellRunner
	logger  Logger
}

func NewDeployTrigger(root string, cfg DeployConfig, provider LoggerProvider, opts ...ShellOption) *DeployTrigger {
	logger := scopedLogger(provider, "pipeline:deploy", nil)

	shellOpts := []ShellOption{
		WithShellWorkingDirectory(root),
		WithShellShell(cfg.Shell, "-c"),
		WithShellEnvironment(cfg.Env),
		WithShellTimeout(cfg.Timeout),
		WithShellLogger(logger),
	}

	return &DeployTrigger{
		command: cfg.Command,
		runner:  NewShellRunner(append(shellOpts, opts...)...),
		logger:  logger,
	}
}

// Run blocks until the deploy command exits. Output is logged line by line.
func (d *DeployTrigger) Run(ctx context.Context) error {
	d.logger.Info("deploying", "command", d.command)

	result, err := d.runner.Run(ctx, d.command)
	logLines(d.logger, "stdout", result.Stdout)
	logLines(d.logger, "stderr", result.Stderr)

	if err != nil {
		return chain(err, errors.CategoryExternal, CodeDeployFailed, "deploy command failed").
			WithMetadata(map[string]any{
				"command":   d.command,
				"exit_code": result.ExitCode,
			})
	}

	d.logger.Info("deploy finished", "duration", result.Duration)
	return nil
}

func logLines(logger Logger, stream, out string) {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		logger.Info(line, "stream", stream)
	}
}
