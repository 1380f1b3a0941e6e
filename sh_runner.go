package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-errors"
)

// ShellResult holds the captured output of a finished command.
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ShellRunner runs command lines through a shell, capturing their output.
type ShellRunner struct {
	shell       string
	shellArgs   []string
	workDir     string
	environment []string
	timeout     time.Duration
	output      io.Writer
	logger      Logger
}

func NewShellRunner(opts ...ShellOption) *ShellRunner {
	r := &ShellRunner{
		shell:     "/bin/sh",
		shellArgs: []string{"-c"},
		logger:    scopedLogger(nil, "pipeline:shell", nil),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Run executes line and waits for it to exit. Cancelling ctx does not stop a
// command that already started; only the configured timeout does.
func (r *ShellRunner) Run(ctx context.Context, line string) (ShellResult, error) {
	if strings.TrimSpace(line) == "" {
		return ShellResult{}, errors.New("empty command", errors.CategoryBadInput).
			WithTextCode("EMPTY_COMMAND")
	}

	execCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, r.shell, append(append([]string(nil), r.shellArgs...), line)...)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	// children of a killed shell may keep the output pipes open
	cmd.WaitDelay = 2 * time.Second

	cmd.Env = os.Environ()
	if r.environment != nil {
		cmd.Env = append(cmd.Env, r.environment...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.output)
		cmd.Stderr = io.MultiWriter(&stderr, r.output)
	}

	r.logger.Debug("running command", "command", line, "dir", r.workDir)

	start := time.Now()
	runErr := cmd.Run()
	result := ShellResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return result, command.WrapError(
				"ShellExecutionError",
				fmt.Sprintf("command timed out after %s\nStderr: %s", r.timeout, result.Stderr),
				runErr,
			)
		}
		return result, command.WrapError(
			"ShellExecutionError",
			fmt.Sprintf("command execution failed: %v\nStderr: %s", runErr, result.Stderr),
			runErr,
		)
	}

	if result.ExitCode != 0 {
		return result, command.WrapError(
			"ShellExecutionError",
			fmt.Sprintf("command exited with non-zero status: %d\nStderr: %s", result.ExitCode, result.Stderr),
			nil,
		)
	}

	return result, nil
}
