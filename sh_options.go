package pipeline

import (
	"io"
	"time"
)

type ShellOption func(*ShellRunner)

// WithShellTimeout bounds every command. Zero leaves commands unbounded.
func WithShellTimeout(timeout time.Duration) ShellOption {
	return func(r *ShellRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithShellShell sets the shell executable and arguments
func WithShellShell(shell string, args ...string) ShellOption {
	return func(r *ShellRunner) {
		if shell != "" {
			r.shell = shell
			if len(args) > 0 {
				r.shellArgs = args
			}
		}
	}
}

// WithShellWorkingDirectory sets the directory commands run in
func WithShellWorkingDirectory(dir string) ShellOption {
	return func(r *ShellRunner) {
		if dir != "" {
			r.workDir = dir
		}
	}
}

// WithShellEnvironment adds KEY=value pairs on top of the process environment
func WithShellEnvironment(env map[string]string) ShellOption {
	return func(r *ShellRunner) {
		for k, v := range env {
			r.environment = append(r.environment, k+"="+v)
		}
	}
}

// WithShellOutput streams stdout and stderr to w while still capturing them.
func WithShellOutput(w io.Writer) ShellOption {
	return func(r *ShellRunner) {
		if w != nil {
			r.output = w
		}
	}
}

func WithShellLogger(logger Logger) ShellOption {
	return func(r *ShellRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}
