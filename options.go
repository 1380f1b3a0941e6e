package pipeline

import (
	"io"
	"io/fs"
)

type Option func(*Pipeline)

// WithDirFS reads sources from dfs instead of the project directory.
// Outputs are still written under the project root.
func WithDirFS(dfs fs.FS) Option {
	return func(p *Pipeline) {
		p.fs = dfs
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(p *Pipeline) {
		if provider != nil {
			p.loggerProvider = provider
		}
	}
}

// WithErrorHandler is called with the error of every failed task, including
// failures of watch triggered runs.
func WithErrorHandler(handler func(error)) Option {
	return func(p *Pipeline) {
		if handler != nil {
			p.errorHandler = handler
		}
	}
}

func WithEventHandler(handler TaskEventHandler) Option {
	return func(p *Pipeline) {
		if handler != nil {
			p.eventHandlers = append(p.eventHandlers, handler)
		}
	}
}

// WithSass compiles styles with compiler instead of an embedded Dart Sass
// process. The pipeline closes it on Close.
func WithSass(compiler SassCompiler) Option {
	return func(p *Pipeline) {
		if compiler != nil {
			p.sass = compiler
		}
	}
}

// WithDeployOutput streams the deploy command output to w.
func WithDeployOutput(w io.Writer) Option {
	return func(p *Pipeline) {
		if w != nil {
			p.deployOutput = w
		}
	}
}

func WithTemplateTransform(fn func(string) string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.templateTransform = fn
		}
	}
}
