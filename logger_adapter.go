package pipeline

import (
	"context"
	"sort"

	"github.com/goliatone/go-logger/glog"
)

// GoLoggerProvider exposes a go-logger provider as a pipeline LoggerProvider.
func GoLoggerProvider(provider glog.LoggerProvider) LoggerProvider {
	if provider == nil {
		return nil
	}
	return glogProvider{provider: provider}
}

// GoLogger exposes a go-logger Logger as a pipeline Logger.
func GoLogger(logger glog.Logger) Logger {
	if logger == nil {
		return nil
	}
	return &glogLogger{logger: logger}
}

type glogProvider struct {
	provider glog.LoggerProvider
}

func (g glogProvider) GetLogger(name string) Logger {
	return GoLogger(g.provider.GetLogger(name))
}

type glogLogger struct {
	logger glog.Logger
}

func (g *glogLogger) Trace(msg string, args ...any) { g.logger.Trace(msg, args...) }
func (g *glogLogger) Debug(msg string, args ...any) { g.logger.Debug(msg, args...) }
func (g *glogLogger) Info(msg string, args ...any)  { g.logger.Info(msg, args...) }
func (g *glogLogger) Warn(msg string, args ...any)  { g.logger.Warn(msg, args...) }
func (g *glogLogger) Error(msg string, args ...any) { g.logger.Error(msg, args...) }
func (g *glogLogger) Fatal(msg string, args ...any) { g.logger.Fatal(msg, args...) }

func (g *glogLogger) WithContext(ctx context.Context) Logger {
	return &glogLogger{logger: g.logger.WithContext(ctx)}
}

// WithFields uses the underlying With(args...) when go-logger exposes one,
// otherwise the fields are dropped.
func (g *glogLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return g
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}

	switch l := g.logger.(type) {
	case interface{ With(args ...any) glog.Logger }:
		return &glogLogger{logger: l.With(args...)}
	case interface {
		With(args ...any) *glog.BaseLogger
	}:
		return &glogLogger{logger: l.With(args...)}
	}
	return g
}
