package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger is the leveled logging contract shared by every pipeline component.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// LoggerProvider hands out loggers scoped by component name,
// e.g. "pipeline:scripts".
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// FieldsLogger attaches persistent key/value pairs to a logger.
type FieldsLogger interface {
	WithFields(fields map[string]any) Logger
}

// LogLevel is the minimum severity emitted by the std logger.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLogLevel maps a config or flag value ("debug", "WARN", ...) to a LogLevel.
// Unknown values fall back to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	for level, name := range levelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return level
		}
	}
	if strings.EqualFold(s, "warning") {
		return LevelWarn
	}
	return LevelInfo
}

// StdLoggerOption configures the built-in line logger.
type StdLoggerOption func(*stdLoggerProvider)

// WithStdLoggerWriter sets the destination for log lines.
func WithStdLoggerWriter(w io.Writer) StdLoggerOption {
	return func(p *stdLoggerProvider) {
		if w != nil {
			p.writer = w
		}
	}
}

// WithStdLoggerMinLevel sets the minimum level written.
func WithStdLoggerMinLevel(level LogLevel) StdLoggerOption {
	return func(p *stdLoggerProvider) {
		p.minLevel = level
	}
}

// WithStdLoggerClock overrides the timestamp source.
func WithStdLoggerClock(fn func() time.Time) StdLoggerOption {
	return func(p *stdLoggerProvider) {
		if fn != nil {
			p.now = fn
		}
	}
}

// NewStdLoggerProvider returns a provider writing `ts LEVEL [name] msg k=v` lines.
// Without a writer option it discards everything, so library users get a
// silent pipeline unless they opt in.
func NewStdLoggerProvider(opts ...StdLoggerOption) LoggerProvider {
	return newStdLoggerProvider(opts...)
}

type stdLoggerProvider struct {
	mu       sync.Mutex
	writer   io.Writer
	minLevel LogLevel
	now      func() time.Time
}

func newStdLoggerProvider(opts ...StdLoggerOption) *stdLoggerProvider {
	p := &stdLoggerProvider{
		writer:   io.Discard,
		minLevel: LevelInfo,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *stdLoggerProvider) GetLogger(name string) Logger {
	return &stdLogger{provider: p, name: name, ctx: context.Background()}
}

type stdLogger struct {
	provider *stdLoggerProvider
	name     string
	fields   map[string]any
	ctx      context.Context
}

func (l *stdLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }
func (l *stdLogger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }
func (l *stdLogger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args) }
func (l *stdLogger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args) }
func (l *stdLogger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }
func (l *stdLogger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args) }

func (l *stdLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &stdLogger{provider: l.provider, name: l.name, fields: l.fields, ctx: ctx}
}

func (l *stdLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{provider: l.provider, name: l.name, fields: merged, ctx: l.ctx}
}

func (l *stdLogger) log(level LogLevel, msg string, args []any) {
	if l == nil || l.provider == nil || level < l.provider.minLevel {
		return
	}

	pairs := make([]string, 0, len(l.fields)+len(args)/2+1)

	keys := make([]string, 0, len(l.fields))
	for key := range l.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, l.fields[key]))
	}

	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%v=%v", args[i], args[i+1]))
	}
	if len(args)%2 == 1 {
		// keep the dangling value visible
		pairs = append(pairs, fmt.Sprintf("extra_arg=%v", args[len(args)-1]))
	}

	l.provider.write(level, l.name, msg, pairs)
}

func (p *stdLoggerProvider) write(level LogLevel, name, msg string, pairs []string) {
	if p.writer == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(p.now().Format(time.RFC3339Nano))
	sb.WriteByte(' ')
	sb.WriteString(level.String())
	if name != "" {
		sb.WriteString(" [" + name + "]")
	}
	if msg != "" {
		sb.WriteString(" " + msg)
	}
	if len(pairs) > 0 {
		sb.WriteString(" " + strings.Join(pairs, " "))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, sb.String())
}

// scopedLogger returns a logger named after a component, falling back to a
// silent std logger when no provider is configured.
func scopedLogger(provider LoggerProvider, name string, fields map[string]any) Logger {
	if provider == nil {
		provider = newStdLoggerProvider()
	}
	logger := provider.GetLogger(name)
	if fl, ok := logger.(FieldsLogger); ok && len(fields) > 0 {
		return fl.WithFields(fields)
	}
	return logger
}

// FilterLoggerProvider drops messages below min before they reach provider.
// Use it with providers that cannot change their level after construction.
func FilterLoggerProvider(provider LoggerProvider, min LogLevel) LoggerProvider {
	if provider == nil {
		return nil
	}
	return filteredProvider{provider: provider, min: min}
}

type filteredProvider struct {
	provider LoggerProvider
	min      LogLevel
}

func (p filteredProvider) GetLogger(name string) Logger {
	return &filteredLogger{logger: p.provider.GetLogger(name), min: p.min}
}

type filteredLogger struct {
	logger Logger
	min    LogLevel
}

func (l *filteredLogger) Trace(msg string, args ...any) {
	if l.min <= LevelTrace {
		l.logger.Trace(msg, args...)
	}
}

func (l *filteredLogger) Debug(msg string, args ...any) {
	if l.min <= LevelDebug {
		l.logger.Debug(msg, args...)
	}
}

func (l *filteredLogger) Info(msg string, args ...any) {
	if l.min <= LevelInfo {
		l.logger.Info(msg, args...)
	}
}

func (l *filteredLogger) Warn(msg string, args ...any) {
	if l.min <= LevelWarn {
		l.logger.Warn(msg, args...)
	}
}

func (l *filteredLogger) Error(msg string, args ...any) {
	if l.min <= LevelError {
		l.logger.Error(msg, args...)
	}
}

func (l *filteredLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l *filteredLogger) WithContext(ctx context.Context) Logger {
	return &filteredLogger{logger: l.logger.WithContext(ctx), min: l.min}
}

func (l *filteredLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(FieldsLogger); ok {
		return &filteredLogger{logger: fl.WithFields(fields), min: l.min}
	}
	return l
}
