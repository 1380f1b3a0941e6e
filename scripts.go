package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goliatone/go-errors"
)

// ScriptBundler turns the application's TypeScript sources into one isolated,
// dependency ordered bundle with a source map.
type ScriptBundler struct {
	root    string
	dist    string
	cfg     ScriptsConfig
	minify  bool
	sources *SourceProvider
	shell   *ShellRunner
	logger  Logger
}

type ScriptOption func(*ScriptBundler)

func WithScriptLogger(logger Logger) ScriptOption {
	return func(s *ScriptBundler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScriptShellRunner sets the runner used for the type-check command.
func WithScriptShellRunner(runner *ShellRunner) ScriptOption {
	return func(s *ScriptBundler) {
		if runner != nil {
			s.shell = runner
		}
	}
}

func NewScriptBundler(root, dist string, cfg ScriptsConfig, minify bool, sources *SourceProvider, opts ...ScriptOption) *ScriptBundler {
	s := &ScriptBundler{
		root:    root,
		dist:    dist,
		cfg:     cfg,
		minify:  minify,
		sources: sources,
		logger:  scopedLogger(nil, "pipeline:scripts", nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.shell == nil {
		s.shell = NewShellRunner(WithShellWorkingDirectory(root), WithShellLogger(s.logger))
	}
	return s
}

// OutputPath is the bundle location on disk. The map sits next to it.
func (s *ScriptBundler) OutputPath() string {
	return filepath.Join(s.dist, filepath.FromSlash(s.cfg.Output))
}

// Run builds the bundle. Nothing is written unless every step succeeds, so a
// failed build leaves the previous bundle in place.
func (s *ScriptBundler) Run(ctx context.Context) error {
	if err := s.typecheck(ctx); err != nil {
		return err
	}

	typed, err := s.sources.Read(ctx, PathSet(s.cfg.Sources))
	if err != nil {
		return err
	}
	extra, err := s.sources.Read(ctx, PathSet(s.cfg.Extra))
	if err != nil {
		return err
	}

	manifest := NewManifest(s.cfg.Manifest)
	for _, f := range typed {
		deps, err := ParseScriptDeps(f.Path, f.Contents)
		if err != nil {
			return err
		}
		manifest.Add(f.Path, deps)
	}

	tsconfig, err := s.tsconfig()
	if err != nil {
		return err
	}

	files := append(append([]File(nil), typed...), extra...)
	out, err := Apply(ctx, files, s.Stages(manifest, tsconfig)...)
	if err != nil {
		return err
	}

	name := path.Base(s.cfg.Output)
	bundle, sourceMap, err := concatWithIndexMap(name, out, "\n")
	if err != nil {
		return err
	}
	bundle = append(bundle, []byte(fmt.Sprintf("\n//# sourceMappingURL=%s.map\n", name))...)

	if err := verifyScript(s.cfg.Output, bundle); err != nil {
		return err
	}

	if err := writeFileAtomic(s.OutputPath()+".map", sourceMap); err != nil {
		return err
	}
	if err := writeFileAtomic(s.OutputPath(), bundle); err != nil {
		return err
	}

	s.logger.Info("script bundle written",
		"path", s.cfg.Output,
		"files", len(out),
		"minified", s.minify,
		"size", humanize.Bytes(uint64(len(bundle))),
	)
	return nil
}

// Stages returns the per-file steps of the bundle in order: transpile, wrap,
// sort, annotate and the final print that produces each file's source map.
func (s *ScriptBundler) Stages(manifest *Manifest, tsconfig string) []Stage {
	return []Stage{
		EachFile("typescript", func(_ context.Context, f File) (File, error) {
			switch f.Ext() {
			case ".ts", ".tsx":
				return transpileTS(f, tsconfig)
			}
			return f, nil
		}),
		EachFile("wrap", func(_ context.Context, f File) (File, error) {
			return f.WithContents([]byte(wrapScript(s.global(), string(f.Contents)))), nil
		}),
		NewStage("filesort", func(_ context.Context, files []File) ([]File, error) {
			return manifest.Order(files)
		}),
		EachFile("annotate", func(_ context.Context, f File) (File, error) {
			return annotateInjections(f)
		}),
		EachFile("print", func(_ context.Context, f File) (File, error) {
			return transformJS(f, s.minify)
		}),
	}
}

func (s *ScriptBundler) global() string {
	if s.cfg.Global == "" {
		return "angular"
	}
	return s.cfg.Global
}

// wrapScript isolates contents in a closure that only sees one global.
func wrapScript(global, contents string) string {
	return fmt.Sprintf("(function(%[1]s){\n'use strict';\n%[2]s})(window.%[1]s);", global, contents)
}

func (s *ScriptBundler) tsconfig() (string, error) {
	if s.cfg.Tsconfig == "" {
		return "", nil
	}
	name := filepath.Join(s.root, filepath.FromSlash(s.cfg.Tsconfig))
	data, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", readError(err, s.cfg.Tsconfig)
	}
	return string(data), nil
}

// typecheckCommand is the configured command or, when the project has a
// tsconfig, tsc from node_modules/.bin or PATH.
func (s *ScriptBundler) typecheckCommand() string {
	if s.cfg.SkipTypecheck {
		return ""
	}
	if s.cfg.TypecheckCommand != "" {
		return s.cfg.TypecheckCommand
	}
	if s.cfg.Tsconfig == "" {
		return ""
	}
	if _, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(s.cfg.Tsconfig))); err != nil {
		return ""
	}

	tsc := "tsc"
	if _, err := os.Stat(filepath.Join(s.root, "node_modules", ".bin", "tsc")); err == nil {
		tsc = "node_modules/.bin/tsc"
	}
	return tsc + " --noEmit -p " + shellQuote(s.cfg.Tsconfig)
}

func shellQuote(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func (s *ScriptBundler) typecheck(ctx context.Context) error {
	command := s.typecheckCommand()
	if command == "" {
		return nil
	}

	result, err := s.shell.Run(ctx, command)
	if err != nil {
		logLines(s.logger, "stdout", result.Stdout)
		logLines(s.logger, "stderr", result.Stderr)
		if result.ExitCode == 127 {
			s.logger.Warn("type checker not found, install typescript or set scripts.skip_typecheck", "command", command)
		}
		return chain(err, errors.CategoryExternal, CodeTypecheckFailed, "type check failed").
			WithMetadata(map[string]any{
				"command":   command,
				"exit_code": result.ExitCode,
				"output":    result.Stdout + result.Stderr,
			})
	}
	s.logger.Debug("type check passed", "duration", result.Duration)
	return nil
}
