package pipeline

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
	"github.com/dustin/go-humanize"
	"github.com/goliatone/go-errors"
)

// SassCompiler is the part of *godartsass.Transpiler the style compiler uses.
type SassCompiler interface {
	Execute(args godartsass.Args) (godartsass.Result, error)
	Close() error
}

// StyleCompiler compiles every non-partial Sass entry point into compressed CSS.
type StyleCompiler struct {
	root    string
	dist    string
	cfg     StylesConfig
	sources *SourceProvider
	logger  Logger

	mu       sync.Mutex
	compiler SassCompiler
	start    func() (SassCompiler, error)
}

type StyleOption func(*StyleCompiler)

// WithSassCompiler uses compiler instead of starting an embedded Dart Sass process.
func WithSassCompiler(compiler SassCompiler) StyleOption {
	return func(s *StyleCompiler) {
		if compiler != nil {
			s.compiler = compiler
		}
	}
}

func WithStyleLogger(logger Logger) StyleOption {
	return func(s *StyleCompiler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStyleCompiler(root, dist string, cfg StylesConfig, sources *SourceProvider, opts ...StyleOption) *StyleCompiler {
	s := &StyleCompiler{
		root:    root,
		dist:    dist,
		cfg:     cfg,
		sources: sources,
		logger:  scopedLogger(nil, "pipeline:styles", nil),
	}
	s.start = s.startDartSass

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *StyleCompiler) startDartSass() (SassCompiler, error) {
	opts := godartsass.Options{
		DartSassEmbeddedFilename: s.cfg.SassBinary,
		Timeout:                  s.cfg.Timeout,
		LogEventHandler: func(event godartsass.LogEvent) {
			s.logger.Warn("sass", "message", event.Message)
		},
	}
	t, err := godartsass.Start(opts)
	if err != nil {
		return nil, chain(err, errors.CategoryExternal, CodeSassFailed, "failed to start dart sass")
	}
	return t, nil
}

// transpiler starts the compiler on first use and reuses it afterwards.
func (s *StyleCompiler) transpiler() (SassCompiler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.compiler != nil {
		return s.compiler, nil
	}
	c, err := s.start()
	if err != nil {
		return nil, err
	}
	s.compiler = c
	return c, nil
}

func (s *StyleCompiler) Run(ctx context.Context) error {
	files, err := s.sources.Read(ctx, PathSet(s.cfg.Sources))
	if err != nil {
		return err
	}

	var entries []File
	for _, f := range files {
		if !isPartial(f.Path) {
			entries = append(entries, f)
		}
	}
	if len(entries) == 0 {
		s.logger.Debug("no stylesheets to compile")
		return nil
	}

	compiler, err := s.transpiler()
	if err != nil {
		return err
	}

	out, err := Apply(ctx, entries, EachFile("sass", func(_ context.Context, f File) (File, error) {
		return s.compile(compiler, f)
	}))
	if err != nil {
		return err
	}

	for _, f := range out {
		if err := writeFileAtomic(filepath.Join(s.dist, filepath.FromSlash(f.Path)), f.Contents); err != nil {
			return err
		}
		s.logger.Info("stylesheet written", "path", f.Path, "size", humanize.Bytes(uint64(len(f.Contents))))
	}
	return nil
}

func (s *StyleCompiler) compile(compiler SassCompiler, f File) (File, error) {
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(f.Path)))
	if err != nil {
		return f, readError(err, f.Path)
	}

	includes := []string{filepath.Dir(abs)}
	for _, p := range s.cfg.IncludePaths {
		includes = append(includes, filepath.Join(s.root, filepath.FromSlash(p)))
	}

	result, err := compiler.Execute(godartsass.Args{
		Source:       string(f.Contents),
		URL:          "file://" + filepath.ToSlash(abs),
		OutputStyle:  godartsass.OutputStyleCompressed,
		SourceSyntax: sassSyntax(f.Ext()),
		IncludePaths: includes,
	})
	if err != nil {
		return f, chain(err, errors.CategoryExternal, CodeSassFailed, "failed to compile "+f.Path).
			WithMetadata(map[string]any{"path": f.Path})
	}

	name := strings.TrimSuffix(path.Base(f.Path), path.Ext(f.Path)) + ".css"
	return File{
		Path:     path.Join(s.cfg.Output, name),
		Contents: []byte(result.CSS),
	}, nil
}

// Close stops the Dart Sass process if one was started.
func (s *StyleCompiler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.compiler == nil {
		return nil
	}
	err := s.compiler.Close()
	s.compiler = nil
	return err
}

func isPartial(p string) bool {
	return strings.HasPrefix(path.Base(p), "_")
}

func sassSyntax(ext string) godartsass.SourceSyntax {
	switch ext {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".css":
		return godartsass.SourceSyntaxCSS
	default:
		return godartsass.SourceSyntaxSCSS
	}
}
