package pipeline

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goliatone/go-errors"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

// DefaultTemplateURLTransform replaces the directory part of a template URL
// with ".", so "app/widgets/list/list.html" is cached as "./list.html".
func DefaultTemplateURLTransform(url string) string {
	dir := path.Dir(url)
	if dir == "." {
		return url
	}
	return strings.Replace(url, dir, ".", 1)
}

// TemplateInliner minifies HTML fragments and registers them in a generated
// AngularJS module that preloads $templateCache.
type TemplateInliner struct {
	root      string
	cfg       TemplatesConfig
	sources   *SourceProvider
	minifier  *minify.M
	transform func(string) string
	logger    Logger
}

type TemplateOption func(*TemplateInliner)

// WithTemplateURLTransform replaces the cache key transform.
func WithTemplateURLTransform(fn func(string) string) TemplateOption {
	return func(t *TemplateInliner) {
		if fn != nil {
			t.transform = fn
		}
	}
}

func WithTemplateLogger(logger Logger) TemplateOption {
	return func(t *TemplateInliner) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTemplateInliner(root string, cfg TemplatesConfig, sources *SourceProvider, opts ...TemplateOption) *TemplateInliner {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
		KeepDefaultAttrVals: true,
	})

	t := &TemplateInliner{
		root:      root,
		cfg:       cfg,
		sources:   sources,
		minifier:  m,
		transform: DefaultTemplateURLTransform,
		logger:    scopedLogger(nil, "pipeline:templates", nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// OutputPath is where the generated module lands on disk.
func (t *TemplateInliner) OutputPath() string {
	return filepath.Join(t.root, filepath.FromSlash(t.cfg.Output))
}

// Run builds the template cache module and writes it to the project root.
func (t *TemplateInliner) Run(ctx context.Context) error {
	files, err := t.sources.Read(ctx, PathSet(t.cfg.Sources))
	if err != nil {
		return err
	}

	out, err := Apply(ctx, files, t.Stages()...)
	if err != nil {
		return err
	}

	module := out[0]
	if err := writeFileAtomic(t.OutputPath(), module.Contents); err != nil {
		return err
	}

	t.logger.Info("template cache written",
		"path", t.cfg.Output,
		"templates", len(files),
		"size", humanize.Bytes(uint64(len(module.Contents))),
	)
	return nil
}

// Stages returns the minify and cache-module stages in order.
func (t *TemplateInliner) Stages() []Stage {
	return []Stage{
		EachFile("htmlmin", t.minifyFile),
		NewStage("templatecache", t.buildModule),
	}
}

func (t *TemplateInliner) minifyFile(_ context.Context, f File) (File, error) {
	out, err := t.minifier.Bytes("text/html", f.Contents)
	if err != nil {
		return f, chain(err, errors.CategoryExternal, CodeMinifyFailed, "failed to minify "+f.Path).
			WithMetadata(map[string]any{"path": f.Path})
	}
	return f.WithContents(out), nil
}

// Key returns the cache key for a template file.
func (t *TemplateInliner) Key(f File) string {
	url := f.Relative()
	if t.cfg.Root != "" {
		url = strings.TrimSuffix(t.cfg.Root, "/") + "/" + url
	}
	return t.transform(url)
}

func (t *TemplateInliner) buildModule(_ context.Context, files []File) ([]File, error) {
	var keys []string
	contents := make(map[string][]byte, len(files))
	origin := make(map[string]string, len(files))

	for _, f := range files {
		key := t.Key(f)
		if prev, dup := origin[key]; dup {
			t.logger.Warn("duplicate template key, last one wins", "key", key, "previous", prev, "path", f.Path)
		} else {
			keys = append(keys, key)
		}
		origin[key] = f.Path
		contents[key] = f.Contents
	}

	var sb strings.Builder
	sb.WriteString("angular.module('")
	sb.WriteString(jsEscape(t.cfg.Module))
	sb.WriteString("', []).run(['$templateCache', function($templateCache) {\n")
	for _, key := range keys {
		sb.WriteString("$templateCache.put('")
		sb.WriteString(jsEscape(key))
		sb.WriteString("','")
		sb.WriteString(jsEscape(string(contents[key])))
		sb.WriteString("');\n")
	}
	sb.WriteString("}]);")

	return []File{{Path: t.cfg.Output, Contents: []byte(sb.String())}}, nil
}

var jsEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

// jsEscape makes s safe inside a single quoted JS string literal.
func jsEscape(s string) string {
	return jsEscaper.Replace(s)
}
