package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goliatone/go-errors"
)

var ErrSourceTooLarge = errors.New("source exceeds maximum size limit", errors.CategoryBadInput).
	WithTextCode("SOURCE_TOO_LARGE")

// PathSet is an ordered list of glob patterns. Entries starting with "!" exclude
// matches of earlier or later patterns. Paths are project relative.
type PathSet []string

// Source is a resolved member of a PathSet.
type Source struct {
	Path string
	Base string
}

// Match reports whether name is selected by the set.
func (s PathSet) Match(name string) bool {
	name = cleanPattern(name)
	included := false
	for _, pattern := range s {
		if strings.HasPrefix(pattern, "!") {
			continue
		}
		if ok, _ := doublestar.Match(cleanPattern(pattern), name); ok {
			included = true
			break
		}
	}
	return included && !s.excluded(name)
}

func (s PathSet) excluded(name string) bool {
	for _, pattern := range s {
		if !strings.HasPrefix(pattern, "!") {
			continue
		}
		if ok, _ := doublestar.Match(cleanPattern(pattern[1:]), name); ok {
			return true
		}
	}
	return false
}

// Bases returns the static directory prefix of every positive pattern.
func (s PathSet) Bases() []string {
	var bases []string
	seen := map[string]bool{}
	for _, pattern := range s {
		if strings.HasPrefix(pattern, "!") {
			continue
		}
		base := patternBase(cleanPattern(pattern))
		if !seen[base] {
			seen[base] = true
			bases = append(bases, base)
		}
	}
	return bases
}

func cleanPattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func patternBase(p string) string {
	if !hasMeta(p) {
		return path.Dir(p)
	}
	base, _ := doublestar.SplitPattern(p)
	return base
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{\\")
}

// SourceProvider resolves path sets against a file system and loads them.
type SourceProvider struct {
	rootDir     string
	fs          fs.FS
	maxFileSize int64
}

// NewSourceProvider reads from rootDir unless an explicit fs.FS is given.
func NewSourceProvider(rootDir string, fss ...fs.FS) *SourceProvider {
	var fsys fs.FS
	if len(fss) > 0 && fss[0] != nil {
		fsys = fss[0]
	} else {
		fsys = os.DirFS(rootDir)
	}
	return &SourceProvider{
		rootDir: rootDir,
		fs:      fsys,
	}
}

// WithMaxFileSize caps the size of any single source. Zero disables the check.
func (p *SourceProvider) WithMaxFileSize(limit int64) *SourceProvider {
	p.maxFileSize = limit
	return p
}

// FS returns the file system sources are resolved against.
func (p *SourceProvider) FS() fs.FS {
	return p.fs
}

// Resolve expands set in pattern order. Literal paths keep their position,
// glob matches are sorted lexically, duplicates keep their first position
// and missing inputs resolve to nothing.
func (p *SourceProvider) Resolve(ctx context.Context, set PathSet) ([]Source, error) {
	var out []Source
	seen := make(map[string]bool)

	add := func(name, base string) {
		if seen[name] || set.excluded(name) {
			return
		}
		seen[name] = true
		out = append(out, Source{Path: name, Base: base})
	}

	for _, raw := range set {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(raw, "!") {
			continue
		}

		pattern := cleanPattern(raw)
		if !hasMeta(pattern) {
			info, err := fs.Stat(p.fs, pattern)
			if err != nil || info.IsDir() {
				continue
			}
			add(pattern, path.Dir(pattern))
			continue
		}

		if !doublestar.ValidatePattern(pattern) {
			return nil, badInput(CodeConfigInvalid, fmt.Sprintf("invalid glob pattern %q", raw), map[string]any{"pattern": raw})
		}

		matches, err := doublestar.Glob(p.fs, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, readError(err, pattern)
		}
		sort.Strings(matches)

		base := patternBase(pattern)
		for _, match := range matches {
			add(match, base)
		}
	}

	return out, nil
}

// Read resolves set and loads every matched file.
func (p *SourceProvider) Read(ctx context.Context, set PathSet) ([]File, error) {
	sources, err := p.Resolve(ctx, set)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(sources))
	for _, src := range sources {
		data, err := p.load(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: src.Path, Base: src.Base, Contents: data})
	}
	return files, nil
}

// ReadFile loads a single project relative file.
func (p *SourceProvider) ReadFile(ctx context.Context, name string) ([]byte, error) {
	return p.load(ctx, cleanPattern(name))
}

func (p *SourceProvider) load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := p.fs.Open(name)
	if err != nil {
		return nil, readError(err, name)
	}

	content, readErr := p.readFile(ctx, name, file)
	closeErr := file.Close()
	if readErr != nil {
		return nil, readErr
	}
	if closeErr != nil {
		return nil, readError(closeErr, name)
	}
	return content, nil
}

func (p *SourceProvider) readFile(ctx context.Context, name string, file fs.File) ([]byte, error) {
	var initialSize int
	if info, err := file.Stat(); err == nil {
		if size := info.Size(); size >= 0 {
			if p.maxFileSize > 0 && size > p.maxFileSize {
				return nil, chain(ErrSourceTooLarge, errors.CategoryBadInput, CodeReadFailed,
					fmt.Sprintf("%s has size %d bytes (limit %d)", name, size, p.maxFileSize))
			}
			if size < int64(^uint(0)>>1) {
				initialSize = int(size)
			}
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, initialSize))
	chunk := make([]byte, 32*1024)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := file.Read(chunk)
		if n > 0 {
			total += int64(n)
			if p.maxFileSize > 0 && total > p.maxFileSize {
				return nil, chain(ErrSourceTooLarge, errors.CategoryBadInput, CodeReadFailed,
					fmt.Sprintf("%s exceeded limit %d bytes", name, p.maxFileSize))
			}
			buf.Write(chunk[:n])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, readError(err, name)
		}
	}

	return buf.Bytes(), nil
}
