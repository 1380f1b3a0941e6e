package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goliatone/go-errors"
)

// Cleaner empties the output directory, keeping the directory itself.
type Cleaner struct {
	dist   string
	logger Logger
}

func NewCleaner(dist string, provider LoggerProvider) *Cleaner {
	return &Cleaner{
		dist:   dist,
		logger: scopedLogger(provider, "pipeline:static", nil),
	}
}

func (c *Cleaner) Run(ctx context.Context) error {
	if err := os.MkdirAll(c.dist, 0o755); err != nil {
		return chain(err, errors.CategoryInternal, CodeCleanFailed, "failed to create "+c.dist)
	}

	entries, err := os.ReadDir(c.dist)
	if err != nil {
		return chain(err, errors.CategoryInternal, CodeCleanFailed, "failed to list "+c.dist)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(c.dist, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			return chain(err, errors.CategoryInternal, CodeCleanFailed, "failed to remove "+target).
				WithMetadata(map[string]any{"path": target})
		}
	}

	c.logger.Info("output cleaned", "dir", c.dist, "removed", len(entries))
	return nil
}

// StaticCopier copies static assets into the output directory, keeping their
// structure relative to a common base.
type StaticCopier struct {
	dist    string
	cfg     StaticConfig
	sources *SourceProvider
	logger  Logger
}

func NewStaticCopier(dist string, cfg StaticConfig, sources *SourceProvider, provider LoggerProvider) *StaticCopier {
	return &StaticCopier{
		dist:    dist,
		cfg:     cfg,
		sources: sources,
		logger:  scopedLogger(provider, "pipeline:static", nil),
	}
}

func (s *StaticCopier) Run(ctx context.Context) error {
	files, err := s.sources.Read(ctx, PathSet(s.cfg.Sources))
	if err != nil {
		return err
	}

	var total int
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cfg.Base != "" {
			f.Base = strings.TrimSuffix(cleanPattern(s.cfg.Base), "/")
		}
		dest := filepath.Join(s.dist, filepath.FromSlash(f.Relative()))
		if err := writeFileAtomic(dest, f.Contents); err != nil {
			return err
		}
		total += len(f.Contents)
	}

	s.logger.Info("static files copied", "files", len(files), "size", humanize.Bytes(uint64(total)))
	return nil
}
