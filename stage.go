package pipeline

import (
	"bytes"
	"context"
	"fmt"
)

// Stage transforms a stream of file records. A stage may map files one to one
// (minify, wrap) or reduce many files to one (concat).
type Stage interface {
	Name() string
	Apply(ctx context.Context, files []File) ([]File, error)
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, files []File) ([]File, error)
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Apply(ctx context.Context, files []File) ([]File, error) {
	return s.fn(ctx, files)
}

// NewStage adapts a function to the Stage interface.
func NewStage(name string, fn func(ctx context.Context, files []File) ([]File, error)) Stage {
	return stageFunc{name: name, fn: fn}
}

// EachFile builds a one to one stage.
func EachFile(name string, fn func(ctx context.Context, f File) (File, error)) Stage {
	return NewStage(name, func(ctx context.Context, files []File) ([]File, error) {
		out := make([]File, 0, len(files))
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			next, err := fn(ctx, f)
			if err != nil {
				return nil, err
			}
			out = append(out, next)
		}
		return out, nil
	})
}

// Concat joins every file, in stream order, into a single record at outPath.
// An empty stream still yields one empty file.
func Concat(outPath, separator string) Stage {
	return NewStage("concat", func(_ context.Context, files []File) ([]File, error) {
		var buf bytes.Buffer
		for i, f := range files {
			if i > 0 {
				buf.WriteString(separator)
			}
			buf.Write(f.Contents)
		}
		return []File{{Path: outPath, Contents: buf.Bytes()}}, nil
	})
}

// Apply runs stages in order over files.
func Apply(ctx context.Context, files []File, stages ...Stage) ([]File, error) {
	var err error
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		files, err = stage.Apply(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return files, nil
}
