package pipeline

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// File is a single record flowing through a stage chain.
type File struct {
	// Path is project relative and slash separated.
	Path string
	// Base is the static prefix of the pattern that matched Path.
	Base      string
	Contents  []byte
	SourceMap []byte
}

// Relative returns Path relative to Base.
func (f File) Relative() string {
	if f.Base == "" || f.Base == "." {
		return f.Path
	}
	rel := strings.TrimPrefix(f.Path, strings.TrimSuffix(f.Base, "/")+"/")
	if rel == f.Path {
		return path.Base(f.Path)
	}
	return rel
}

// Ext returns the lower-cased extension of the file path.
func (f File) Ext() string {
	return strings.ToLower(path.Ext(f.Path))
}

// WithContents returns a copy of f holding data.
func (f File) WithContents(data []byte) File {
	f.Contents = data
	return f
}

// writeFileAtomic writes data to a temp file next to name and renames it in
// place, so readers never observe a partially written output.
func writeFileAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return writeError(err, name)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return writeError(err, name)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return writeError(err, name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return writeError(err, name)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return writeError(err, name)
	}
	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return writeError(err, name)
	}
	return nil
}
