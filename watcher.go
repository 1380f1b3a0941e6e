package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goliatone/go-errors"
)

// DefaultWatchDebounce is how long a burst of file events must stay quiet
// before the change callback fires.
const DefaultWatchDebounce = 150 * time.Millisecond

// Watcher reports changes to files selected by a PathSet below a root directory.
type Watcher struct {
	root     string
	set      PathSet
	debounce time.Duration
	onChange func(changed []string)
	logger   Logger

	fsw       *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

func WithWatcherDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithWatcherLogger(logger Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWatcher(root string, set PathSet, onChange func(changed []string), opts ...WatcherOption) (*Watcher, error) {
	if len(set) == 0 {
		return nil, badInput(CodeWatchFailed, "watch requires at least one pattern", nil)
	}
	if onChange == nil {
		onChange = func([]string) {}
	}

	w := &Watcher{
		root:     root,
		set:      set,
		debounce: DefaultWatchDebounce,
		onChange: onChange,
		logger:   scopedLogger(nil, "pipeline:watcher", nil),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start registers the watched directories and begins delivering changes.
// It returns once watching is established.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return chain(err, errors.CategoryExternal, CodeWatchFailed, "failed to create file watcher")
	}
	w.fsw = fsw

	for _, base := range w.set.Bases() {
		dir := w.nearestDir(base)
		if err := w.addTree(dir); err != nil {
			fsw.Close()
			w.fsw = nil
			return err
		}
	}

	go w.loop(ctx)
	return nil
}

// nearestDir walks up from a pattern base to the closest directory that
// exists, so patterns over not-yet-created directories still get noticed.
func (w *Watcher) nearestDir(base string) string {
	rel := filepath.FromSlash(base)
	for {
		full := filepath.Join(w.root, rel)
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			return full
		}
		if rel == "." || rel == string(filepath.Separator) {
			return w.root
		}
		rel = filepath.Dir(rel)
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return chain(err, errors.CategoryExternal, CodeWatchFailed, "failed to walk "+p)
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && skipWatchDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return chain(err, errors.CategoryExternal, CodeWatchFailed, "failed to watch "+p)
		}
		return nil
	})
}

func skipWatchDir(name string) bool {
	switch name {
	case ".git", "node_modules":
		return true
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		sort.Strings(changed)
		pending = make(map[string]bool)
		w.onChange(changed)
	}

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if rel, ok := w.accept(event); ok {
				pending[rel] = true
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
				}
				fire = timer.C
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case <-fire:
			fire = nil
			flush()
		}
	}
}

// accept filters events down to matching files and starts watching newly
// created directories.
func (w *Watcher) accept(event fsnotify.Event) (string, bool) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return "", false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return "", false
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if !w.set.Match(rel) {
		return "", false
	}
	w.logger.Debug("file changed", "path", rel, "op", event.Op.String())
	return rel, true
}

func (w *Watcher) stop() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}

// Close stops the watcher and waits for its event loop to exit. It is safe to
// call more than once.
func (w *Watcher) Close() error {
	err := w.stop()
	if w.fsw != nil {
		<-w.stopped
	}
	return err
}
