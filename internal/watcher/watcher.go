// Package watcher triggers ingestion re-runs when files under the root change.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher watches a root recursively and calls onChange once per burst of
// relevant events. Calls never overlap: events that arrive while onChange is
// running schedule exactly one more call after it returns.
type Watcher struct {
	root        string
	excluded    func(name string) bool
	match       func(relPath string) bool
	onChange    func(ctx context.Context)
	debounce    time.Duration
	runOnStart  bool
	logger      *zap.Logger
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	watchedDirs map[string]struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets the quiet period after the last event before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithMatcher restricts which files trigger a run. relPath is slash-separated
// and relative to the root. Without a matcher every file counts.
func WithMatcher(match func(relPath string) bool) WatcherOption {
	return func(w *Watcher) { w.match = match }
}

// WithExcludedDirs skips directories whose base name is reported as excluded.
// They are neither watched nor allowed to trigger a run.
func WithExcludedDirs(excluded func(name string) bool) WatcherOption {
	return func(w *Watcher) { w.excluded = excluded }
}

// WithRunOnStart makes Run call onChange immediately after watches are in place.
func WithRunOnStart() WatcherOption {
	return func(w *Watcher) { w.runOnStart = true }
}

// NewWatcher creates a watcher for root. onChange receives the context passed to Run.
func NewWatcher(root string, onChange func(ctx context.Context), opts ...WatcherOption) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("watcher needs an onChange callback")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	w := &Watcher{
		root:        filepath.Clean(abs),
		onChange:    onChange,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		watchedDirs: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is cancelled. It waits for an in-flight onChange to
// return before it does.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("watch root " + w.root + " is not a directory")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", zap.String("root", w.root), zap.Duration("debounce", w.debounce))

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		running bool
		pending bool
		done    = make(chan struct{}, 1)
	)
	schedule := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	if w.runOnStart {
		schedule(0)
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(ev) {
				schedule(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			// Overflow loses events; a run brings the sink back in line.
			w.logger.Warn("watcher error", zap.Error(err))
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				schedule(w.debounce)
			}
		case <-timerC:
			timerC = nil
			if running {
				pending = true
				continue
			}
			running = true
			w.logger.Debug("watcher triggering run", zap.String("root", w.root))
			go func() {
				defer func() { done <- struct{}{} }()
				w.onChange(ctx)
			}()
		case <-done:
			running = false
			if pending {
				pending = false
				schedule(w.debounce)
			}
		}
	}
}

// handleEvent reports whether ev should trigger a run. New directories are
// added to the watch set.
func (w *Watcher) handleEvent(ev fsnotify.Event) bool {
	path := filepath.Clean(ev.Name)
	if !inDir(w.root, path) || path == w.root {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if w.inExcludedDir(rel) {
		return false
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", rel))

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.excluded != nil && w.excluded(filepath.Base(path)) {
				return false
			}
			if err := w.addTree(path); err != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			// Files may have landed before the watch was added.
			return true
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if w.forget(path) {
			return true
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return w.match == nil || w.match(rel)
}

func (w *Watcher) inExcludedDir(rel string) bool {
	if w.excluded == nil {
		return false
	}
	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		if w.excluded(part) {
			return true
		}
	}
	return false
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluded != nil && w.excluded(d.Name()) {
			return filepath.SkipDir
		}
		if _, ok := w.watchedDirs[path]; ok {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		w.watchedDirs[path] = struct{}{}
		return nil
	})
}

// forget drops a removed directory and its descendants from the watch set and
// reports whether path was a watched directory.
func (w *Watcher) forget(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, was := w.watchedDirs[path]
	for dir := range w.watchedDirs {
		if inDir(path, dir) {
			delete(w.watchedDirs, dir)
		}
	}
	return was
}

// Directories returns the directories currently watched.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watchedDirs))
	for dir := range w.watchedDirs {
		out = append(out, dir)
	}
	return out
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
