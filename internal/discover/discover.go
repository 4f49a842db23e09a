// Package discover enumerates the files under an ingestion root that match
// include globs and do not live under an excluded directory.
package discover

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hyperjump/codeingest/internal/models"
	"go.uber.org/zap"
)

// File is a discovered regular file.
type File struct {
	// AbsPath is the absolute path on disk.
	AbsPath string
	// RelPath is relative to the root, always slash-separated.
	RelPath string
}

// Discoverer walks a root and matches files against include patterns.
type Discoverer struct {
	include     []string
	excludeDirs map[string]struct{}
	logger      *zap.Logger
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithLogger sets a logger for skipped entries.
func WithLogger(l *zap.Logger) Option {
	return func(d *Discoverer) { d.logger = l }
}

// New creates a discoverer. Patterns are slash-separated, relative to the root,
// and support "**". An invalid pattern is reported here rather than mid-walk.
func New(include, excludeDirs []string, opts ...Option) (*Discoverer, error) {
	for _, p := range include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	d := &Discoverer{
		include:     append([]string(nil), include...),
		excludeDirs: make(map[string]struct{}, len(excludeDirs)),
		logger:      zap.NewNop(),
	}
	for _, name := range excludeDirs {
		d.excludeDirs[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Discover returns the deduplicated, order-stable list of regular files under root.
// Files are ordered by the first include pattern that matches them, then by walk
// (lexical) order. A missing root wraps models.ErrNotFound; unreadable entries
// are skipped.
func (d *Discoverer) Discover(ctx context.Context, root string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("root %s: %w", absRoot, models.ErrNotFound)
		}
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory: %w", absRoot, models.ErrNotFound)
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	candidates, err := d.walk(ctx, absRoot)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]File, 0, len(candidates))
	for _, pattern := range d.include {
		for _, f := range candidates {
			ok, _ := doublestar.Match(pattern, f.RelPath)
			if !ok {
				continue
			}
			key := resolvedPath(f.AbsPath)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, f)
		}
	}
	return out, nil
}

// walk collects every regular file below root that is not under an excluded directory.
func (d *Discoverer) walk(ctx context.Context, absRoot string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == absRoot {
				return walkErr
			}
			d.logger.Debug("discover skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if path != absRoot && d.excluded(entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		// Follow symlinks so only regular files are returned.
		finfo, statErr := os.Stat(path)
		if statErr != nil {
			d.logger.Debug("discover skipping entry", zap.String("path", path), zap.Error(statErr))
			return nil
		}
		if !finfo.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		files = append(files, File{AbsPath: path, RelPath: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, err)
	}
	return files, nil
}

// Matches reports whether a slash-separated path relative to the root would be
// picked up by Discover, ignoring whether it exists.
func (d *Discoverer) Matches(relPath string) bool {
	relPath = strings.TrimPrefix(relPath, "./")
	if d.inExcludedDir(relPath) {
		return false
	}
	for _, pattern := range d.include {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// Excluded reports whether a directory with this base name is skipped.
func (d *Discoverer) Excluded(name string) bool {
	return d.excluded(name)
}

func (d *Discoverer) excluded(name string) bool {
	_, ok := d.excludeDirs[name]
	return ok
}

// inExcludedDir reports whether any directory component of the
// slash-separated relative path is an excluded directory.
func (d *Discoverer) inExcludedDir(relPath string) bool {
	parts := strings.Split(relPath, "/")
	for _, part := range parts[:len(parts)-1] {
		if d.excluded(part) {
			return true
		}
	}
	return false
}

func resolvedPath(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return filepath.Clean(p)
}
