// Package workspace manages the disposable directory holding every
// intermediate and final artifact of one build.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultPattern is the temp directory name pattern used by New.
const DefaultPattern = "engine"

// Workspace is a temporary directory owned by one build invocation.
type Workspace struct {
	fs     afero.Fs
	dir    string
	keep   bool
	logger logrus.FieldLogger

	mu       sync.Mutex
	released bool
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithKeep makes Release leave the directory on disk.
func WithKeep(keep bool) Option {
	return func(w *Workspace) { w.keep = keep }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *Workspace) { w.logger = logger }
}

// New creates a fresh directory under parent (the system temp dir if empty).
func New(fs afero.Fs, parent, pattern string, opts ...Option) (*Workspace, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	dir, err := afero.TempDir(fs, parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	w := &Workspace{fs: fs, dir: dir}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logrus.StandardLogger()
	}
	w.logger.WithField("workspace", dir).Debug("workspace created")
	return w, nil
}

// Path returns the workspace root.
func (w *Workspace) Path() string { return w.dir }

// Fs returns the filesystem the workspace lives on.
func (w *Workspace) Fs() afero.Fs { return w.fs }

// Join joins elem onto the workspace root.
func (w *Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// MkdirAll creates a directory below the workspace root and returns its path.
func (w *Workspace) MkdirAll(elem ...string) (string, error) {
	dir := w.Join(elem...)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// TempPath reserves a unique, not yet existing file path in dir, named
// prefix*suffix. Toolchains that refuse to overwrite can write to it.
func (w *Workspace) TempPath(dir, prefix, suffix string) (string, error) {
	f, err := afero.TempFile(w.fs, dir, prefix+"*"+suffix)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	if err := w.fs.Remove(name); err != nil {
		return "", err
	}
	return name, nil
}

// WriteFile writes data to name below the workspace root and returns the full path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := w.Join(name)
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(w.fs, path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Release removes the workspace recursively. It is safe to call more than once.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return nil
	}
	w.released = true
	if w.keep {
		w.logger.WithField("workspace", w.dir).Info("keeping workspace")
		return nil
	}
	if err := w.fs.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("release workspace: %w", err)
	}
	w.logger.WithField("workspace", w.dir).Debug("workspace released")
	return nil
}

// With creates a workspace, calls fn with it and releases it on every exit
// path, including a panic in fn. An error from fn takes precedence over a
// release error.
func With(fs afero.Fs, parent string, fn func(*Workspace) error, opts ...Option) (err error) {
	w, err := New(fs, parent, DefaultPattern, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := w.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(w)
}

// Exists reports whether path exists on fs.
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return !os.IsNotExist(err)
}
