// Package file provides a statez.Storage implementation that keeps each
// key in its own file, with external change watching through fsnotify.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/zoobzio/statez"
)

// ErrInvalidKey is returned for keys that are not a plain file name.
var ErrInvalidKey = errors.New("file: invalid key")

// Storage stores values as files in a directory.
type Storage struct {
	dir  string
	ext  string
	perm os.FileMode
}

// Option configures a Storage.
type Option func(*Storage)

// WithExtension appends ext to every file name, for example ".json".
func WithExtension(ext string) Option {
	return func(s *Storage) {
		s.ext = ext
	}
}

// WithPermissions sets the mode of written files. Defaults to 0o600.
func WithPermissions(perm os.FileMode) Option {
	return func(s *Storage) {
		s.perm = perm
	}
}

// New creates a Storage rooted at dir. The directory is created on first
// write if it does not exist.
func New(dir string, opts ...Option) *Storage {
	s := &Storage{dir: dir, perm: 0o600}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path used for key.
func (s *Storage) Path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+s.ext), nil
}

// Read returns the contents of the key's file.
func (s *Storage) Read(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Write replaces the key's file atomically: data is written to a temporary
// file in the same directory and renamed into place.
func (s *Storage) Write(_ context.Context, key string, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(s.perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Delete removes the key's file.
func (s *Storage) Delete(_ context.Context, key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Watch begins watching the key's file and returns a channel that emits
// its contents whenever it is written or replaced. The current contents
// are emitted immediately. The directory must exist.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory; atomic replacements swap the file's inode.
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", s.dir, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Close()

		if data, err := os.ReadFile(path); err == nil {
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				// Only emit on write or create events
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}

				select {
				case out <- data:
				case <-ctx.Done():
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

var (
	_ statez.WatchableStorage = (*Storage)(nil)
	_ statez.Deleter          = (*Storage)(nil)
)
