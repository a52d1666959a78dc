// Package fakefs provides an in-memory FileSystem for testing.
package fakefs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing/fstest"
	"time"

	"github.com/acolita/adbwifi/internal/ports"
)

// FS is an in-memory ports.FileSystem.
type FS struct {
	mu    sync.RWMutex
	files map[string][]byte
	modes map[string]fs.FileMode
	env   map[string]string
	home  string
}

// New returns an empty fake filesystem with the given home directory.
func New(home string) *FS {
	return &FS{
		files: make(map[string][]byte),
		modes: make(map[string]fs.FileMode),
		env:   make(map[string]string),
		home:  home,
	}
}

// AddFile stores an executable file at path.
func (f *FS) AddFile(path string, data []byte) {
	f.AddFileMode(path, data, 0o755)
}

// AddFileMode stores a file at path with the given permissions.
func (f *FS) AddFileMode(path string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path = filepath.Clean(path)
	f.files[path] = append([]byte(nil), data...)
	f.modes[path] = mode
}

// SetEnv sets a fake environment variable.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// ReadFile returns the stored file contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// Stat reports the stored file as a regular file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	path := filepath.Clean(name)
	data, ok := f.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	return fileInfo{name: filepath.Base(name), size: int64(len(data)), mode: f.modes[path]}, nil
}

// MkdirAll records nothing; directories are implicit.
func (f *FS) MkdirAll(string, fs.FileMode) error {
	return nil
}

// Create returns a handle whose writes are appended to the stored file.
func (f *FS) Create(name string, _ fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := filepath.Clean(name)
	if _, ok := f.files[path]; ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: os.ErrExist}
	}
	f.files[path] = nil
	f.modes[path] = 0o600
	return &handle{fs: f, path: path}, nil
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	return f.home, nil
}

// Getenv returns a fake environment variable.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// DirFS returns a snapshot of the files below dir. Directories are implied
// by the stored paths.
func (f *FS) DirFS(dir string) fs.FS {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tree := fstest.MapFS{}
	for path, data := range f.files {
		rel, err := filepath.Rel(filepath.Clean(dir), path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		tree[filepath.ToSlash(rel)] = &fstest.MapFile{
			Data: append([]byte(nil), data...),
			Mode: f.modes[path],
		}
	}
	return tree
}

type handle struct {
	fs     *FS
	path   string
	closed bool
}

func (h *handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return 0, os.ErrClosed
	}
	h.fs.files[h.path] = append(h.fs.files[h.path], p...)
	return len(p), nil
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return os.ErrClosed
	}
	h.closed = true
	return nil
}

func (h *handle) Name() string { return h.path }

type fileInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }

// Ensure FS implements ports.FileSystem.
var _ ports.FileSystem = (*FS)(nil)
