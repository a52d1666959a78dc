package ports

import (
	"io"
	"io/fs"
)

// FileSystem abstracts the file operations used by configuration loading,
// adb discovery and session recording.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// Stat returns file info for the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Create creates the named file for writing. It fails if the file exists.
	Create(name string, perm fs.FileMode) (FileHandle, error)

	// UserHomeDir returns the current user's home directory.
	UserHomeDir() (string, error)

	// Getenv retrieves the value of the environment variable named by the key.
	Getenv(key string) string

	// DirFS returns a read-only view of the tree rooted at dir.
	DirFS(dir string) fs.FS
}

// FileHandle is a file opened for writing.
type FileHandle interface {
	io.WriteCloser
	Name() string
}
