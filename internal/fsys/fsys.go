// Package fsys provides the file-system abstraction steps read and write
// through, backed by afero. Paths are slash-separated and relative to the
// file system's root.
package fsys

import (
	"errors"
	"io"
)

var (
	// ErrNotExist is returned when a file or directory does not exist.
	ErrNotExist = errors.New("file does not exist")

	// ErrNoOSPath is returned by OSPath on file systems not backed by the OS.
	ErrNoOSPath = errors.New("file system has no OS path")
)

// FS is the file-system contract used by ETL steps.
type FS interface {
	// Open opens a file for reading.
	Open(name string) (io.ReadCloser, error)

	// Create creates or truncates a file, creating parent directories.
	// The content becomes visible when the writer is closed.
	Create(name string) (io.WriteCloser, error)

	// Exists reports whether a file or directory exists.
	Exists(name string) (bool, error)

	// MkdirAll creates a directory and its parents.
	MkdirAll(name string) error

	// RemoveAll removes a file or directory tree; missing paths are not an error.
	RemoveAll(name string) error

	// ReadDir lists the entries of a directory, sorted by name.
	// Directory names carry a trailing slash.
	ReadDir(name string) ([]string, error)

	// Size returns the size of a file in bytes.
	Size(name string) (int64, error)

	// OSPath returns the operating-system path of name, for external tools.
	OSPath(name string) (string, error)
}

// ReadFile reads a whole file.
func ReadFile(fs FS, name string) ([]byte, error) {
	r, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// WriteFile writes data to a file, replacing its content.
func WriteFile(fs FS, name string, data []byte) error {
	w, err := fs.Create(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = Abort(w)
		return err
	}
	return w.Close()
}

// Copy copies a file between (possibly different) file systems.
func Copy(dst FS, dstName string, src FS, srcName string) (int64, error) {
	r, err := src.Open(srcName)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	w, err := dst.Create(dstName)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = Abort(w)
		return n, err
	}
	return n, w.Close()
}

// Abort discards a writer returned by Create without publishing it.
// Writers that cannot discard are closed instead.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(interface{ Abort() error }); ok {
		return a.Abort()
	}
	return w.Close()
}
