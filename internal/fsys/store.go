package fsys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/pathutil"
)

const dirPerm = 0o755

// Store is an FS over an afero file system. Writes go through a temp file
// renamed into place on Close.
type Store struct {
	fs afero.Fs

	// root is the host directory of an OS-backed store, "" otherwise
	root string
}

var _ FS = (*Store)(nil)

// NewOSFS returns a store rooted at a host directory.
func NewOSFS(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), abs), root: abs}, nil
}

// NewMemFS returns an empty in-memory store.
func NewMemFS() *Store {
	return &Store{fs: afero.NewMemMapFs()}
}

// Root returns the host root directory, or "" for in-memory stores.
func (s *Store) Root() string {
	return s.root
}

// resolve validates name and returns it as an absolute path of the store.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name == "." || name == "/" {
		return "/", nil
	}
	cleaned, err := pathutil.Clean(name)
	if err != nil {
		return "", err
	}
	return "/" + cleaned, nil
}

func notExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}
	return err
}

// Open opens a file for reading.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, notExist(err)
	}
	return f, nil
}

// atomicFile renames its temp file into place on Close.
type atomicFile struct {
	afero.File
	fs    afero.Fs
	temp  string
	final string
}

func (a *atomicFile) Close() error {
	if err := a.File.Close(); err != nil {
		_ = a.fs.Remove(a.temp)
		return err
	}
	if err := a.fs.Rename(a.temp, a.final); err != nil {
		_ = a.fs.Remove(a.temp)
		return fmt.Errorf("renaming %s: %w", a.final, err)
	}
	return nil
}

// Abort discards the temp file.
func (a *atomicFile) Abort() error {
	_ = a.File.Close()
	return a.fs.Remove(a.temp)
}

// Create creates a file, writing through a temp file renamed on Close.
func (s *Store) Create(name string) (io.WriteCloser, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	if p == "/" {
		return nil, fmt.Errorf("cannot create root")
	}
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", name, err)
	}
	f, err := afero.TempFile(s.fs, dir, "."+path.Base(p)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &atomicFile{File: f, fs: s.fs, temp: path.Join(dir, path.Base(f.Name())), final: p}, nil
}

// Exists reports whether a path exists.
func (s *Store) Exists(name string) (bool, error) {
	p, err := s.resolve(name)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}

// MkdirAll creates a directory and its parents.
func (s *Store) MkdirAll(name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	return s.fs.MkdirAll(p, dirPerm)
}

// RemoveAll removes a path and any children.
func (s *Store) RemoveAll(name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if p == "/" {
		return fmt.Errorf("refusing to remove file system root")
	}
	return s.fs.RemoveAll(p)
}

// ReadDir lists directory entries sorted by name.
func (s *Store) ReadDir(name string) ([]string, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, p)
	if err != nil {
		return nil, notExist(err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			names = append(names, fi.Name()+"/")
		} else {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Size returns the size of a file.
func (s *Store) Size(name string) (int64, error) {
	p, err := s.resolve(name)
	if err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		return 0, notExist(err)
	}
	return info.Size(), nil
}

// OSPath returns the absolute host path of name. In-memory stores have none.
func (s *Store) OSPath(name string) (string, error) {
	if s.root == "" {
		return "", ErrNoOSPath
	}
	p, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if p == "/" {
		return s.root, nil
	}
	return filepath.Join(s.root, filepath.FromSlash(p[1:])), nil
}
