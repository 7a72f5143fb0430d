package steps

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/pathutil"
)

// Unzip extracts the archive named by its input into a directory named
// after the archive, replacing any previous extraction.
type Unzip struct {
	name string
}

var _ etl.Step = (*Unzip)(nil)

// NewUnzip creates an archive extraction step.
func NewUnzip(name string) *Unzip {
	return &Unzip{name: name}
}

// Name returns the step name.
func (u *Unzip) Name() string { return u.name }

// ReadsInput is true: the input is the archive path.
func (u *Unzip) ReadsInput() bool { return true }

// Run extracts the archive and returns the extraction directory.
func (u *Unzip) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	archive, ok := input.(string)
	if !ok || archive == "" {
		return nil, fmt.Errorf("%s: expected archive path, got %T", u.name, input)
	}
	dir := pathutil.StripExt(archive)
	if dir == archive {
		dir += "_files"
	}

	zr, closer, err := openZip(ectx.FS, archive)
	if err != nil {
		return nil, errhandling.NewProcessError(u.name, errhandling.CodeArchiveCorrupt, "cannot open "+archive, err)
	}
	defer func() { _ = closer.Close() }()
	if err := ectx.FS.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := ectx.FS.MkdirAll(dir); err != nil {
		return nil, err
	}

	var files int
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := pathutil.ValidateArchiveEntry(f.Name); err != nil {
			return nil, errhandling.NewProcessError(u.name, errhandling.CodeArchiveCorrupt, "unsafe entry in "+archive, err)
		}
		target := path.Join(dir, strings.TrimPrefix(f.Name, "/"))
		if f.FileInfo().IsDir() {
			if err := ectx.FS.MkdirAll(target); err != nil {
				return nil, err
			}
			continue
		}
		if err := extract(ectx.FS, f, target); err != nil {
			return nil, errhandling.NewProcessError(u.name, errhandling.CodeArchiveCorrupt, "cannot extract "+f.Name, err)
		}
		files++
	}

	logger.Info("archive extracted",
		slog.String("step", u.name),
		slog.String("archive", archive),
		slog.String("dir", dir),
		slog.Int("files", files),
	)
	return dir, nil
}

// openZip opens the archive from disk when the file system has OS paths,
// and from memory otherwise.
func openZip(fs fsys.FS, name string) (*zip.Reader, io.Closer, error) {
	if p, err := fs.OSPath(name); err == nil {
		rc, err := zip.OpenReader(p)
		if err != nil {
			return nil, nil, err
		}
		return &rc.Reader, rc, nil
	} else if !errors.Is(err, fsys.ErrNoOSPath) {
		return nil, nil, err
	}

	data, err := fsys.ReadFile(fs, name)
	if err != nil {
		return nil, nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	return zr, nopCloser{}, err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func extract(fs fsys.FS, f *zip.File, target string) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w, err := fs.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = fsys.Abort(w)
		return err
	}
	return w.Close()
}
