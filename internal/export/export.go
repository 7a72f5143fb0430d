package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// FileBase returns the export file name of a type without extension:
// the canonical table name minus its "georef_" prefix.
func FileBase(typ *entity.Type) string {
	return strings.TrimPrefix(typ.Table, "georef_")
}

// Exporter writes every format for one canonical table in a single pass.
type Exporter struct {
	Type    *entity.Type
	Formats []Format
	Now     func() time.Time
}

// NewExporter creates an exporter writing every supported format.
func NewExporter(typ *entity.Type) *Exporter {
	return &Exporter{Type: typ, Formats: Formats, Now: time.Now}
}

type target struct {
	name string
	file io.WriteCloser
	w    Writer
}

// Export streams the canonical table ordered by ID into dir and returns
// the written file paths. Files are only visible once complete.
func (e *Exporter) Export(ctx context.Context, sess *database.Session, fs fsys.FS, dir string) (paths []string, err error) {
	meta := Metadata{Version: ExportVersion, Timestamp: e.Now().UTC().Truncate(time.Second)}
	if err := fs.MkdirAll(dir); err != nil {
		return nil, err
	}

	targets := make([]*target, 0, len(e.Formats))
	defer func() {
		for _, t := range targets {
			if err != nil {
				_ = fsys.Abort(t.file)
				continue
			}
			if cerr := t.file.Close(); cerr != nil {
				err = cerr
				paths = nil
			}
		}
	}()

	for _, f := range e.Formats {
		name := path.Join(dir, FileBase(e.Type)+"."+string(f))
		file, ferr := fs.Create(name)
		if ferr != nil {
			return nil, ferr
		}
		w, werr := NewWriter(f, file, e.Type, meta)
		if werr != nil {
			_ = fsys.Abort(file)
			return nil, werr
		}
		targets = append(targets, &target{name: name, file: file, w: w})
	}

	start := time.Now()
	var rows int
	query, args := sess.Select(e.Type.Table, nil, entity.ColID)
	err = sess.Each(ctx, query, args, func(row database.Row) error {
		rows++
		for _, t := range targets {
			if werr := t.w.Write(row); werr != nil {
				return fmt.Errorf("write %s: %w", t.name, werr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, t := range targets {
		if werr := t.w.Close(); werr != nil {
			errs = append(errs, fmt.Errorf("finish %s: %w", t.name, werr))
		}
		paths = append(paths, t.name)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	logger.Info("entities exported",
		slog.String("table", e.Type.Table),
		slog.String("dir", dir),
		slog.Int("rows", rows),
		slog.Int("files", len(paths)),
		slog.Duration("duration", time.Since(start)),
	)
	return paths, nil
}
