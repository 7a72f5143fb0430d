package steps

import (
	"context"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/export"
)

// Export writes the canonical table of one entity type to every export
// format. It reads the Process's own uncommitted writes.
type Export struct {
	name     string
	exporter *export.Exporter

	// Dir overrides the configured output directory
	Dir string
}

var _ etl.Step = (*Export)(nil)

// NewExport creates an export step for typ.
func NewExport(name string, typ *entity.Type) *Export {
	return &Export{name: name, exporter: export.NewExporter(typ)}
}

// Name returns the step name.
func (e *Export) Name() string { return e.name }

// ReadsInput is false so a run can start at the export.
func (e *Export) ReadsInput() bool { return false }

func (e *Export) dir(ectx *etl.Context) string {
	if e.Dir != "" {
		return e.Dir
	}
	if ectx.Config != nil && ectx.Config.Paths.Output != "" {
		return ectx.Config.Paths.Output
	}
	return config.DefaultOutputDir
}

// Run exports and returns the written paths.
func (e *Export) Run(ctx context.Context, _ any, ectx *etl.Context) (any, error) {
	if ectx.Session == nil {
		return nil, ErrNoSession
	}
	paths, err := e.exporter.Export(ctx, ectx.Session, ectx.FS, e.dir(ectx))
	if err != nil {
		return nil, errhandling.NewProcessError(e.name, errhandling.CodeExportFailed, "export failed", err)
	}
	if ectx.Report != nil {
		ectx.Report.Info("Exported %d files to %s", len(paths), e.dir(ectx))
	}
	return paths, nil
}
