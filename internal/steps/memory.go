package steps

import (
	"context"
	"sync"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
)

// MemoryLoader loads rows registered per source path. It stands in for
// ogr2ogr in tests and in runs fed from already-parsed data.
type MemoryLoader struct {
	mu      sync.RWMutex
	sources map[string][]database.Row
}

var _ TableLoader = (*MemoryLoader)(nil)

// NewMemoryLoader creates an empty MemoryLoader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{sources: map[string][]database.Row{}}
}

// Add registers the rows a source path loads as.
func (m *MemoryLoader) Add(source string, rows ...database.Row) *MemoryLoader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source] = rows
	return m
}

// Load recreates the staging table with the registered rows.
func (m *MemoryLoader) Load(ctx context.Context, ectx *etl.Context, spec LoadSpec) (Table, error) {
	m.mu.RLock()
	rows, ok := m.sources[spec.Source]
	m.mu.RUnlock()
	if !ok {
		return Table{}, errhandling.ProcessErrorf("load", errhandling.CodeToolFailed, "no data registered for %s", spec.Source)
	}
	if ectx.Session == nil {
		return Table{}, ErrNoSession
	}

	def := stagingDef(spec.Table, inferColumns(rows))
	if err := recreate(ctx, ectx.Session, def); err != nil {
		return Table{}, err
	}

	staged := make([]database.Row, len(rows))
	for i, r := range rows {
		row := r.Clone()
		row[database.StagingKeyField] = i + 1
		staged[i] = row
	}
	if err := ectx.Session.BulkInsert(ctx, spec.Table, def.ColumnNames(), staged); err != nil {
		return Table{}, err
	}
	return Table{Name: spec.Table, Rows: int64(len(staged))}, nil
}
