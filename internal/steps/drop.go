package steps

import (
	"context"
	"log/slog"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// DropTable drops a staging table once extraction no longer needs it.
// The input passes through unchanged.
type DropTable struct {
	name  string
	Table string
}

var _ etl.Step = (*DropTable)(nil)

// NewDropTable creates a drop step for table.
func NewDropTable(name, table string) *DropTable {
	return &DropTable{name: name, Table: table}
}

// Name returns the step name.
func (d *DropTable) Name() string { return d.name }

// ReadsInput is true so the step never starts a run on its own.
func (d *DropTable) ReadsInput() bool { return true }

// Run drops the table.
func (d *DropTable) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	if ectx.Session == nil {
		return nil, ErrNoSession
	}
	if err := ectx.Session.DropTable(ctx, d.Table); err != nil {
		return nil, err
	}
	logger.Debug("staging table dropped", slog.String("step", d.name), slog.String("table", d.Table))
	return input, nil
}
