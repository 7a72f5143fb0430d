// Package reconcile implements the entities extraction step: it turns a
// patched staging table into a canonical entity table by replace-by-diff,
// recording added, updated and deleted IDs and rejected rows.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/patch"
	"github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

// ErrNoSession is returned when the step runs outside a database session.
var ErrNoSession = errors.New("entities extraction requires a database session")

// EntityFunc transforms one staging row into a canonical entity. It
// returns a ValidationError for rows that break an integrity rule; any
// other error aborts the extraction.
type EntityFunc func(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error)

// QueryFunc returns the staging rows to extract. The default selects every
// row of the staging table in staging key order.
type QueryFunc func(ctx context.Context, sess *database.Session, staging string) ([]database.Row, error)

// Step is the entities extraction step.
type Step struct {
	name string

	// Entity is the canonical type being produced
	Entity *entity.Type

	// Staging is the staging table read when the input names none
	Staging string

	// Patches run on the staging table before extraction, followed by the
	// rules configured for the running process
	Patches []patch.Rule

	// Query overrides the staging query (grouping, joins)
	Query QueryFunc

	// KeyField is the staging column identifying rows in error reports
	KeyField string

	// Dependencies are parent tables that must hold rows
	Dependencies []*entity.Type

	// Transform is the per-row hook
	Transform EntityFunc
}

var _ etl.Step = (*Step)(nil)

// New creates an extraction step for typ reading staging.
func New(name string, typ *entity.Type, staging string, fn EntityFunc) *Step {
	return &Step{
		name:      name,
		Entity:    typ,
		Staging:   staging,
		KeyField:  database.StagingKeyField,
		Transform: fn,
	}
}

// Name returns the step name; report data is stored under it.
func (s *Step) Name() string { return s.name }

// ReadsInput is true: the input names the staging table.
func (s *Step) ReadsInput() bool { return true }

func (s *Step) stagingTable(input any) string {
	switch v := input.(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		if v != nil {
			return v.String()
		}
	}
	return s.Staging
}

// pass holds the state of one extraction run.
type pass struct {
	step     *Step
	sess     *database.Session
	table    string
	existing map[string]bool
	seen     map[string]bool
	batch    []database.Row
	updated  []string
	bulk     int
	result   georef.ExtractionReport
}

// Run reconciles the staging table into the canonical table and returns
// the canonical table name.
func (s *Step) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	sess := ectx.Session
	if sess == nil {
		return nil, ErrNoSession
	}
	staging := s.stagingTable(input)
	table := s.Entity.Table
	start := time.Now()

	for _, dep := range s.Dependencies {
		n, err := sess.Count(ctx, dep.Table, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errhandling.ProcessErrorf(s.name, errhandling.CodeDependencyEmpty,
				"dependency table %s is empty", dep.Table)
		}
	}

	if err := sess.CreateTable(ctx, s.Entity.TableDef()); err != nil {
		return nil, err
	}

	rules := s.Patches
	if ectx.Config != nil {
		configured, err := patch.FromConfig(ectx.Config.PatchesFor(ectx.ProcessName()))
		if err != nil {
			return nil, fmt.Errorf("patches of %s: %w", ectx.ProcessName(), err)
		}
		rules = append(append([]patch.Rule{}, rules...), configured...)
	}
	if len(rules) > 0 {
		if _, err := patch.Run(ctx, sess, ectx.Report, staging, rules); err != nil {
			return nil, err
		}
	}

	query := s.Query
	if query == nil {
		query = defaultQuery
	}
	rows, err := query(ctx, sess, staging)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errhandling.ProcessErrorf(s.name, errhandling.CodeEmptyResult,
			"staging table %s yielded no rows", staging)
	}

	keys, err := sess.Keys(ctx, table, entity.ColID)
	if err != nil {
		return nil, err
	}

	p := &pass{
		step:     s,
		sess:     sess,
		table:    table,
		existing: make(map[string]bool, len(keys)),
		seen:     make(map[string]bool, len(rows)),
		bulk:     ectx.BulkSize(),
		result: georef.ExtractionReport{
			NewEntitiesIDs:     []string{},
			UpdatedEntitiesIDs: []string{},
			DeletedEntitiesIDs: []string{},
			Errors:             []georef.RowError{},
		},
	}
	for _, k := range keys {
		p.existing[k] = true
	}

	cache := database.NewCachedSession(sess)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.add(ctx, ectx, row, cache); err != nil {
			return nil, err
		}
	}
	if err := p.flush(ctx); err != nil {
		return nil, err
	}
	if err := p.deleteUnseen(ctx, keys); err != nil {
		return nil, err
	}

	count, err := sess.Count(ctx, table, nil)
	if err != nil {
		return nil, err
	}
	ectx.RecordCount(table, count)

	s.report(ectx, staging, len(rows), count, p.result, time.Since(start))
	return table, nil
}

func defaultQuery(ctx context.Context, sess *database.Session, staging string) ([]database.Row, error) {
	return sess.Query(ctx, staging, nil, database.StagingKeyField)
}

func (p *pass) add(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) error {
	key := row.String(p.step.KeyField)

	ent, err := p.step.Transform(ctx, ectx, row, cache)
	if err == nil && ent == nil {
		err = errhandling.Validationf("row produced no entity")
	}
	if err == nil && p.seen[ent.ID()] {
		err = errhandling.Validationf("duplicate %s ID %s", p.step.Entity.Name, ent.ID())
	}
	if err != nil {
		verr, ok := errhandling.AsValidationError(err)
		if !ok {
			return fmt.Errorf("row %s: %w", key, err)
		}
		if verr.Key != "" {
			key = verr.Key
		}
		p.result.Errors = append(p.result.Errors, georef.RowError{Key: key, Message: verr.Message})
		logger.Debug("row rejected",
			slog.String("table", p.table),
			slog.String("row_key", key),
			slog.String("error", verr.Error()),
		)
		return nil
	}

	id := ent.ID()
	p.seen[id] = true
	if p.existing[id] {
		p.result.UpdatedEntitiesIDs = append(p.result.UpdatedEntitiesIDs, id)
		p.updated = append(p.updated, id)
	} else {
		p.result.NewEntitiesIDs = append(p.result.NewEntitiesIDs, id)
	}

	p.batch = append(p.batch, ent.Row())
	if len(p.batch) >= p.bulk {
		return p.flush(ctx)
	}
	return nil
}

// flush replaces updated rows and inserts the pending batch.
func (p *pass) flush(ctx context.Context) error {
	if len(p.updated) > 0 {
		if _, err := p.sess.BulkDelete(ctx, p.table, entity.ColID, p.updated); err != nil {
			return err
		}
		p.updated = p.updated[:0]
	}
	if len(p.batch) == 0 {
		return nil
	}
	if err := p.sess.BulkInsert(ctx, p.table, p.step.Entity.TableDef().ColumnNames(), p.batch); err != nil {
		return err
	}
	p.batch = p.batch[:0]
	return nil
}

// deleteUnseen removes every pre-existing entity this pass did not produce.
func (p *pass) deleteUnseen(ctx context.Context, keys []string) error {
	var gone []string
	for _, k := range keys {
		if !p.seen[k] {
			gone = append(gone, k)
		}
	}
	sort.Strings(gone)
	if len(gone) == 0 {
		return nil
	}
	if _, err := p.sess.BulkDelete(ctx, p.table, entity.ColID, gone); err != nil {
		return err
	}
	p.result.DeletedEntitiesIDs = gone
	return nil
}

func (s *Step) report(ectx *etl.Context, staging string, rows int, count int64, r georef.ExtractionReport, d time.Duration) {
	logger.Info("entities extracted",
		slog.String("process", ectx.ProcessName()),
		slog.String("step", s.name),
		slog.String("staging", staging),
		slog.String("table", s.Entity.Table),
		slog.Int("rows", rows),
		slog.Int("new", r.NewCount()),
		slog.Int("updated", r.UpdatedCount()),
		slog.Int("deleted", r.DeletedCount()),
		slog.Int("errors", r.ErrorCount()),
		slog.Duration("duration", d),
	)
	if ectx.Report == nil {
		return
	}
	rep := ectx.Report
	rep.SetData(s.name, r)
	rep.Info("%s: %d staging rows, %d entities in %s", s.Entity.Table, rows, count, d.Round(time.Millisecond))
	rep.Info("New: %d, updated: %d, deleted: %d", r.NewCount(), r.UpdatedCount(), r.DeletedCount())
	if n := r.ErrorCount(); n > 0 {
		rep.Warn("%d rows rejected", n)
		done := rep.Indent()
		for _, e := range r.Errors {
			rep.Warn("%s: %s", e.Key, e.Message)
		}
		done()
	}
}
