package georef

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/steps"
)

// Columns of the intersections staging table
const (
	colStreetA = "calle_a"
	colStreetB = "calle_b"
)

// Intersections declares the intersections process. Its staging table is
// computed from the canonical streets instead of downloaded.
func Intersections() *Definition {
	typ := entity.Intersection
	staging := stagingName(typ)
	return &Definition{
		Name:         "intersecciones",
		Entity:       typ,
		Staging:      staging,
		Dependencies: []*entity.Type{entity.Street},
		Transform:    intersectionEntity,
		Stage:        &StageIntersections{name: "stage_intersections", Table: staging},
	}
}

// StageIntersections fills a staging table with one row per pair of
// streets of the same department whose lines cross, located at their
// first crossing point.
type StageIntersections struct {
	name  string
	Table string
}

var _ etl.Step = (*StageIntersections)(nil)

// Name returns the step name.
func (s *StageIntersections) Name() string { return s.name }

// ReadsInput is false: the streets table is the input.
func (s *StageIntersections) ReadsInput() bool { return false }

type streetLines struct {
	id    string
	lines orb.MultiLineString
}

func (s *StageIntersections) def() database.TableDef {
	return database.TableDef{
		Name: s.Table,
		Columns: []database.Column{
			{Name: database.StagingKeyField, Type: database.TypeInteger},
			{Name: colStreetA, Type: database.TypeText},
			{Name: colStreetB, Type: database.TypeText},
			{Name: entity.ColGeometry, Type: database.TypeText},
		},
		PrimaryKey: database.StagingKeyField,
	}
}

// Run recreates the staging table and returns it.
func (s *StageIntersections) Run(ctx context.Context, _ any, ectx *etl.Context) (any, error) {
	sess := ectx.Session
	if sess == nil {
		return nil, steps.ErrNoSession
	}
	start := time.Now()

	exists, err := sess.TableExists(ctx, entity.Street.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errhandling.ProcessErrorf(s.name, errhandling.CodeDependencyEmpty,
			"dependency table %s does not exist", entity.Street.Table)
	}

	byDept, err := streetsByDepartment(ctx, sess)
	if err != nil {
		return nil, err
	}

	def := s.def()
	if err := sess.DropTable(ctx, def.Name); err != nil {
		return nil, err
	}
	if err := sess.CreateTable(ctx, def); err != nil {
		return nil, err
	}

	depts := make([]string, 0, len(byDept))
	for d := range byDept {
		depts = append(depts, d)
	}
	sort.Strings(depts)

	var (
		batch []database.Row
		total int64
	)
	flush := func() error {
		if err := sess.BulkInsert(ctx, def.Name, def.ColumnNames(), batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for _, d := range depts {
		streets := byDept[d]
		for i := 0; i < len(streets); i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for j := i + 1; j < len(streets); j++ {
				p, ok := geometry.Crossing(streets[i].lines, streets[j].lines)
				if !ok {
					continue
				}
				total++
				batch = append(batch, database.Row{
					database.StagingKeyField: total,
					colStreetA:               streets[i].id,
					colStreetB:               streets[j].id,
					entity.ColGeometry:       geometry.FormatPoint(p),
				})
				if len(batch) >= ectx.BulkSize() {
					if err := flush(); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	logger.Info("intersections staged",
		slog.String("step", s.name),
		slog.String("table", def.Name),
		slog.Int("departments", len(depts)),
		slog.Int64("rows", total),
		slog.Duration("duration", time.Since(start)),
	)
	if ectx.Report != nil {
		ectx.Report.Info("Staged %d intersections into %s", total, def.Name)
	}
	return steps.Table{Name: def.Name, Rows: total}, nil
}

// streetsByDepartment reads every street with a parsable line geometry,
// grouped by department and ordered by ID.
func streetsByDepartment(ctx context.Context, sess *database.Session) (map[string][]streetLines, error) {
	out := map[string][]streetLines{}
	q, args := sess.Select(entity.Street.Table, nil, entity.ColID)
	err := sess.Each(ctx, q, args, func(row database.Row) error {
		g, err := geometry.ParseWKT(row.String(entity.ColGeometry))
		if err != nil {
			return nil
		}
		lines := geometry.Lines(g)
		if len(lines) == 0 {
			return nil
		}
		dept := row.String("departamento_id")
		out[dept] = append(out[dept], streetLines{id: row.String(entity.ColID), lines: lines})
		return nil
	})
	return out, err
}

func intersectionEntity(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
	a, b := row.String(colStreetA), row.String(colStreetB)
	if b < a {
		a, b = b, a
	}
	e, err := entity.New(entity.Intersection, entity.IntersectionID(a, b), "")
	if err != nil {
		return nil, err
	}
	streetA, err := parent(ctx, cache, entity.Street, a)
	if err != nil {
		return nil, err
	}
	streetB, err := parent(ctx, cache, entity.Street, b)
	if err != nil {
		return nil, err
	}

	e.Name = streetA.String(entity.ColName) + " y " + streetB.String(entity.ColName)
	e.Source = sourceINDEC
	setStreet(e, "calle_a", streetA)
	setStreet(e, "calle_b", streetB)
	inherit(e, streetA, "provincia", "departamento")
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}
	return e, nil
}
