package steps

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// tableOf names the table a step input refers to.
func tableOf(input any, fallback string) string {
	switch v := input.(type) {
	case Table:
		return v.Name
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	}
	return fallback
}

// ============================
// Schema validation
// ============================

// ValidateSchema checks that a staging table has the columns the
// extraction reads. It passes its input through.
type ValidateSchema struct {
	name     string
	Table    string
	Required []string
}

var _ etl.Step = (*ValidateSchema)(nil)

// NewValidateSchema creates a schema validation step.
func NewValidateSchema(name string, required ...string) *ValidateSchema {
	return &ValidateSchema{name: name, Required: required}
}

// Name returns the step name.
func (v *ValidateSchema) Name() string { return v.name }

// ReadsInput is true: the input names the staging table.
func (v *ValidateSchema) ReadsInput() bool { return true }

// Run fails with SCHEMA_MISMATCH when a required column is missing.
func (v *ValidateSchema) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	if ectx.Session == nil {
		return nil, ErrNoSession
	}
	table := tableOf(input, v.Table)
	cols, err := ectx.Session.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, r := range v.Required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errhandling.ProcessErrorf(v.name, errhandling.CodeSchemaMismatch,
			"table %s is missing columns %v", table, missing)
	}
	return input, nil
}

// ============================
// Size validation
// ============================

// ValidateSize compares the row count of a canonical table with an
// expected size. Without a declared size the previous successful run's
// count is the reference, and a first run always passes. The count is
// recorded for the next run either way.
type ValidateSize struct {
	name  string
	Table string

	// Expected is the declared size; configured sizes override it
	Expected int64

	// Op is config.SizeOpEq (within Tolerance) or config.SizeOpGe
	Op string

	// Tolerance overrides the configured relative tolerance for eq
	Tolerance float64
}

var _ etl.Step = (*ValidateSize)(nil)

// NewValidateSize creates a size validation step.
func NewValidateSize(name string, expected int64, op string) *ValidateSize {
	return &ValidateSize{name: name, Expected: expected, Op: op}
}

// Name returns the step name.
func (v *ValidateSize) Name() string { return v.name }

// ReadsInput is true: the input names the canonical table.
func (v *ValidateSize) ReadsInput() bool { return true }

func (v *ValidateSize) reference(ectx *etl.Context, table string) (expected int64, op string, ok bool, err error) {
	expected, op = v.Expected, v.Op
	if ectx.Config != nil {
		src := ectx.Config.Source(ectx.ProcessName())
		if src.ExpectedSize > 0 {
			expected = int64(src.ExpectedSize)
		}
		if src.SizeOp != "" {
			op = src.SizeOp
		}
	}
	if op == "" {
		op = config.SizeOpEq
	}
	if expected > 0 {
		return expected, op, true, nil
	}
	prev, found, err := ectx.PreviousCount(table)
	return prev, op, found, err
}

func (v *ValidateSize) tolerance(ectx *etl.Context) float64 {
	if v.Tolerance > 0 {
		return v.Tolerance
	}
	if ectx.Config != nil && ectx.Config.Extraction.SizeTolerance > 0 {
		return ectx.Config.Extraction.SizeTolerance
	}
	return config.DefaultSizeTolerance
}

// Run fails with SIZE_OUT_OF_TOLERANCE when the count is off.
func (v *ValidateSize) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	if ectx.Session == nil {
		return nil, ErrNoSession
	}
	table := tableOf(input, v.Table)
	n, err := ectx.Session.Count(ctx, table, nil)
	if err != nil {
		return nil, err
	}
	ectx.RecordCount(table, n)

	expected, op, ok, err := v.reference(ectx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("size check skipped, no reference size",
			slog.String("step", v.name),
			slog.String("table", table),
			slog.Int64("count", n),
		)
		return input, nil
	}

	switch op {
	case config.SizeOpGe:
		if n < expected {
			return nil, errhandling.ProcessErrorf(v.name, errhandling.CodeSizeOutOfTolerance,
				"table %s has %d rows, expected at least %d", table, n, expected)
		}
	case config.SizeOpEq:
		tol := v.tolerance(ectx)
		if diff := math.Abs(float64(n - expected)); diff > tol*float64(expected) {
			return nil, errhandling.ProcessErrorf(v.name, errhandling.CodeSizeOutOfTolerance,
				"table %s has %d rows, expected %d (tolerance %.0f%%)", table, n, expected, tol*100)
		}
	default:
		return nil, fmt.Errorf("%s: unknown size operator %q", v.name, op)
	}

	if ectx.Report != nil {
		ectx.Report.Info("%s: %d rows (reference %d, %s)", table, n, expected, op)
	}
	return input, nil
}
