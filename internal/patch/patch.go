// Package patch applies declarative corrections to staging tables before
// extraction: delete matching rows, set a field on matching rows, or run a
// function over matching rows.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
)

type kind int

const (
	kindDelete kind = iota
	kindUpdate
	kindApply
)

// RowFunc returns the columns to change on one matching row.
// Returning an empty row leaves it untouched.
type RowFunc func(row database.Row) (database.Row, error)

// Rule is one patch. Rules run in declared order and each assumes the
// previous ones already ran.
type Rule struct {
	// Description names the upstream defect the rule works around
	Description string

	// Where selects the rows the rule touches; a nil value matches NULL
	Where database.Filter

	kind  kind
	field string
	value any
	fn    RowFunc
}

// Delete removes the rows matching where.
func Delete(description string, where database.Filter) Rule {
	return Rule{Description: description, Where: where, kind: kindDelete}
}

// Update sets field to value on the rows matching where.
func Update(description, field string, value any, where database.Filter) Rule {
	return Rule{Description: description, Where: where, kind: kindUpdate, field: field, value: value}
}

// Apply runs fn over every row matching where and writes back what it returns.
func Apply(description string, fn RowFunc, where database.Filter) Rule {
	return Rule{Description: description, Where: where, kind: kindApply, fn: fn}
}

func (r Rule) String() string {
	var op string
	switch r.kind {
	case kindDelete:
		op = "delete"
	case kindUpdate:
		op = fmt.Sprintf("update %s=%v", r.field, r.value)
	default:
		op = "apply"
	}
	if r.Description != "" {
		op += " (" + r.Description + ")"
	}
	return op + " where " + describe(r.Where)
}

func describe(f database.Filter) string {
	if len(f) == 0 {
		return "<all rows>"
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, f[k])
	}
	return strings.Join(parts, ", ")
}

// Run applies rules to table in order and returns the number of rows each
// one touched. A rule matching no rows is reported as a warning: the
// defect it corrects may have been fixed upstream.
func Run(ctx context.Context, sess *database.Session, rep *report.Report, table string, rules []Rule) ([]int64, error) {
	counts := make([]int64, len(rules))
	for i, rule := range rules {
		n, err := rule.apply(ctx, sess, table)
		if err != nil {
			return counts, fmt.Errorf("patch %d on %s: %s: %w", i+1, table, rule, err)
		}
		counts[i] = n

		logger.Debug("patch applied",
			slog.String("table", table),
			slog.String("rule", rule.String()),
			slog.Int64("rows", n),
		)
		if rep == nil {
			continue
		}
		if n == 0 {
			rep.Warn("Patch on %s matched no rows: %s", table, rule)
		} else {
			rep.Info("Patch on %s: %s: %d rows", table, rule, n)
		}
	}
	return counts, nil
}

func (r Rule) apply(ctx context.Context, sess *database.Session, table string) (int64, error) {
	switch r.kind {
	case kindDelete:
		return sess.Delete(ctx, table, r.Where)
	case kindUpdate:
		return sess.Update(ctx, table, database.Row{r.field: r.value}, r.Where)
	default:
		return r.applyFunc(ctx, sess, table)
	}
}

func (r Rule) applyFunc(ctx context.Context, sess *database.Session, table string) (int64, error) {
	rows, err := sess.Query(ctx, table, r.Where, database.StagingKeyField)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		changes, err := r.fn(row.Clone())
		if err != nil {
			return 0, fmt.Errorf("row %s=%v: %w", database.StagingKeyField, row[database.StagingKeyField], err)
		}
		if len(changes) == 0 {
			continue
		}
		key := database.Filter{database.StagingKeyField: row[database.StagingKeyField]}
		if _, err := sess.Update(ctx, table, changes, key); err != nil {
			return 0, err
		}
	}
	return int64(len(rows)), nil
}
