package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSessionClosed is returned when a finished Session is used.
var ErrSessionClosed = errors.New("session already committed or rolled back")

// Row is a schema-on-read record: column name to scalar value.
// Text columns are always returned as string.
type Row map[string]any

// String returns the value of a column as a string.
// Missing and NULL columns yield "".
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the value of a column as a float64.
func (r Row) Float(column string) (float64, bool) {
	switch v := r[column].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter is an equality filter: every column must equal its value.
// A nil value matches NULL.
type Filter map[string]any

// Column describes one column of a table definition.
type Column struct {
	Name string
	Type ColumnType
}

// TableDef describes a table created by CreateTable.
type TableDef struct {
	Name       string
	Columns    []Column
	PrimaryKey string
}

// ColumnNames returns the column names in declaration order.
func (t TableDef) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session exposes the subset of persistence operations the ETL needs.
// A Session obtained from DB.Begin wraps one transaction.
type Session struct {
	q       querier
	tx      *sql.Tx
	dialect Dialect
	done    bool
}

// Dialect returns the session's SQL dialect.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// InTransaction reports whether the session wraps a transaction.
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// Commit commits the transaction.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	if s.done {
		return ErrSessionClosed
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return NewTransactionError("commit failed", err, false)
	}
	return nil
}

// Rollback aborts the transaction.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	if s.done {
		return ErrSessionClosed
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil {
		return NewTransactionError("rollback failed", err, false)
	}
	return nil
}

func (s *Session) check() error {
	if s.done {
		return ErrSessionClosed
	}
	return nil
}

// Exec runs a statement and returns the number of affected rows.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ClassifyDatabaseError(err, s.dialect.Name(), "exec", query, len(args))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// QueryRows runs a query and returns every row.
func (s *Session) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	var out []Row
	err := s.Each(ctx, query, args, func(r Row) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Each runs a query and calls fn for every row without materializing the result set.
func (s *Session) Each(ctx context.Context, query string, args []any, fn func(Row) error) error {
	if err := s.check(); err != nil {
		return err
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return ClassifyDatabaseError(err, s.dialect.Name(), "select", query, len(args))
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return ClassifyDatabaseError(err, s.dialect.Name(), "select", query, len(args))
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return ClassifyDatabaseError(err, s.dialect.Name(), "scan", query, len(args))
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return ClassifyDatabaseError(err, s.dialect.Name(), "select", query, len(args))
	}
	return nil
}

// Select builds "SELECT * FROM table [WHERE filter] [ORDER BY orderBy]".
func (s *Session) Select(table string, filter Filter, orderBy ...string) (string, []any) {
	query := "SELECT * FROM " + s.dialect.Quote(table)
	where, args := s.where(filter, 1)
	query += where
	if len(orderBy) > 0 {
		quoted := make([]string, len(orderBy))
		for i, col := range orderBy {
			quoted[i] = s.dialect.Quote(col)
		}
		query += " ORDER BY " + strings.Join(quoted, ", ")
	}
	return query, args
}

// Query returns the rows of table matching filter.
func (s *Session) Query(ctx context.Context, table string, filter Filter, orderBy ...string) ([]Row, error) {
	query, args := s.Select(table, filter, orderBy...)
	return s.QueryRows(ctx, query, args...)
}

// GetByKey returns the row whose keyField equals key.
func (s *Session) GetByKey(ctx context.Context, table, keyField string, key any) (Row, bool, error) {
	query, args := s.Select(table, Filter{keyField: key})
	rows, err := s.QueryRows(ctx, query+" LIMIT 1", args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Count returns the number of rows in table matching filter.
func (s *Session) Count(ctx context.Context, table string, filter Filter) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	where, args := s.where(filter, 1)
	query := "SELECT COUNT(*) FROM " + s.dialect.Quote(table) + where
	var n int64
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, ClassifyDatabaseError(err, s.dialect.Name(), "count", query, len(args))
	}
	return n, nil
}

// Keys returns every value of keyField in table.
func (s *Session) Keys(ctx context.Context, table, keyField string) ([]string, error) {
	query := "SELECT " + s.dialect.Quote(keyField) + " FROM " + s.dialect.Quote(table)
	var keys []string
	err := s.Each(ctx, query, nil, func(r Row) error {
		keys = append(keys, r.String(keyField))
		return nil
	})
	return keys, err
}

// BulkInsert inserts rows using multi-row INSERT statements.
// When columns is empty the sorted keys of the first row are used.
func (s *Session) BulkInsert(ctx context.Context, table string, columns []string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if len(columns) == 0 {
		for col := range rows[0] {
			columns = append(columns, col)
		}
		sort.Strings(columns)
	}

	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = s.dialect.Quote(col)
	}
	prefix := "INSERT INTO " + s.dialect.Quote(table) + " (" + strings.Join(quotedCols, ", ") + ") VALUES "

	perStmt := s.dialect.MaxParams() / len(columns)
	if perStmt < 1 {
		perStmt = 1
	}

	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}

		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, (end-start)*len(columns))
		for i, row := range rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for j, col := range columns {
				if j > 0 {
					b.WriteString(", ")
				}
				args = append(args, row[col])
				b.WriteString(s.dialect.Placeholder(len(args)))
			}
			b.WriteByte(')')
		}

		if _, err := s.Exec(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// BulkDelete deletes the rows whose keyField is one of keys.
func (s *Session) BulkDelete(ctx context.Context, table, keyField string, keys []string) (int64, error) {
	var total int64
	perStmt := s.dialect.MaxParams()
	for start := 0; start < len(keys); start += perStmt {
		end := start + perStmt
		if end > len(keys) {
			end = len(keys)
		}

		placeholders := make([]string, 0, end-start)
		args := make([]any, 0, end-start)
		for _, key := range keys[start:end] {
			args = append(args, key)
			placeholders = append(placeholders, s.dialect.Placeholder(len(args)))
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			s.dialect.Quote(table), s.dialect.Quote(keyField), strings.Join(placeholders, ", "))

		n, err := s.Exec(ctx, query, args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Update sets columns on the rows matching filter.
func (s *Session) Update(ctx context.Context, table string, set Row, filter Filter) (int64, error) {
	if len(set) == 0 {
		return 0, nil
	}
	cols := sortedKeys(set)
	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filter))
	for i, col := range cols {
		args = append(args, set[col])
		assignments[i] = s.dialect.Quote(col) + " = " + s.dialect.Placeholder(len(args))
	}
	where, whereArgs := s.where(filter, len(args)+1)
	args = append(args, whereArgs...)

	query := "UPDATE " + s.dialect.Quote(table) + " SET " + strings.Join(assignments, ", ") + where
	return s.Exec(ctx, query, args...)
}

// Delete deletes the rows matching filter.
func (s *Session) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	where, args := s.where(filter, 1)
	return s.Exec(ctx, "DELETE FROM "+s.dialect.Quote(table)+where, args...)
}

// Columns returns the column names of table in declaration order.
func (s *Session) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.QueryRows(ctx, s.dialect.columnsQuery(), table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(rows))
	for _, r := range rows {
		for _, v := range r {
			cols = append(cols, fmt.Sprint(v))
		}
	}
	return cols, nil
}

// TableExists reports whether table exists.
func (s *Session) TableExists(ctx context.Context, table string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	query := s.dialect.tableExistsQuery()
	var n int64
	if err := s.q.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return false, ClassifyDatabaseError(err, s.dialect.Name(), "select", query, 1)
	}
	return n > 0, nil
}

// CreateTable creates table if it does not exist.
func (s *Session) CreateTable(ctx context.Context, def TableDef) error {
	parts := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		part := s.dialect.Quote(col.Name) + " " + s.dialect.SQLType(col.Type)
		if col.Name == def.PrimaryKey {
			part += " PRIMARY KEY"
		}
		parts = append(parts, part)
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.dialect.Quote(def.Name), strings.Join(parts, ", "))
	_, err := s.Exec(ctx, query)
	return err
}

// DropTable drops table if it exists.
func (s *Session) DropTable(ctx context.Context, table string) error {
	_, err := s.Exec(ctx, "DROP TABLE IF EXISTS "+s.dialect.Quote(table))
	return err
}

// where renders a WHERE clause whose placeholders start at index first.
func (s *Session) where(filter Filter, first int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	conds := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		if filter[col] == nil {
			conds[i] = s.dialect.Quote(col) + " IS NULL"
			continue
		}
		args = append(args, filter[col])
		conds[i] = s.dialect.Quote(col) + " = " + s.dialect.Placeholder(first+len(args)-1)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
