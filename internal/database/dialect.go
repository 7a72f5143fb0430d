package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// ColumnType is a portable column type.
type ColumnType string

// Column types
const (
	TypeText    ColumnType = "text"
	TypeFloat   ColumnType = "float"
	TypeInteger ColumnType = "integer"
)

// Dialect renders SQL fragments that differ between drivers.
type Dialect struct {
	name string
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql", "pgx":
		return Dialect{name: DriverPostgres}, nil
	case DriverSQLite, "sqlite":
		return Dialect{name: DriverSQLite}, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// Name returns the canonical driver name.
func (d Dialect) Name() string {
	return d.name
}

func (d Dialect) sqlDriver() string {
	if d.name == DriverPostgres {
		return "pgx"
	}
	return d.name
}

// Placeholder returns the positional parameter marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.name == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	if d.name == DriverPostgres {
		return pq.QuoteIdentifier(ident)
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// MaxParams is the number of bind parameters a single statement may carry.
func (d Dialect) MaxParams() int {
	if d.name == DriverPostgres {
		return 65535
	}
	return 32766
}

// SQLType maps a portable column type to the dialect's type name.
func (d Dialect) SQLType(t ColumnType) string {
	switch t {
	case TypeFloat:
		if d.name == DriverPostgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case TypeInteger:
		if d.name == DriverPostgres {
			return "BIGINT"
		}
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (d Dialect) columnsQuery() string {
	if d.name == DriverPostgres {
		return "SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position"
	}
	return "SELECT name FROM pragma_table_info(?) ORDER BY cid"
}

func (d Dialect) tableExistsQuery() string {
	if d.name == DriverPostgres {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1"
	}
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}
