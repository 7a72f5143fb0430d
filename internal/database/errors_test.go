package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestClassifyDatabaseError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		driver    string
		category  string
		retryable bool
	}{
		{"pgconn unique", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}, DriverPostgres, CategoryConstraint, false},
		{"pgconn deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock"}, DriverPostgres, CategoryQuery, true},
		{"pgconn canceled", &pgconn.PgError{Code: "57014", Message: "canceling statement"}, DriverPostgres, CategoryTimeout, true},
		{"pq connection", &pq.Error{Code: "08006", Message: "connection failure"}, DriverPostgres, CategoryConnection, true},
		{"pq undefined table", &pq.Error{Code: "42P01", Message: "relation does not exist"}, DriverPostgres, CategoryQuery, false},
		{"message timeout", errors.New("context deadline exceeded"), DriverPostgres, CategoryTimeout, true},
		{"message refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), DriverPostgres, CategoryConnection, true},
		{"sqlite constraint message", errors.New("UNIQUE constraint failed: provincias.id"), DriverSQLite, CategoryConstraint, false},
		{"sqlite locked message", errors.New("database is locked"), DriverSQLite, CategoryQuery, true},
		{"unknown", errors.New("something odd"), DriverSQLite, CategoryQuery, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbErr := ClassifyDatabaseError(fmt.Errorf("wrapped: %w", tt.err), tt.driver, "exec", "SELECT 1", 0)
			if dbErr.Category != tt.category {
				t.Errorf("Category = %q, want %q", dbErr.Category, tt.category)
			}
			if dbErr.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", dbErr.Retryable, tt.retryable)
			}
			if !errors.Is(dbErr, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}

	if ClassifyDatabaseError(nil, DriverSQLite, "exec", "", 0) != nil {
		t.Error("nil error should classify to nil")
	}
}

func TestDatabaseErrorHelpers(t *testing.T) {
	err := fmt.Errorf("step: %w", NewConstraintError("insert", "unique constraint violation", errors.New("dup")))
	if !IsDatabaseError(err) {
		t.Error("IsDatabaseError should unwrap")
	}
	if GetDatabaseError(err).Operation != "insert" {
		t.Error("GetDatabaseError should return the wrapped error")
	}
	if IsRetryableError(err) {
		t.Error("constraint errors are not retryable")
	}
	if !IsRetryableError(errors.New("connection reset by peer")) {
		t.Error("raw connection errors are retryable")
	}
}
