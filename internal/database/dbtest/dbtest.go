// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
)

// Open returns an empty in-memory SQLite database closed at test cleanup.
func Open(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		URL:    ":memory:",
	})
	require.NoError(t, err, "Failed to open in-memory SQLite database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Seed creates def and inserts rows outside any transaction.
func Seed(t *testing.T, db *database.DB, def database.TableDef, rows ...database.Row) {
	t.Helper()
	ctx := context.Background()
	sess := db.Session()
	require.NoError(t, sess.CreateTable(ctx, def))
	require.NoError(t, sess.BulkInsert(ctx, def.Name, def.ColumnNames(), rows))
}
