package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database/dbtest"
)

var provinces = database.TableDef{
	Name: "provincias",
	Columns: []database.Column{
		{Name: "id", Type: database.TypeText},
		{Name: "nombre", Type: database.TypeText},
		{Name: "lat", Type: database.TypeFloat},
	},
	PrimaryKey: "id",
}

func seedProvinces(t *testing.T) *database.DB {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.Seed(t, db, provinces,
		database.Row{"id": "02", "nombre": "Ciudad Autónoma de Buenos Aires", "lat": -34.6},
		database.Row{"id": "82", "nombre": "Santa Fe", "lat": -30.7},
		database.Row{"id": "06", "nombre": "Buenos Aires", "lat": -36.6},
	)
	return db
}

func TestSession_QueryAndGetByKey(t *testing.T) {
	db := seedProvinces(t)
	ctx := context.Background()
	sess := db.Session()

	rows, err := sess.Query(ctx, "provincias", nil, "id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "02", rows[0].String("id"))
	assert.Equal(t, "82", rows[2].String("id"))

	row, found, err := sess.GetByKey(ctx, "provincias", "id", "82")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Santa Fe", row.String("nombre"))
	lat, ok := row.Float("lat")
	assert.True(t, ok)
	assert.InDelta(t, -30.7, lat, 1e-9)

	_, found, err = sess.GetByKey(ctx, "provincias", "id", "99")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSession_UpdateDeleteCount(t *testing.T) {
	db := seedProvinces(t)
	ctx := context.Background()
	sess := db.Session()

	n, err := sess.Update(ctx, "provincias", database.Row{"nombre": "Santa Fe (prov)"}, database.Filter{"id": "82"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, _, err := sess.GetByKey(ctx, "provincias", "id", "82")
	require.NoError(t, err)
	assert.Equal(t, "Santa Fe (prov)", row.String("nombre"))

	n, err = sess.Delete(ctx, "provincias", database.Filter{"nombre": "Buenos Aires"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := sess.Count(ctx, "provincias", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = sess.Count(ctx, "provincias", database.Filter{"lat": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSession_BulkInsertAndDelete(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	sess := db.Session()
	require.NoError(t, sess.CreateTable(ctx, provinces))

	rows := make([]database.Row, 0, 50)
	keys := make([]string, 0, 50)
	for i := 10; i < 60; i++ {
		id := string(rune('0'+i/10)) + string(rune('0'+i%10))
		rows = append(rows, database.Row{"id": id, "nombre": "p" + id, "lat": float64(i)})
		keys = append(keys, id)
	}
	require.NoError(t, sess.BulkInsert(ctx, "provincias", nil, rows))

	count, err := sess.Count(ctx, "provincias", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)

	deleted, err := sess.BulkDelete(ctx, "provincias", "id", keys[:20])
	require.NoError(t, err)
	assert.Equal(t, int64(20), deleted)

	remaining, err := sess.Keys(ctx, "provincias", "id")
	require.NoError(t, err)
	assert.Len(t, remaining, 30)
}

func TestSession_ColumnsTableExistsDrop(t *testing.T) {
	db := seedProvinces(t)
	ctx := context.Background()
	sess := db.Session()

	cols, err := sess.Columns(ctx, "provincias")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "nombre", "lat"}, cols)

	exists, err := sess.TableExists(ctx, "provincias")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, sess.DropTable(ctx, "provincias"))
	exists, err = sess.TableExists(ctx, "provincias")
	require.NoError(t, err)
	assert.False(t, exists)

	// Dropping twice is harmless
	require.NoError(t, sess.DropTable(ctx, "provincias"))
}

func TestSession_TransactionRollback(t *testing.T) {
	db := seedProvinces(t)
	ctx := context.Background()

	sess, err := db.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, sess.InTransaction())

	_, err = sess.Delete(ctx, "provincias", nil)
	require.NoError(t, err)
	require.NoError(t, sess.Rollback())

	assert.ErrorIs(t, sess.Rollback(), database.ErrSessionClosed)
	_, err = sess.Count(ctx, "provincias", nil)
	assert.ErrorIs(t, err, database.ErrSessionClosed)

	count, err := db.Session().Count(ctx, "provincias", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSession_ConstraintErrorIsClassified(t *testing.T) {
	db := seedProvinces(t)
	ctx := context.Background()

	err := db.Session().BulkInsert(ctx, "provincias", nil, []database.Row{{"id": "02", "nombre": "dup", "lat": 0.0}})
	require.Error(t, err)

	dbErr := database.GetDatabaseError(err)
	require.NotNil(t, dbErr)
	assert.Equal(t, database.CategoryConstraint, dbErr.Category)
	assert.False(t, database.IsRetryableError(err))
}

func TestSession_PostgresPlaceholders(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := database.New(sqlDB, database.DriverPostgres)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "calles" SET "nombre" = \$1 WHERE "id" = \$2`).
		WithArgs("AV SANTA FE", "0201401000005").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "calles" WHERE "id" IN \(\$1, \$2\)`).
		WithArgs("a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	sess, err := db.Begin(ctx)
	require.NoError(t, err)

	n, err := sess.Update(ctx, "calles", database.Row{"nombre": "AV SANTA FE"}, database.Filter{"id": "0201401000005"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = sess.BulkDelete(ctx, "calles", "id", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, sess.Commit())
	assert.ErrorIs(t, sess.Commit(), database.ErrSessionClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_AutocommitIgnoresCommit(t *testing.T) {
	db := dbtest.Open(t)
	sess := db.Session()
	assert.False(t, sess.InTransaction())
	assert.NoError(t, sess.Commit())
	assert.NoError(t, sess.Rollback())
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr bool
	}{
		{"postgres", database.DriverPostgres, false},
		{"postgresql", database.DriverPostgres, false},
		{"pgx", database.DriverPostgres, false},
		{"sqlite3", database.DriverSQLite, false},
		{"sqlite", database.DriverSQLite, false},
		{"mysql", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := database.DialectFor(tt.driver)
			if tt.wantErr {
				assert.True(t, errors.Is(err, database.ErrUnsupportedDriver))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}

	pg, _ := database.DialectFor("postgres")
	lite, _ := database.DialectFor("sqlite3")
	assert.Equal(t, "$3", pg.Placeholder(3))
	assert.Equal(t, "?", lite.Placeholder(3))
	assert.Equal(t, `"a""b"`, lite.Quote(`a"b`))
	assert.Equal(t, `"a""b"`, pg.Quote(`a"b`))
	assert.Equal(t, "DOUBLE PRECISION", pg.SQLType(database.TypeFloat))
	assert.Equal(t, "REAL", lite.SQLType(database.TypeFloat))
}
