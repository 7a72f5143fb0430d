package factory

import (
	"context"
	"log/slog"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database/dbtest"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/registry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
	"github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

func TestMode(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, etl.ModeNormal, Mode(cfg, false))
	assert.Equal(t, etl.ModeInteractive, Mode(cfg, true))

	cfg.Mode = "interactive"
	assert.Equal(t, etl.ModeInteractive, Mode(cfg, false))
	assert.Equal(t, etl.ModeNormal, Mode(nil, false))
}

func TestNewGeometryEngine(t *testing.T) {
	db := dbtest.Open(t)

	assert.IsType(t, &geometry.PlanarEngine{}, NewGeometryEngine(db, etl.ModeNormal), "sqlite has no spatial functions")
	assert.IsType(t, &geometry.PlanarEngine{}, NewGeometryEngine(nil, etl.ModeNormal))

	interactive := NewGeometryEngine(db, etl.ModeInteractive)
	require.IsType(t, geometry.Interactive{}, interactive)
	pct, err := interactive.IntersectionPercentage(context.Background(),
		"POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))", "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))")
	require.NoError(t, err)
	assert.Zero(t, pct)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestDatabaseConfig(t *testing.T) {
	got := DatabaseConfig(config.DatabaseConfig{
		Driver:         "postgres",
		URL:            "postgres://localhost/georef",
		MaxOpenConns:   8,
		ConnectTimeout: 5 * time.Second,
	})
	assert.Equal(t, "postgres", got.Driver)
	assert.Equal(t, "postgres://localhost/georef", got.URL)
	assert.Equal(t, 8, got.MaxOpenConns)
	assert.Equal(t, 5*time.Second, got.ConnectTimeout)
}

func TestOpen_NilConfig(t *testing.T) {
	_, err := Open(context.Background(), nil, t.TempDir())
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestNew_MailerOnlyWhenConfigured(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, New(cfg, fsys.NewMemFS(), nil).Mailer)

	cfg.Report.Email = config.EmailConfig{Host: "smtp.example.org", Port: 25, To: []string{"ops@example.org"}}
	assert.NotNil(t, New(cfg, fsys.NewMemFS(), nil).Mailer)
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r := New(config.Default(), fsys.NewMemFS(), dbtest.Open(t))
	r.Now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return r
}

func TestRuntime_Run_RecordsFailure(t *testing.T) {
	r := newRuntime(t)

	var mailedTo []string
	r.Mailer = report.NewMailer(report.EmailConfig{Host: "smtp.example.org", Port: 25, To: []string{"ops@example.org"}}).
		WithSender(func(_ string, _ smtp.Auth, _ string, to []string, _ []byte) error {
			mailedTo = to
			return nil
		})

	out, err := r.Run(context.Background(), RunRequest{Processes: []string{"intersecciones"}})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, errhandling.CodeDependencyEmpty, errhandling.ProcessErrorCode(out.Results[0].Err))
	assert.Error(t, out.Err())

	require.NotEmpty(t, out.ReportPath)
	ok, err := r.FS.Exists(out.ReportPath)
	require.NoError(t, err)
	assert.True(t, ok)

	outcome, found := out.Report.Outcome("intersecciones")
	require.True(t, found)
	assert.Equal(t, georef.StatusError, outcome.Status)

	st, err := r.State.Load("intersecciones")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, georef.StatusError, st.Status)
	assert.Equal(t, out.ReportPath, st.ReportPath)
	assert.Equal(t, out.Report.RunID(), st.RunID)

	assert.Equal(t, []string{"ops@example.org"}, mailedTo)
}

func TestRuntime_Run_ConfiguredProcessList(t *testing.T) {
	r := newRuntime(t)
	r.Config.Processes = []string{"intersecciones"}

	out, err := r.Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "intersecciones", out.Results[0].Process)
}

func TestRuntime_Run_UnknownProcess(t *testing.T) {
	r := newRuntime(t)
	_, err := r.Run(context.Background(), RunRequest{Processes: []string{"barrios"}})
	assert.ErrorIs(t, err, registry.ErrUnknownProcess)
}

func TestRuntime_Run_InvalidRange(t *testing.T) {
	r := newRuntime(t)
	out, err := r.Run(context.Background(), RunRequest{Processes: []string{"provincias"}, Start: 5, End: 2})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, errhandling.CodeInvalidRange, errhandling.ProcessErrorCode(out.Results[0].Err))
}
