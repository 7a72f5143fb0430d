package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI runs the CLI in-process and returns stdout, stderr and the exit code
func runCLI(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...), &out, &errOut)
	return out.String(), errOut.String(), code
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// sqliteConfig writes a configuration using a SQLite file inside dir.
func sqliteConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "georef.yaml", `
database:
  driver: sqlite3
  url: `+filepath.Join(dir, "georef.db")+`
logging:
  level: error
processes: [intersecciones]
`)
}

func TestCLI_Help(t *testing.T) {
	stdout, _, code := runCLI(t, "--help")
	assert.Equal(t, ExitSuccess, code)
	for _, want := range []string{"georef-etl", "run", "validate", "list", "status", "schedule", "version"} {
		assert.Contains(t, stdout, want)
	}
}

func TestCLI_Version(t *testing.T) {
	stdout, _, code := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Version: dev")
	assert.Contains(t, stdout, "Commit:")
}

func TestCLI_List(t *testing.T) {
	stdout, _, code := runCLI(t, "list")
	assert.Equal(t, ExitSuccess, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "provincias", lines[0])
	assert.Equal(t, "intersecciones", lines[8])

	stdout, _, code = runCLI(t, "list", "--verbose")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "  1. download")
	assert.Contains(t, stdout, "  1. stage_intersections")
}

func TestCLI_Validate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode int
		wantErr  string
	}{
		{
			name:     "valid yaml",
			file:     "valid.yaml",
			content:  "mode: interactive\nschedule:\n  cron: \"0 3 * * *\"\n  processes: [provincias]\n",
			wantCode: ExitSuccess,
		},
		{
			name:     "valid json",
			file:     "valid.json",
			content:  `{"extraction": {"bulkSize": 500}}`,
			wantCode: ExitSuccess,
		},
		{
			name:     "syntax error",
			file:     "broken.json",
			content:  `{"mode": "normal",}`,
			wantCode: ExitParseError,
			wantErr:  "Parse errors",
		},
		{
			name:     "schema violation",
			file:     "invalid.yaml",
			content:  "mode: bogus\n",
			wantCode: ExitValidationError,
			wantErr:  "/mode",
		},
		{
			name:     "unknown process",
			file:     "unknown.yaml",
			content:  "processes: [barrios]\n",
			wantCode: ExitValidationError,
			wantErr:  "barrios",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			stdout, stderr, code := runCLI(t, "validate", path)
			assert.Equal(t, tt.wantCode, code, "stderr: %s", stderr)
			if tt.wantErr != "" {
				assert.Contains(t, stderr, tt.wantErr)
				return
			}
			assert.Contains(t, stdout, "Configuration is valid")
		})
	}
}

func TestCLI_Validate_MissingFile(t *testing.T) {
	_, stderr, code := runCLI(t, "validate", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, ExitParseError, code)
	assert.Contains(t, stderr, "failed to read file")
}

func TestCLI_Run_ProcessFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)

	_, stderr, code := runCLI(t, "run", "--config", cfg, "--workdir", dir)
	assert.Equal(t, ExitRuntimeError, code)
	assert.Contains(t, stderr, "✗ intersecciones failed")
	assert.Contains(t, stderr, "DEPENDENCY_EMPTY")

	reports, err := filepath.Glob(filepath.Join(dir, "reports", "report-*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	stdout, _, code := runCLI(t, "status", "--config", cfg, "--workdir", dir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "intersecciones")
	assert.Contains(t, stdout, "error")
}

func TestCLI_Run_UnknownProcess(t *testing.T) {
	dir := t.TempDir()
	_, stderr, code := runCLI(t, "run", "barrios", "--config", sqliteConfig(t, dir), "--workdir", dir)
	assert.Equal(t, ExitValidationError, code)
	assert.Contains(t, stderr, "unknown process")
}

func TestCLI_Run_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	_, _, code := runCLI(t, "run", "--config", writeFile(t, dir, "bad.yaml", "mode: [unclosed\n"), "--workdir", dir)
	assert.Equal(t, ExitParseError, code)
}

func TestCLI_Status_NoRuns(t *testing.T) {
	dir := t.TempDir()
	stdout, _, code := runCLI(t, "status", "--config", sqliteConfig(t, dir), "--workdir", dir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No process has run yet")
}

func TestCLI_Schedule_InvalidCron(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "georef.yaml", `
database:
  driver: sqlite3
  url: `+filepath.Join(dir, "georef.db")+`
`)
	_, stderr, code := runCLI(t, "schedule", "--config", cfg, "--workdir", dir)
	assert.Equal(t, ExitValidationError, code, "no schedule configured")
	assert.Contains(t, stderr, "schedule is empty")
}
