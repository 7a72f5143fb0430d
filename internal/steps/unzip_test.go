package steps_test

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/steps"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestUnzip_ExtractsIntoArchiveDir(t *testing.T) {
	for _, tc := range []struct {
		name string
		fs   func(t *testing.T) fsys.FS
	}{
		{"memory", func(*testing.T) fsys.FS { return fsys.NewMemFS() }},
		{"disk", func(t *testing.T) fsys.FS {
			fs, err := fsys.NewOSFS(t.TempDir())
			require.NoError(t, err)
			return fs
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := tc.fs(t)
			require.NoError(t, fsys.WriteFile(fs, "provincias/provincias.zip", zipOf(t, map[string]string{
				"provincias.shp":     "shp",
				"provincias.dbf":     "dbf",
				"docs/metadatos.txt": "txt",
			})))
			require.NoError(t, fsys.WriteFile(fs, "provincias/provincias/stale.shp", []byte("old")))

			out, err := steps.NewUnzip("unzip").Run(context.Background(), "provincias/provincias.zip", &etl.Context{FS: fs})
			require.NoError(t, err)
			assert.Equal(t, "provincias/provincias", out)

			entries, err := fs.ReadDir("provincias/provincias")
			require.NoError(t, err)
			assert.Equal(t, []string{"docs/", "provincias.dbf", "provincias.shp"}, entries)

			data, err := fsys.ReadFile(fs, "provincias/provincias/docs/metadatos.txt")
			require.NoError(t, err)
			assert.Equal(t, "txt", string(data))
		})
	}
}

func TestUnzip_RejectsTraversal(t *testing.T) {
	fs := fsys.NewMemFS()
	require.NoError(t, fsys.WriteFile(fs, "evil.zip", zipOf(t, map[string]string{"../outside.txt": "x"})))

	_, err := steps.NewUnzip("unzip").Run(context.Background(), "evil.zip", &etl.Context{FS: fs})
	require.Error(t, err)
	assert.Equal(t, errhandling.CodeArchiveCorrupt, errhandling.ProcessErrorCode(err))

	exists, err := fs.Exists("outside.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUnzip_CorruptArchive(t *testing.T) {
	fs := fsys.NewMemFS()
	require.NoError(t, fsys.WriteFile(fs, "broken.zip", []byte("not a zip")))

	_, err := steps.NewUnzip("unzip").Run(context.Background(), "broken.zip", &etl.Context{FS: fs})
	require.Error(t, err)
	assert.Equal(t, errhandling.CodeArchiveCorrupt, errhandling.ProcessErrorCode(err))
}

func TestUnzip_RequiresPath(t *testing.T) {
	step := steps.NewUnzip("unzip")
	assert.True(t, step.ReadsInput())
	_, err := step.Run(context.Background(), 42, &etl.Context{FS: fsys.NewMemFS()})
	assert.Error(t, err)
}
