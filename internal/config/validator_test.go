package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Path
	}
	return out
}

func TestValidateConfig_Valid(t *testing.T) {
	result := ParseConfigString(sampleYAML, "")
	require.Empty(t, result.ParseErrors)
	assert.Empty(t, result.ValidationErrors)

	// An empty mapping only uses defaults
	assert.True(t, ValidateConfig(map[string]interface{}{}).Valid)
}

func TestValidateConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{"unknown mode", "mode: fast", "/mode"},
		{"zero bulk size", "extraction: {bulkSize: 0}", "/extraction/bulkSize"},
		{"tolerance above one", "extraction: {sizeTolerance: 1.5}", "/extraction/sizeTolerance"},
		{"unknown key", "extractions: {}", "/"},
		{"bad duration", "database: {connectTimeout: soon}", "/database/connectTimeout"},
		{"bad encoding", "sources: {calles: {encoding: UTF-16}}", "/sources/calles/encoding"},
		{"update without value", "patches: {calles: [{op: update, field: nombre}]}", "/patches/calles/0"},
		{"unknown patch op", "patches: {calles: [{op: truncate}]}", "/patches/calles/0/op"},
		{"schedule without cron", "schedule: {processes: [calles]}", "/schedule"},
		{"bad cron", "schedule: {cron: \"every day\"}", "/schedule/cron"},
		{"bad expression", "patches: {calles: [{op: apply, set: {nombre: \"upper(\"}}]}", "/patches/calles/0/set/nombre"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseConfigString(tt.content, FormatYAML)
			require.Empty(t, result.ParseErrors)
			require.NotEmpty(t, result.ValidationErrors)
			assert.Contains(t, paths(result.ValidationErrors), tt.path)
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	result := ValidateConfig(nil)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "required", result.Errors[0].Type)
}

func TestGetEmbeddedSchema(t *testing.T) {
	assert.Contains(t, string(GetEmbeddedSchema()), "georef ETL configuration")
}
