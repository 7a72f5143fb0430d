package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

func TestLoggerInitialization(t *testing.T) {
	// Logger should be initialized
	if logger.Logger == nil {
		t.Fatal("Logger should be initialized on package load")
	}
}

func TestSetLevel(t *testing.T) {
	t.Helper()
	// Test setting log level - should not panic
	logger.SetLevel(slog.LevelDebug)
	logger.SetLevel(slog.LevelInfo)
	logger.SetLevel(slog.LevelWarn)
	logger.SetLevel(slog.LevelError)
}

func TestWithProcess(t *testing.T) {
	if logger.WithProcess("provincias") == nil {
		t.Fatal("WithProcess should return a logger")
	}
}

func TestWithStep(t *testing.T) {
	if logger.WithStep("provincias", "provinces_extraction") == nil {
		t.Fatal("WithStep should return a logger")
	}
}

func TestJSONLogFormat(t *testing.T) {
	// Create a buffer to capture log output
	var buf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	testLogger.Info("test message", "key", "value")

	// Parse the JSON output
	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}

	// Verify structure
	if logEntry["msg"] != "test message" {
		t.Errorf("Expected message 'test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("Expected key 'value', got %v", logEntry["key"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("Expected level 'INFO', got %v", logEntry["level"])
	}
}

// =============================================================================
// Process Context Helpers Tests
// =============================================================================

func captureJSON(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	originalLogger := logger.Logger
	t.Cleanup(func() { logger.Logger = originalLogger })
	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	return &buf
}

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}
	return entry
}

func TestLogProcessStart(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)

	logger.LogProcessStart(logger.ProcessContext{Process: "provincias", RunID: "run-1"}, 1, 4)

	entry := decodeLast(t, buf)
	if entry["msg"] != "process started" {
		t.Errorf("Expected msg 'process started', got %v", entry["msg"])
	}
	if entry["process"] != "provincias" {
		t.Errorf("Expected process 'provincias', got %v", entry["process"])
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("Expected run_id 'run-1', got %v", entry["run_id"])
	}
	if start, ok := entry["start"].(float64); !ok || int(start) != 1 {
		t.Errorf("Expected start 1, got %v", entry["start"])
	}
	if end, ok := entry["end"].(float64); !ok || int(end) != 4 {
		t.Errorf("Expected end 4, got %v", entry["end"])
	}
}

func TestLogProcessEnd(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)

	logger.LogProcessEnd(logger.ProcessContext{Process: "provincias"}, 2*time.Second, nil)
	entry := decodeLast(t, buf)
	if entry["msg"] != "process completed" {
		t.Errorf("Expected msg 'process completed', got %v", entry["msg"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", entry["level"])
	}

	logger.LogProcessEnd(logger.ProcessContext{Process: "provincias"}, time.Second, errors.New("boom"))
	entry = decodeLast(t, buf)
	if entry["msg"] != "process failed" {
		t.Errorf("Expected msg 'process failed', got %v", entry["msg"])
	}
	if entry["level"] != "ERROR" {
		t.Errorf("Expected level ERROR, got %v", entry["level"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Expected error 'boom', got %v", entry["error"])
	}
}

func TestLogStepStartAndEnd(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)
	ctx := logger.ProcessContext{Process: "calles", Step: "streets_extraction", StepIndex: 3, Interactive: true}

	logger.LogStepStart(ctx)
	entry := decodeLast(t, buf)
	if entry["msg"] != "step started" {
		t.Errorf("Expected msg 'step started', got %v", entry["msg"])
	}
	if entry["step"] != "streets_extraction" {
		t.Errorf("Expected step 'streets_extraction', got %v", entry["step"])
	}
	if idx, ok := entry["step_index"].(float64); !ok || int(idx) != 3 {
		t.Errorf("Expected step_index 3, got %v", entry["step_index"])
	}
	if entry["interactive"] != true {
		t.Errorf("Expected interactive true, got %v", entry["interactive"])
	}

	logger.LogStepEnd(ctx, 1500*time.Millisecond, nil)
	entry = decodeLast(t, buf)
	if entry["msg"] != "step completed" {
		t.Errorf("Expected msg 'step completed', got %v", entry["msg"])
	}
}

func TestLogStepEndWithError(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)

	logger.LogStepEnd(logger.ProcessContext{Process: "calles", Step: "download"}, time.Second, errors.New("HTTP 404"))

	entry := decodeLast(t, buf)
	if entry["level"] != "ERROR" {
		t.Errorf("Expected level ERROR, got %v", entry["level"])
	}
	if entry["error"] != "HTTP 404" {
		t.Errorf("Expected error 'HTTP 404', got %v", entry["error"])
	}
}

func TestProcessContextPartialFields(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)

	logger.LogStepStart(logger.ProcessContext{Process: "localidades"})

	entry := decodeLast(t, buf)
	for _, key := range []string{"run_id", "step", "step_index", "interactive"} {
		if _, exists := entry[key]; exists {
			t.Errorf("Expected %s to be omitted when empty", key)
		}
	}
}

func TestConsistentFieldNames(t *testing.T) {
	// Test that all logging helpers use consistent field names
	expectedFields := []string{
		"process",
		"run_id",
		"step",
		"step_index",
		"duration",
		"table",
		"row_key",
		"error",
		"error_code",
		"error_chain",
	}

	// Verify these are the expected field names based on the story requirements
	for _, field := range expectedFields {
		// Field names should be snake_case
		if strings.Contains(field, "-") {
			t.Errorf("Field name should use snake_case, not kebab-case: %s", field)
		}
		if field != strings.ToLower(field) {
			t.Errorf("Field name should be lowercase: %s", field)
		}
	}
}

// =============================================================================
// Human-Readable Format Tests
// =============================================================================

func TestHumanHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{
		Level:     slog.LevelInfo,
		UseColors: false, // Disable colors for testing
	})

	testLogger := slog.New(handler)
	testLogger.Info("test message", "key", "value")

	output := buf.String()

	// Verify output contains expected parts
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "ℹ") {
		t.Errorf("Expected output to contain info prefix 'ℹ', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected output to contain 'key=value', got: %s", output)
	}
}

func TestHumanHandlerLevels(t *testing.T) {
	tests := []struct {
		level          slog.Level
		expectedPrefix string
	}{
		{slog.LevelError, "✗"},
		{slog.LevelWarn, "⚠"},
		{slog.LevelInfo, "ℹ"},
		{slog.LevelDebug, "·"},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			handler := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{
				Level:     slog.LevelDebug, // Enable all levels
				UseColors: false,
			})

			testLogger := slog.New(handler)
			testLogger.Log(context.Background(), tt.level, "test")

			output := buf.String()
			if !strings.Contains(output, tt.expectedPrefix) {
				t.Errorf("Expected output to contain prefix '%s' for level %s, got: %s",
					tt.expectedPrefix, tt.level, output)
			}
		})
	}
}

func TestHumanHandlerDuration(t *testing.T) {
	var buf bytes.Buffer
	handler := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{
		Level:     slog.LevelInfo,
		UseColors: false,
	})

	testLogger := slog.New(handler)
	testLogger.Info("duration test", "duration", 2500*time.Millisecond)

	output := buf.String()

	// Duration should be formatted in human-readable way (2.50s)
	if !strings.Contains(output, "duration=2.50s") {
		t.Errorf("Expected output to contain 'duration=2.50s', got: %s", output)
	}
}

func TestSetLevelAndFormat(t *testing.T) {
	// Save original logger
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	logger.SetLevelAndFormat(slog.LevelDebug, logger.FormatHuman)
	if !logger.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Debug should be enabled after SetLevelAndFormat")
	}

	logger.SetLevelAndFormat(slog.LevelWarn, logger.FormatJSON)
	if logger.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Info should be disabled at warn level")
	}
}

// =============================================================================
// Log File Output Tests
// =============================================================================

func TestSetLogFile(t *testing.T) {
	// Save original logger
	originalLogger := logger.Logger
	defer func() {
		logger.CloseLogFile()
		logger.Logger = originalLogger
	}()

	// Create temp file for testing
	tmpFile, err := os.CreateTemp("", "test-log-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	// Set log file
	err = logger.SetLogFile(tmpPath, slog.LevelInfo, logger.FormatJSON)
	if err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}

	// Write a log message
	logger.Info("test log message", "key", "value")

	// Close log file to flush
	logger.CloseLogFile()

	// Read the log file
	content, err := os.ReadFile(tmpPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	// Verify JSON content (file logs are always JSON)
	if len(content) == 0 {
		t.Error("Log file should contain content")
	}

	// Parse JSON to verify it's valid
	var logEntry map[string]interface{}
	// The file might contain multiple lines, parse first non-empty line
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), &logEntry); err == nil {
			if logEntry["msg"] == "test log message" {
				if logEntry["key"] != "value" {
					t.Errorf("Expected key='value' in log, got: %v", logEntry["key"])
				}
				return
			}
		}
	}
	t.Error("Expected to find test log message in log file")
}

func TestCloseLogFile(t *testing.T) {
	// Save original logger
	originalLogger := logger.Logger
	defer func() { logger.Logger = originalLogger }()

	// CloseLogFile should not panic when no file is open
	logger.CloseLogFile()

	// Create temp file
	tmpFile, err := os.CreateTemp("", "test-log-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	// Set and close log file
	err = logger.SetLogFile(tmpPath, slog.LevelInfo, logger.FormatJSON)
	if err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}

	// Close should not panic
	logger.CloseLogFile()
	// Second close should also not panic
	logger.CloseLogFile()
}

// =============================================================================
// Error Logging with Context Tests
// =============================================================================

func TestLogError(t *testing.T) {
	buf := captureJSON(t, slog.LevelError)

	errCtx := logger.ErrorContext{
		Process:      "departamentos",
		Step:         "departments_extraction",
		StepIndex:    5,
		ErrorCode:    "EMPTY_RESULT",
		ErrorMessage: "query returned no rows",
		Err:          fmt.Errorf("extract: %w", errors.New("no rows")),
		Table:        "tmp_departamentos",
		Duration:     3 * time.Second,
		Extra: map[string]interface{}{
			"retry_count": 3,
		},
	}

	logger.LogError("extraction failed", errCtx)

	entry := decodeLast(t, buf)
	if entry["msg"] != "extraction failed" {
		t.Errorf("Expected msg 'extraction failed', got %v", entry["msg"])
	}
	if entry["process"] != "departamentos" {
		t.Errorf("Expected process 'departamentos', got %v", entry["process"])
	}
	if entry["error_code"] != "EMPTY_RESULT" {
		t.Errorf("Expected error_code 'EMPTY_RESULT', got %v", entry["error_code"])
	}
	if entry["table"] != "tmp_departamentos" {
		t.Errorf("Expected table 'tmp_departamentos', got %v", entry["table"])
	}
	if entry["error_chain"] != "extract: no rows -> no rows" {
		t.Errorf("Unexpected error_chain: %v", entry["error_chain"])
	}
	retryCount, ok := entry["retry_count"].(float64)
	if !ok || int(retryCount) != 3 {
		t.Errorf("Expected retry_count 3, got %v", entry["retry_count"])
	}
}

func TestLogErrorMinimalContext(t *testing.T) {
	buf := captureJSON(t, slog.LevelError)

	logger.LogError("row rejected", logger.ErrorContext{
		Process:      "calles",
		RowKey:       "02007010001",
		ErrorMessage: "invalid ID length",
	})

	entry := decodeLast(t, buf)
	if entry["row_key"] != "02007010001" {
		t.Errorf("Expected row_key, got %v", entry["row_key"])
	}
	for _, key := range []string{"step", "step_index", "table", "error_code", "error_chain"} {
		if _, exists := entry[key]; exists {
			t.Errorf("Expected %s to be omitted", key)
		}
	}
}
