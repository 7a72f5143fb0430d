// Package report accumulates the log lines, counters and per-step data of an
// ETL run. A Report is threaded through every step via the execution context.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

// Level is the severity of a report line.
type Level string

// Report levels
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// timestampLayout is used in report file names.
const timestampLayout = "2006-01-02-150405"

// Line is one entry of the report transcript.
type Line struct {
	Time    time.Time
	Level   Level
	Message string
}

// Report collects everything an operator needs to judge a run.
type Report struct {
	mu        sync.Mutex
	runID     string
	start     time.Time
	lines     []Line
	data      map[string]any
	processes map[string]georef.ProcessOutcome
	warnings  int
	errors    int

	// indent prefixes messages while a step runs
	indent int
}

// New creates a Report with a fresh run ID.
func New(start time.Time) *Report {
	return NewWithID(uuid.NewString(), start)
}

// NewWithID creates a Report with a given run ID.
func NewWithID(runID string, start time.Time) *Report {
	return &Report{
		runID:     runID,
		start:     start,
		data:      make(map[string]any),
		processes: make(map[string]georef.ProcessOutcome),
	}
}

// RunID returns the run identifier.
func (r *Report) RunID() string {
	return r.runID
}

// Start returns the run start time.
func (r *Report) Start() time.Time {
	return r.start
}

func (r *Report) add(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	line := Line{Time: time.Now(), Level: level, Message: strings.Repeat("  ", r.indent) + msg}
	r.lines = append(r.lines, line)
	switch level {
	case LevelWarning:
		r.warnings++
	case LevelError:
		r.errors++
	}
	r.mu.Unlock()

	attrs := []any{slog.String("run_id", r.runID)}
	switch level {
	case LevelWarning:
		logger.Warn(msg, attrs...)
	case LevelError:
		logger.Error(msg, attrs...)
	default:
		logger.Info(msg, attrs...)
	}
}

// Info adds an informational line.
func (r *Report) Info(format string, args ...any) { r.add(LevelInfo, format, args...) }

// Warn adds a warning line.
func (r *Report) Warn(format string, args ...any) { r.add(LevelWarning, format, args...) }

// Error adds an error line.
func (r *Report) Error(format string, args ...any) { r.add(LevelError, format, args...) }

// Indent increases the indentation of following lines; the returned func restores it.
func (r *Report) Indent() func() {
	r.mu.Lock()
	r.indent++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if r.indent > 0 {
			r.indent--
		}
		r.mu.Unlock()
	}
}

// SetData stores the data block produced by a step.
func (r *Report) SetData(step string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[step] = v
}

// Data returns the data block of a step.
func (r *Report) Data(step string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[step]
	return v, ok
}

// SetOutcome records how a process ended.
func (r *Report) SetOutcome(process string, outcome georef.ProcessOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[process] = outcome
}

// Outcome returns the outcome recorded for a process.
func (r *Report) Outcome(process string) (georef.ProcessOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.processes[process]
	return o, ok
}

// Warnings returns the number of warning lines.
func (r *Report) Warnings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}

// Errors returns the number of error lines.
func (r *Report) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Lines returns a copy of the transcript.
func (r *Report) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// Document returns the persistable form of the report.
func (r *Report) Document() georef.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make(map[string]interface{}, len(r.data))
	for k, v := range r.data {
		data[k] = v
	}
	processes := make(map[string]georef.ProcessOutcome, len(r.processes))
	for k, v := range r.processes {
		processes[k] = v
	}
	return georef.RunReport{
		RunID:     r.runID,
		Timestamp: r.start,
		Processes: processes,
		Data:      data,
		Warnings:  r.warnings,
		Errors:    r.errors,
	}
}

// JSON returns the indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r.Document(), "", "  ")
}

// Transcript returns the plain-text log.
func (r *Report) Transcript() string {
	var b bytes.Buffer
	for _, line := range r.Lines() {
		fmt.Fprintf(&b, "%s - %s - %s\n", line.Time.Format("2006-01-02 15:04:05"), line.Level, line.Message)
	}
	return b.String()
}

// Summary returns a one-paragraph overview for email bodies and CLI output.
func (r *Report) Summary() string {
	doc := r.Document()
	names := make([]string, 0, len(doc.Processes))
	for name := range doc.Processes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s started %s\n", doc.RunID, doc.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Warnings: %d, errors: %d\n", doc.Warnings, doc.Errors)
	for _, name := range names {
		o := doc.Processes[name]
		fmt.Fprintf(&b, "  %s: %s", name, o.Status)
		if o.Error != "" {
			fmt.Fprintf(&b, " (%s)", o.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Paths returns the JSON and log file names for this report inside dir.
func (r *Report) Paths(dir string) (jsonPath, logPath string) {
	base := "report-" + r.start.Format(timestampLayout)
	if dir != "" {
		base = strings.TrimSuffix(dir, "/") + "/" + base
	}
	return base + ".json", base + ".log"
}

// Save writes report-<timestamp>.json and report-<timestamp>.log into dir.
func (r *Report) Save(fs fsys.FS, dir string) (string, error) {
	jsonPath, logPath := r.Paths(dir)

	doc, err := r.JSON()
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	if err := fsys.WriteFile(fs, jsonPath, doc); err != nil {
		return "", fmt.Errorf("writing %s: %w", jsonPath, err)
	}
	if err := fsys.WriteFile(fs, logPath, []byte(r.Transcript())); err != nil {
		return "", fmt.Errorf("writing %s: %w", logPath, err)
	}

	logger.Info("report saved", slog.String("path", jsonPath), slog.String("run_id", r.runID))
	return jsonPath, nil
}
