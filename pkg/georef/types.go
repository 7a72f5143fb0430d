// Package georef provides public types describing the results of an ETL run.
// This package is intended to be importable by external tools that read the
// run reports produced by the georef ETL (dashboards, alerting scripts).
package georef

import "time"

// Process status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// ExtractionReport is the data block written by an entities extraction step.
// Every staging row that survived patching appears in exactly one of
// NewEntitiesIDs, UpdatedEntitiesIDs or Errors.
type ExtractionReport struct {
	// NewEntitiesIDs lists IDs that did not exist in the canonical table
	NewEntitiesIDs []string `json:"new_entities_ids"`

	// UpdatedEntitiesIDs lists IDs that existed and were replaced
	UpdatedEntitiesIDs []string `json:"updated_entities_ids"`

	// DeletedEntitiesIDs lists IDs that existed and were not produced by this run
	DeletedEntitiesIDs []string `json:"deleted_entities_ids"`

	// Errors lists staging rows that failed validation
	Errors []RowError `json:"errors"`
}

// NewCount returns the number of added entities.
func (r ExtractionReport) NewCount() int { return len(r.NewEntitiesIDs) }

// UpdatedCount returns the number of replaced entities.
func (r ExtractionReport) UpdatedCount() int { return len(r.UpdatedEntitiesIDs) }

// DeletedCount returns the number of removed entities.
func (r ExtractionReport) DeletedCount() int { return len(r.DeletedEntitiesIDs) }

// ErrorCount returns the number of rejected staging rows.
func (r ExtractionReport) ErrorCount() int { return len(r.Errors) }

// RowError is a staging row rejected during extraction.
type RowError struct {
	// Key is the natural key of the offending staging row
	Key string `json:"key"`

	// Message is the human-readable validation message
	Message string `json:"message"`
}

// ProcessOutcome describes how one Process ended.
type ProcessOutcome struct {
	// Status is "success", "error" or "skipped"
	Status string `json:"status"`

	// Start and End are the 1-indexed step range that was executed
	Start int `json:"start"`
	End   int `json:"end"`

	// Error holds the failure message, if any
	Error string `json:"error,omitempty"`

	// Duration is the wall time spent in the process
	Duration time.Duration `json:"duration"`
}

// RunReport is the document persisted at the end of a run.
type RunReport struct {
	// RunID uniquely identifies the run
	RunID string `json:"run_id"`

	// Timestamp is when the run started
	Timestamp time.Time `json:"timestamp"`

	// Processes maps a process name to its outcome
	Processes map[string]ProcessOutcome `json:"processes"`

	// Data maps a step name to the data block it produced
	Data map[string]interface{} `json:"data"`

	// Warnings and Errors count the report lines at those levels
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}
