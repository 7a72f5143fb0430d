// Package etl provides the step and process engine: composable Steps,
// CompositeStep, StepSequence and the transactional Process runner.
package etl

import (
	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/persistence"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
)

// Mode selects how much work a run does.
type Mode string

// Execution modes
const (
	// ModeNormal runs every step in full.
	ModeNormal Mode = "normal"

	// ModeInteractive skips repeatable downloads and expensive geometry work.
	ModeInteractive Mode = "interactive"
)

// Context carries the collaborators shared by every step of a run.
type Context struct {
	// Config is the loaded configuration (may be nil in tests)
	Config *config.Config

	// FS is the data file system downloads and exports go through
	FS fsys.FS

	// DB opens one transaction per Process run
	DB *database.DB

	// Session is the transaction of the Process currently running
	Session *database.Session

	// Report accumulates log lines and per-step data
	Report *report.Report

	// Mode is normal or interactive
	Mode Mode

	// Geometry computes centroids, coverage and containment
	Geometry geometry.Engine

	// State holds per-process run state across runs (may be nil)
	State *persistence.StateStore

	// process is the name of the Process currently running
	process string

	// counts are table sizes recorded by the running Process, persisted
	// to State when it succeeds
	counts map[string]int64
}

// Interactive reports whether the run is in interactive mode.
func (c *Context) Interactive() bool {
	return c.Mode == ModeInteractive
}

// ProcessName returns the name of the Process currently running.
func (c *Context) ProcessName() string {
	return c.process
}

// BulkSize returns the configured insert batch size.
func (c *Context) BulkSize() int {
	if c.Config != nil && c.Config.Extraction.BulkSize > 0 {
		return c.Config.Extraction.BulkSize
	}
	return config.DefaultBulkSize
}

// RecordCount records the row count of a table for the running Process.
func (c *Context) RecordCount(table string, n int64) {
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[table] = n
}

// PreviousCount returns the row count a table had after the last
// successful run of the current Process.
func (c *Context) PreviousCount(table string) (int64, bool, error) {
	if c.State == nil || c.process == "" {
		return 0, false, nil
	}
	st, err := c.State.Load(c.process)
	if err != nil {
		return 0, false, err
	}
	n, ok := st.Count(table)
	return n, ok, nil
}
