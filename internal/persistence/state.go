// Package persistence keeps per-process run state across runs: when a
// process last ran, whether it succeeded, which report describes it and
// how many entities each of its tables held.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

// DefaultStateDir is the directory for state files relative to the store root.
const DefaultStateDir = "state"

// Common errors
var (
	// ErrInvalidProcess is returned when the process name is empty.
	ErrInvalidProcess = errors.New("process name is required")

	// ErrNilState is returned when state is nil.
	ErrNilState = errors.New("state is nil")
)

// State is the persisted run state of one process.
type State struct {
	Process string `json:"process"`

	// RunID identifies the last run
	RunID string `json:"run_id,omitempty"`

	// Status of the last run
	Status string `json:"status"`

	LastRun     time.Time  `json:"last_run"`
	LastSuccess *time.Time `json:"last_success,omitempty"`

	// Error is the failure message of the last run
	Error string `json:"error,omitempty"`

	// ReportPath is where the report of the last run was saved
	ReportPath string `json:"report_path,omitempty"`

	// Counts holds row counts per table as of the last successful run
	Counts map[string]int64 `json:"counts,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Count returns the recorded row count of a table.
func (s *State) Count(table string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	n, ok := s.Counts[table]
	return n, ok
}

// StateStore persists process state as one JSON file per process.
type StateStore struct {
	fs  fsys.FS
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewStateStore creates a StateStore writing under dir of fs.
// If dir is empty, DefaultStateDir is used.
func NewStateStore(fs fsys.FS, dir string) *StateStore {
	if dir == "" {
		dir = DefaultStateDir
	}
	return &StateStore{fs: fs, dir: dir, now: time.Now}
}

// Dir returns the state directory.
func (s *StateStore) Dir() string {
	return s.dir
}

func (s *StateStore) fileName(process string) string {
	// path.Base keeps state files inside dir
	return path.Join(s.dir, path.Base(process)+".json")
}

// Save persists the state of a process. Writes go through the file
// system's atomic Create.
func (s *StateStore) Save(process string, state *State) error {
	if process == "" {
		return ErrInvalidProcess
	}
	if state == nil {
		return ErrNilState
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(process, state)
}

func (s *StateStore) save(process string, state *State) error {
	if err := s.fs.MkdirAll(s.dir); err != nil {
		logger.Warn("failed to create state directory",
			"path", s.dir,
			"error", err.Error(),
		)
		return fmt.Errorf("creating state directory: %w", err)
	}

	state.Process = process
	state.UpdatedAt = s.now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	name := s.fileName(process)
	if err := fsys.WriteFile(s.fs, name, data); err != nil {
		logger.Warn("failed to write state file",
			"process", process,
			"path", name,
			"error", err.Error(),
		)
		return fmt.Errorf("writing state file: %w", err)
	}

	logger.Debug("state saved",
		"process", process,
		"path", name,
		"status", string(state.Status),
	)
	return nil
}

// Load retrieves the state of a process.
// Returns nil, nil if the process never ran.
func (s *StateStore) Load(process string) (*State, error) {
	if process == "" {
		return nil, ErrInvalidProcess
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(process)
}

func (s *StateStore) load(process string) (*State, error) {
	name := s.fileName(process)
	data, err := fsys.ReadFile(s.fs, name)
	if err != nil {
		if errors.Is(err, fsys.ErrNotExist) {
			logger.Debug("no state file found (first run)",
				"process", process,
				"path", name,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("failed to unmarshal state",
			"process", process,
			"path", name,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	return &state, nil
}

// Record updates the state of a process after a run. Counts replace the
// stored ones only when the run succeeded; a failed run rolled back its
// writes so the previous counts still describe the tables.
func (s *StateStore) Record(process, runID string, outcome georef.ProcessOutcome, counts map[string]int64) error {
	if process == "" {
		return ErrInvalidProcess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(process)
	if err != nil {
		return err
	}
	if state == nil {
		state = &State{}
	}

	state.RunID = runID
	state.Status = outcome.Status
	state.LastRun = s.now()
	state.Error = outcome.Error

	if outcome.Status == georef.StatusSuccess {
		last := state.LastRun
		state.LastSuccess = &last
		if len(counts) > 0 {
			if state.Counts == nil {
				state.Counts = make(map[string]int64, len(counts))
			}
			for table, n := range counts {
				state.Counts[table] = n
			}
		}
	}
	return s.save(process, state)
}

// SetReportPath records where the report of the last run was saved.
func (s *StateStore) SetReportPath(process, reportPath string) error {
	if process == "" {
		return ErrInvalidProcess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(process)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	state.ReportPath = reportPath
	return s.save(process, state)
}

// List returns the state of every process that ever ran, sorted by name.
func (s *StateStore) List() ([]*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fsys.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing state directory: %w", err)
	}

	var states []*State
	for _, entry := range entries {
		if !strings.HasSuffix(entry, ".json") || strings.HasSuffix(entry, "/") {
			continue
		}
		state, err := s.load(strings.TrimSuffix(entry, ".json"))
		if err != nil {
			return nil, err
		}
		if state != nil {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Process < states[j].Process })
	return states, nil
}

// Delete removes the state of a process. Missing state is not an error.
func (s *StateStore) Delete(process string) error {
	if process == "" {
		return ErrInvalidProcess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.fileName(process)
	ok, err := s.fs.Exists(name)
	if err != nil || !ok {
		return err
	}
	if err := s.fs.RemoveAll(name); err != nil {
		return fmt.Errorf("deleting state file: %w", err)
	}
	logger.Debug("state deleted", "process", process, "path", name)
	return nil
}
