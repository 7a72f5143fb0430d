// Package scheduler provides CRON-based scheduling of process runs.
// Each registered job runs a list of processes on a recurring schedule;
// a tick that fires while the previous run of the same job is still in
// progress is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("job is nil")

	// ErrJobDisabled is returned when registering a disabled job.
	ErrJobDisabled = errors.New("job is disabled")

	// ErrEmptySchedule is returned when a job has no CRON expression.
	ErrEmptySchedule = errors.New("schedule is empty")

	// ErrInvalidSchedule is returned when a CRON expression does not parse.
	ErrInvalidSchedule = errors.New("invalid CRON expression")

	// ErrAlreadyStarted is returned when starting a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// parser accepts standard 5-field expressions, 6-field expressions with
// a leading seconds field, and descriptors such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpression reports whether expr is a valid CRON expression.
func ValidateCronExpression(expr string) error {
	if expr == "" {
		return ErrEmptySchedule
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// Job is a named list of processes run on a schedule.
type Job struct {
	Name      string
	Schedule  string
	Processes []string
	Enabled   bool
}

// Executor runs the processes of a job.
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *Job) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

type entry struct {
	job     *Job
	id      cron.EntryID
	running atomic.Bool
}

// Scheduler manages scheduled process runs.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	executor Executor
	entries  map[string]*entry
	started  bool

	// ctx is the context passed to Start; runs observe its cancellation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler whose jobs only log their ticks.
func New() *Scheduler {
	return NewWithExecutor(ExecutorFunc(func(_ context.Context, job *Job) error {
		logger.Info("scheduled job tick without executor", slog.String("job", job.Name))
		return nil
	}))
}

// NewWithExecutor creates a scheduler running jobs through executor.
func NewWithExecutor(executor Executor) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{}))),
		executor: executor,
		entries:  make(map[string]*entry),
	}
}

// Register adds a job, replacing any job registered under the same name.
func (s *Scheduler) Register(job *Job) error {
	if job == nil {
		return ErrNilJob
	}
	if !job.Enabled {
		return fmt.Errorf("%w: %s", ErrJobDisabled, job.Name)
	}
	if err := ValidateCronExpression(job.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[job.Name]; ok {
		s.cron.Remove(old.id)
		delete(s.entries, job.Name)
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.run(e) })
	if err != nil {
		return fmt.Errorf("job %s: %w %q: %v", job.Name, ErrInvalidSchedule, job.Schedule, err)
	}
	e.id = id
	s.entries[job.Name] = e

	logger.Info("job registered",
		slog.String("job", job.Name),
		slog.String("schedule", job.Schedule),
		slog.Any("processes", job.Processes),
	)
	return nil
}

// HasJob reports whether a job is registered.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// IsRunning reports whether a run of the job is in progress.
func (s *Scheduler) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return ok && e.running.Load()
}

// IsStarted reports whether the scheduler is started.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// NextRun returns the next activation time of a job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(e.id).Next
	return next, !next.IsZero()
}

// Start begins executing scheduled jobs. Runs receive a context derived
// from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	logger.Info("scheduler started", slog.Int("jobs", len(s.entries)))
	return nil
}

// Stop halts scheduling, cancels in-flight runs and waits for them until
// ctx is done. Registered jobs are cleared.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for name, e := range s.entries {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cronDone := s.cron.Stop()
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) run(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		logger.Warn("skipping scheduled run, previous run still in progress",
			slog.String("job", e.job.Name),
		)
		return
	}
	defer e.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || !s.started {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	start := time.Now()
	logger.Info("scheduled run started", slog.String("job", e.job.Name))
	err := s.executor.Execute(ctx, e.job)
	attrs := []any{
		slog.String("job", e.job.Name),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.Error("scheduled run failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	logger.Info("scheduled run completed", attrs...)
}

// cronLogger forwards robfig/cron log lines to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
