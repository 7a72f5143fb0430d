package etl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

// ErrNilContext is returned when a Process runs without an execution context.
var ErrNilContext = errors.New("execution context is nil")

// Process is a named, ordered, transactional pipeline for one dataset.
type Process struct {
	name  string
	steps []Step
}

// NewProcess creates a Process.
func NewProcess(name string, steps ...Step) *Process {
	return &Process{name: name, steps: steps}
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Steps returns the top-level steps.
func (p *Process) Steps() []Step { return p.steps }

// Len returns the number of top-level steps.
func (p *Process) Len() int { return len(p.steps) }

// RunAll runs every step.
func (p *Process) RunAll(ctx context.Context, ectx *Context) (any, error) {
	return p.Run(ctx, ectx, 1, len(p.steps))
}

// Run executes steps start..end (1-indexed, inclusive) threading each
// output into the next step. All database writes share one transaction
// that is committed once after the last step and rolled back on any error.
func (p *Process) Run(ctx context.Context, ectx *Context, start, end int) (any, error) {
	if ectx == nil {
		return nil, ErrNilContext
	}
	if start < 1 || end < start || end > len(p.steps) {
		return nil, errhandling.ProcessErrorf(p.name, errhandling.CodeInvalidRange,
			"invalid step range %d-%d (process has %d steps)", start, end, len(p.steps))
	}
	if first := p.steps[start-1]; first.ReadsInput() {
		return nil, errhandling.ProcessErrorf(p.name, errhandling.CodeInputRequired,
			"step %d (%s) requires input and cannot start a run", start, first.Name())
	}

	began := time.Now()
	pctx := logger.ProcessContext{Process: p.name, Interactive: ectx.Interactive()}
	if ectx.Report != nil {
		pctx.RunID = ectx.Report.RunID()
	}
	logger.LogProcessStart(pctx, start, end)
	p.reportf(ectx, "Process %s: steps %d to %d", p.name, start, end)

	prevSession, prevProcess, prevCounts := ectx.Session, ectx.process, ectx.counts
	ectx.process, ectx.counts = p.name, nil
	defer func() { ectx.Session, ectx.process, ectx.counts = prevSession, prevProcess, prevCounts }()

	if ectx.DB != nil {
		sess, err := ectx.DB.Begin(ctx)
		if err != nil {
			p.finish(ectx, pctx, began, start, end, err)
			return nil, err
		}
		ectx.Session = sess
	}

	out, err := p.runSteps(ctx, ectx, pctx, start, end)
	if err != nil {
		if ectx.Session != nil {
			if rbErr := ectx.Session.Rollback(); rbErr != nil {
				logger.WithProcess(p.name).Warn("rollback failed",
					slog.String("error", rbErr.Error()),
				)
			}
		}
		p.finish(ectx, pctx, began, start, end, err)
		return nil, err
	}

	if ectx.Session != nil {
		if err := ectx.Session.Commit(); err != nil {
			p.finish(ectx, pctx, began, start, end, err)
			return nil, err
		}
	}

	p.finish(ectx, pctx, began, start, end, nil)
	return out, nil
}

func (p *Process) runSteps(ctx context.Context, ectx *Context, pctx logger.ProcessContext, start, end int) (any, error) {
	var data any
	for i := start; i <= end; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := p.steps[i-1]
		sctx := pctx
		sctx.Step = step.Name()
		sctx.StepIndex = i

		logger.LogStepStart(sctx)
		p.reportf(ectx, "Step %d/%d: %s", i, len(p.steps), step.Name())

		stepStart := time.Now()
		var out any
		var err error
		func() {
			if ectx.Report != nil {
				defer ectx.Report.Indent()()
			}
			out, err = step.Run(ctx, data, ectx)
		}()
		logger.LogStepEnd(sctx, time.Since(stepStart), err)

		if err != nil {
			logger.LogError("step failed", logger.ErrorContext{
				Process:   p.name,
				Step:      step.Name(),
				StepIndex: i,
				ErrorCode: errhandling.ProcessErrorCode(err),
				Err:       err,
				Duration:  time.Since(stepStart),
			})
			return nil, err
		}
		data = out
	}
	return data, nil
}

func (p *Process) finish(ectx *Context, pctx logger.ProcessContext, began time.Time, start, end int, err error) {
	duration := time.Since(began)
	logger.LogProcessEnd(pctx, duration, err)

	outcome := georef.ProcessOutcome{
		Status:   georef.StatusSuccess,
		Start:    start,
		End:      end,
		Duration: duration,
	}
	if err != nil {
		outcome.Status = georef.StatusError
		outcome.Error = err.Error()
	}

	if ectx.State != nil {
		if stErr := ectx.State.Record(p.name, pctx.RunID, outcome, ectx.counts); stErr != nil {
			logger.WithProcess(p.name).Warn("failed to record process state",
				slog.String("error", stErr.Error()),
			)
		}
	}

	if ectx.Report == nil {
		return
	}
	if err != nil {
		ectx.Report.Error("Process %s failed: %v", p.name, err)
	} else {
		ectx.Report.Info("Process %s completed in %s", p.name, duration.Round(time.Millisecond))
	}
	ectx.Report.SetOutcome(p.name, outcome)
}

func (p *Process) reportf(ectx *Context, format string, args ...any) {
	if ectx.Report != nil {
		ectx.Report.Info(format, args...)
	}
}
