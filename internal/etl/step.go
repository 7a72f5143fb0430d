package etl

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// Step is the atomic composable unit of a pipeline.
type Step interface {
	// Name identifies the step in logs and report data.
	Name() string

	// ReadsInput reports whether the step consumes the previous step's output.
	// Steps that manufacture their own input (a download from a fixed URL)
	// return false and may start a Process run.
	ReadsInput() bool

	// Run executes the step.
	Run(ctx context.Context, input any, ectx *Context) (any, error)
}

// StepFunc is the body of a leaf step.
type StepFunc func(ctx context.Context, input any, ectx *Context) (any, error)

// Func adapts a function into a Step.
type Func struct {
	name       string
	readsInput bool
	fn         StepFunc
}

var _ Step = (*Func)(nil)

// NewFunc creates a leaf step.
func NewFunc(name string, readsInput bool, fn StepFunc) *Func {
	return &Func{name: name, readsInput: readsInput, fn: fn}
}

// Name returns the step name.
func (f *Func) Name() string { return f.name }

// ReadsInput reports whether the step consumes its input.
func (f *Func) ReadsInput() bool { return f.readsInput }

// Run calls the step function.
func (f *Func) Run(ctx context.Context, input any, ectx *Context) (any, error) {
	return f.fn(ctx, input, ectx)
}

// runChild runs a nested step with debug logging.
func runChild(ctx context.Context, parent string, s Step, input any, ectx *Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.Run(ctx, input, ectx)
	log := logger.WithStep(ectx.process, s.Name()).With(
		slog.String("parent", parent),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil {
		log.Debug("sub-step failed", slog.String("error", err.Error()))
		return nil, err
	}
	log.Debug("sub-step completed")
	return out, nil
}

// ============================
// CompositeStep
// ============================

// CompositeStep runs its sub-steps against one shared input, or against one
// positional element each when the input is a slice of matching length.
// Sub-steps run sequentially; the output is the slice of their outputs.
type CompositeStep struct {
	name  string
	steps []Step
}

var _ Step = (*CompositeStep)(nil)

// NewCompositeStep creates a CompositeStep.
func NewCompositeStep(name string, steps ...Step) *CompositeStep {
	return &CompositeStep{name: name, steps: steps}
}

// Name returns the step name.
func (c *CompositeStep) Name() string { return c.name }

// Steps returns the sub-steps.
func (c *CompositeStep) Steps() []Step { return c.steps }

// ReadsInput is true if any sub-step reads input.
func (c *CompositeStep) ReadsInput() bool {
	for _, s := range c.steps {
		if s.ReadsInput() {
			return true
		}
	}
	return false
}

// Run executes every sub-step in order.
func (c *CompositeStep) Run(ctx context.Context, input any, ectx *Context) (any, error) {
	inputs, positional := spread(input, len(c.steps))

	results := make([]any, len(c.steps))
	for i, s := range c.steps {
		in := input
		if positional {
			in = inputs[i]
		}
		out, err := runChild(ctx, c.name, s, in, ectx)
		if err != nil {
			return nil, err
		}
		results[i] = out
	}
	return results, nil
}

// spread splits a slice input of length n into its elements.
// Byte slices and strings are scalar values, never spread.
func spread(input any, n int) ([]any, bool) {
	if input == nil {
		return nil, false
	}
	if list, ok := input.([]any); ok {
		return list, len(list) == n
	}
	if _, ok := input.([]byte); ok {
		return nil, false
	}

	v := reflect.ValueOf(input)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() != n {
		return nil, false
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

// ============================
// StepSequence
// ============================

// StepSequence threads one value through its sub-steps in order.
type StepSequence struct {
	name  string
	steps []Step
}

var _ Step = (*StepSequence)(nil)

// NewStepSequence creates a StepSequence.
func NewStepSequence(name string, steps ...Step) *StepSequence {
	return &StepSequence{name: name, steps: steps}
}

// Name returns the step name.
func (s *StepSequence) Name() string { return s.name }

// Steps returns the sub-steps.
func (s *StepSequence) Steps() []Step { return s.steps }

// ReadsInput equals the first sub-step's ReadsInput.
func (s *StepSequence) ReadsInput() bool {
	if len(s.steps) == 0 {
		return false
	}
	return s.steps[0].ReadsInput()
}

// Run threads input through every sub-step.
func (s *StepSequence) Run(ctx context.Context, input any, ectx *Context) (any, error) {
	data := input
	for i, step := range s.steps {
		out, err := runChild(ctx, s.name, step, data, ectx)
		if err != nil {
			return nil, fmt.Errorf("%s step %d: %w", s.name, i+1, err)
		}
		data = out
	}
	return data, nil
}
