package etl

import (
	"context"
	"fmt"
)

// RunOptions selects the step range of every process run.
// Zero values mean "from the first step" and "to the last step".
type RunOptions struct {
	Start int
	End   int
}

// RunResult is the outcome of one process within RunProcesses.
type RunResult struct {
	Process string
	Output  any
	Err     error
}

// RunProcesses runs processes one after another. A failed process does not
// stop the following ones: each Process is an independent unit of recovery.
func RunProcesses(ctx context.Context, ectx *Context, processes []*Process, opts RunOptions) []RunResult {
	results := make([]RunResult, 0, len(processes))
	for _, p := range processes {
		if err := ctx.Err(); err != nil {
			results = append(results, RunResult{Process: p.Name(), Err: err})
			continue
		}

		start, end := opts.Start, opts.End
		if start == 0 {
			start = 1
		}
		if end == 0 {
			end = p.Len()
		}

		out, err := p.Run(ctx, ectx, start, end)
		results = append(results, RunResult{Process: p.Name(), Output: out, Err: err})
	}
	return results
}

// FirstError returns the first failed result as an error, or nil.
func FirstError(results []RunResult) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("process %s: %w", r.Process, r.Err)
		}
	}
	return nil
}
