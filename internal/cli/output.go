package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/persistence"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
	"github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// PrintRunResults displays the outcome of every process of a run,
// followed by the extraction counts when verbose.
func PrintRunResults(w io.Writer, rep *report.Report, results []etl.RunResult, reportPath string, opts OutputOptions) {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(w, "✗ %s failed\n", res.Process)
			if code := errhandling.ProcessErrorCode(res.Err); code != "" {
				fmt.Fprintf(w, "  Code: %s\n", code)
			}
			fmt.Fprintf(w, "  Error: %v\n", res.Err)
			continue
		}
		if opts.Quiet {
			continue
		}
		line := fmt.Sprintf("✓ %s", res.Process)
		if rep != nil {
			if o, ok := rep.Outcome(res.Process); ok {
				line += fmt.Sprintf(" (%s)", o.Duration.Round(time.Millisecond))
			}
		}
		fmt.Fprintln(w, line)
		if opts.Verbose && rep != nil {
			printExtraction(w, rep, res.Process)
		}
	}

	if opts.Quiet && failed == 0 {
		return
	}
	fmt.Fprintf(w, "\n%d processes, %d failed\n", len(results), failed)
	if rep != nil {
		fmt.Fprintf(w, "Warnings: %d, errors: %d\n", rep.Warnings(), rep.Errors())
	}
	if reportPath != "" {
		fmt.Fprintf(w, "Report: %s\n", reportPath)
	}
}

func printExtraction(w io.Writer, rep *report.Report, process string) {
	data, ok := rep.Data(process + "_extraction")
	if !ok {
		return
	}
	r, ok := data.(georef.ExtractionReport)
	if !ok {
		return
	}
	fmt.Fprintf(w, "  New: %d, updated: %d, deleted: %d, rejected: %d\n",
		r.NewCount(), r.UpdatedCount(), r.DeletedCount(), r.ErrorCount())
}

// PrintProcessList prints process names with their step names.
func PrintProcessList(w io.Writer, processes []*etl.Process, verbose bool) {
	for _, p := range processes {
		fmt.Fprintln(w, p.Name())
		if !verbose {
			continue
		}
		for i, s := range p.Steps() {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s.Name())
		}
	}
}

// PrintStatus prints the persisted state of processes as a table.
func PrintStatus(w io.Writer, states []*persistence.State) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No process has run yet")
		return
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Process < states[j].Process })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESS\tSTATUS\tLAST RUN\tLAST SUCCESS\tREPORT")
	for _, st := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			st.Process, st.Status, formatTime(&st.LastRun), formatTime(st.LastSuccess), orDash(st.ReportPath))
	}
	_ = tw.Flush()

	for _, st := range states {
		if st.Error != "" {
			fmt.Fprintf(w, "\n%s: %s\n", st.Process, st.Error)
		}
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
