package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteTable renders s as an aligned text table.
func WriteTable(s *Summary, w io.Writer) {
	fmt.Fprintf(w, "=== Benchmark %s (run %s) ===\n", s.Name, s.RunID)
	fmt.Fprintf(w, "Duration: %s\n\n", s.Duration)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := []string{"Engine", "Test Cases", "Outcomes", "OK", "Timeout", "Error", "Exhausted", "p50", "p90", "p99", "Max"}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))

	for _, e := range s.Engines {
		row := []string{
			e.Engine,
			fmt.Sprint(e.TestCases),
			fmt.Sprint(e.Outcomes),
			fmt.Sprint(e.Succeeded),
			fmt.Sprint(e.Timeouts),
			fmt.Sprint(e.Errors),
			fmt.Sprint(e.Exhausted),
			latency(e, e.P50),
			latency(e, e.P90),
			latency(e, e.P99),
			latency(e, e.Max),
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()

	var failed []EngineSummary
	for _, e := range s.Engines {
		if e.Error != "" {
			failed = append(failed, e)
		}
	}
	if len(failed) == 0 {
		return
	}

	fmt.Fprintf(w, "\nEngine errors:\n")
	for _, e := range failed {
		fmt.Fprintf(w, "  %s: %s\n", e.Engine, e.Error)
	}
}

func latency(e EngineSummary, d time.Duration) string {
	if e.Succeeded == 0 {
		return "-"
	}
	return d.String()
}
