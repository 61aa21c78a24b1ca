package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Report summarizes a simulation run. Partial reports come from cancelled
// or failed runs and omit the database-side verification counts.
type Report struct {
	Partial         bool
	Duration        time.Duration
	Processed       int64
	Approved        int64
	Rejected        int64
	ApprovalPercent float64
	TPS             float64
	MeanMS          float64
	SkippedRows     int64

	// Database-side verification counts (final reports only).
	DBTotal    int64
	DBApproved int64
	DBRejected int64
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// Render writes the summary block, delimited by lines of '='.
func (r *Report) Render(w io.Writer) {
	rule := strings.Repeat("=", 64)

	title := "SIMULATION COMPLETE"
	if r.Partial {
		title = "SIMULATION INTERRUPTED (partial results)"
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, headerStyle.Render(title))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Claims processed:  %d\n", r.Processed)
	fmt.Fprintf(w, "Approved:          %d (%.1f%%)\n", r.Approved, r.ApprovalPercent)
	fmt.Fprintf(w, "Rejected:          %d\n", r.Rejected)
	fmt.Fprintf(w, "Overall TPS:       %.1f\n", r.TPS)
	fmt.Fprintf(w, "Mean processing:   %.2f ms\n", r.MeanMS)
	if r.SkippedRows > 0 {
		fmt.Fprintf(w, "Rows skipped:      %d (parse warnings)\n", r.SkippedRows)
	}
	if !r.Partial {
		fmt.Fprintf(w, "DB claims total:   %d\n", r.DBTotal)
		fmt.Fprintf(w, "DB approved:       %d\n", r.DBApproved)
		fmt.Fprintf(w, "DB rejected:       %d\n", r.DBRejected)
	}
	fmt.Fprintln(w, rule)
}
