// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/genome-harvester/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJobSummary outputs a human-readable summary of a finished job.
func (p *Printer) PrintJobSummary(snap types.Snapshot) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Job:       %s\n", snap.ID))
	sb.WriteString(fmt.Sprintf("Mode:      %s\n", snap.Mode))
	sb.WriteString(fmt.Sprintf("Status:    %s\n", snap.Status))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Targets:   %d\n", snap.Progress.Total))
	sb.WriteString(fmt.Sprintf("Completed: %d\n", snap.Progress.Completed))
	sb.WriteString(fmt.Sprintf("Errored:   %d\n", snap.Progress.Errored))
	if !snap.UpdatedAt.IsZero() && !snap.SubmittedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Elapsed:   %s", snap.UpdatedAt.Sub(snap.SubmittedAt).Round(10*time.Millisecond)))
	}

	p.printBox("HARVEST JOB", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRecords outputs the leading harvested records with their organisms
// and assembly provenance.
func (p *Printer) PrintRecords(results *types.JobResults) {
	if results == nil || len(results.Results) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Harvested %d records:\n\n", len(results.Results)))

	count := min(len(results.Results), maxItemsToShow)
	for i := 0; i < count; i++ {
		rec := results.Results[i]
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, rec.Accession))
		organism := rec.Organism
		if len(organism) > 45 {
			organism = organism[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("    %s\n", organism))
		if rec.Assembly != nil {
			sb.WriteString(fmt.Sprintf("    Assembly: %s", rec.Assembly.Accession))
			if rec.Assembly.Level != "" {
				sb.WriteString(fmt.Sprintf(" (%s)", rec.Assembly.Level))
			}
			sb.WriteString("\n")
		}
		if rec.Incomplete {
			sb.WriteString("    ⚠ multi-sequence assembly, primary record only\n")
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(results.Results) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more records", len(results.Results)-maxItemsToShow))
	}

	p.printBox("HARVESTED RECORDS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintItemErrors outputs any per-item failures found.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintItemErrors(results *types.JobResults) {
	if results == nil || len(results.Errors) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "✅ NO ITEM FAILURES")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d failed items:\n\n", len(results.Errors)))

	for i, itemErr := range results.Errors {
		reason := itemErr.Reason
		if len(reason) > 45 {
			reason = reason[:42] + "..."
		}
		identifier := itemErr.Identifier
		if identifier == "" {
			identifier = "(job)"
		}
		sb.WriteString(fmt.Sprintf("⚠ %s\n", identifier))
		sb.WriteString(fmt.Sprintf("  %s\n", reason))
		if i < len(results.Errors)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("ITEM FAILURES", strings.TrimSuffix(sb.String(), "\n"))
}
