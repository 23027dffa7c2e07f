package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/rflorenc/oafctl/internal/models"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")

	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)

	markers = map[models.Level]lipgloss.Style{
		models.LevelOK:   lipgloss.NewStyle().SetString("✓").Foreground(colorSuccess),
		models.LevelWarn: lipgloss.NewStyle().SetString("⚠").Foreground(colorWarning),
		models.LevelFail: lipgloss.NewStyle().SetString("✗").Foreground(colorError),
		models.LevelInfo: lipgloss.NewStyle().SetString("•").Foreground(colorMuted),
	}
)

// plainMarkers are used in the run record, which must not carry ANSI codes.
var plainMarkers = map[models.Level]string{
	models.LevelOK:      "✓",
	models.LevelWarn:    "⚠",
	models.LevelFail:    "✗",
	models.LevelInfo:    "•",
	models.LevelHeading: "==",
}

// terminalPrinter writes one styled line per event to w and records the
// plain line on run. It is safe for concurrent use.
func terminalPrinter(w io.Writer, run *models.Run) models.Printer {
	var mu sync.Mutex
	return func(level models.Level, line string) {
		mu.Lock()
		defer mu.Unlock()
		if run != nil {
			run.AppendLog(plainMarkers[level] + " " + line)
		}
		if level == models.LevelHeading {
			fmt.Fprintf(w, "\n%s\n", headingStyle.Render("=== "+line+" ==="))
			return
		}
		fmt.Fprintf(w, "  %s %s\n", markers[level].String(), line)
	}
}

// renderSummary prints the per-class counts followed by the identifiers that
// failed or remain.
func renderSummary(w io.Writer, report *models.Report) {
	fmt.Fprintf(w, "\n%s\n", headingStyle.Render("=== Summary ==="))
	for _, c := range report.Classes {
		marker := markers[models.LevelOK]
		if c.Warning() {
			marker = markers[models.LevelWarn]
		}

		if c.Cleared != nil {
			state := "cleared"
			if c.DryRun {
				state = "skipped (dry run)"
			} else if !*c.Cleared {
				state = "not cleared"
			}
			fmt.Fprintf(w, "  %s %-16s %s\n", marker.String(), c.Label, state)
			continue
		}

		remaining := fmt.Sprintf("%d", c.Remaining)
		if c.Remaining < 0 {
			remaining = "unknown"
		}
		fmt.Fprintf(w, "  %s %-16s found %d, deleted %d, failed %d, remaining %s\n",
			marker.String(), c.Label, c.Found, c.Deleted, c.Failed, remaining)
		if len(c.FailedIDs) > 0 {
			fmt.Fprintf(w, "      %s %s\n", mutedStyle.Render("failed:"), strings.Join(c.FailedIDs, ", "))
		}
		if len(c.RemainingIDs) > 0 {
			fmt.Fprintf(w, "      %s %s\n", mutedStyle.Render("remaining:"), strings.Join(c.RemainingIDs, ", "))
		}
		if c.ListError != "" {
			fmt.Fprintf(w, "      %s %s\n", mutedStyle.Render("list error:"), c.ListError)
		} else if c.VerifyError != "" {
			fmt.Fprintf(w, "      %s %s\n", mutedStyle.Render("verify error:"), c.VerifyError)
		}
	}

	found, deleted, failed, remaining := report.Totals()
	fmt.Fprintf(w, "\n  Total: found %d, deleted %d, failed %d, remaining %d\n", found, deleted, failed, remaining)
	if report.Warnings() {
		fmt.Fprintf(w, "  %s Completed with warnings\n", markers[models.LevelWarn].String())
		return
	}
	fmt.Fprintf(w, "  %s Completed\n", markers[models.LevelOK].String())
}
