package report

import (
	"fmt"
	"strings"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

const lineWidth = 68

// Render formats a report for terminal output: a header box, the
// overall result banner, and numbered detail lines for everything that
// did not pass.
func Render(report domain.Report) string {
	var lines []string

	lines = append(lines, "")
	lines = append(lines, "╔"+strings.Repeat("═", lineWidth)+"╗")
	lines = append(lines, "║"+strings.Repeat(" ", lineWidth)+"║")
	lines = append(lines, "║"+center("API TEST RUN REPORT", lineWidth)+"║")
	lines = append(lines, "║"+strings.Repeat(" ", lineWidth)+"║")
	lines = append(lines, "╚"+strings.Repeat("═", lineWidth)+"╝")
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Run:          %s", report.RunID))
	lines = append(lines, fmt.Sprintf("Generated at: %s", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	lines = append(lines, fmt.Sprintf("Cases:        %d pass, %d fail, %d error, %d skipped",
		report.Totals.Pass, report.Totals.Fail, report.Totals.Error, report.Totals.Skipped))
	lines = append(lines, "")

	failed := report.Totals.Fail + report.Totals.Error
	if failed == 0 {
		lines = append(lines, "┌"+strings.Repeat("─", lineWidth)+"┐")
		lines = append(lines, "│  "+pad("✓ ALL EXECUTED CASES PASSED", lineWidth-2)+"│")
		lines = append(lines, "└"+strings.Repeat("─", lineWidth)+"┘")
	} else {
		lines = append(lines, "┌"+strings.Repeat("─", lineWidth)+"┐")
		lines = append(lines, "│  "+pad(fmt.Sprintf("✗ %d CASE(S) DID NOT PASS", failed), lineWidth-2)+"│")
		lines = append(lines, "└"+strings.Repeat("─", lineWidth)+"┘")
		lines = append(lines, "")
		lines = append(lines, "Failures and errors:")
		lines = append(lines, strings.Repeat("─", lineWidth+2))
		i := 0
		for _, c := range report.Cases {
			if c.Verdict != domain.VerdictFail && c.Verdict != domain.VerdictError {
				continue
			}
			i++
			lines = append(lines, fmt.Sprintf("%d. [%s] %s %s: %s", i, c.Verdict, c.CaseID, c.EndpointRef, c.Detail))
		}
	}

	if report.Totals.Skipped > 0 {
		lines = append(lines, "")
		lines = append(lines, "Skipped cases:")
		lines = append(lines, strings.Repeat("─", lineWidth+2))
		i := 0
		for _, c := range report.Cases {
			if c.Verdict != domain.VerdictSkipped {
				continue
			}
			i++
			lines = append(lines, fmt.Sprintf("%d. %s: %s", i, c.CaseID, c.Detail))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

func pad(s string, width int) string {
	if len([]rune(s)) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len([]rune(s)))
}
