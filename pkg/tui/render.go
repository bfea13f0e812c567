// Package tui renders samples and transfers for the terminal.
// Simple, streaming output: no full-screen interface.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(white).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// MaxCellWidth bounds how wide a rendered value may get.
const MaxCellWidth = 32

// PrintHeader prints the program banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  SUBMITD")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Source sampling for address and parcel data"))
	fmt.Fprintln(w)
}

// PrintSample prints the summary lines and record table of a sample.
func PrintSample(w io.Writer, res *sample.Result, elapsed time.Duration) {
	fmt.Fprintln(w, successStyle.Render("✓ ")+titleStyle.Render(res.Data))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Protocol:"), res.Protocol)
	conform := res.Conform.Type
	if res.Conform.CSVSplit != "" {
		conform += fmt.Sprintf(" (split %q)", res.Conform.CSVSplit)
	}
	if res.Conform.File != "" {
		conform += " from " + res.Conform.File
	}
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Conform:"), conform)
	fmt.Fprintf(w, "  %s %d fields, %d records %s\n",
		mutedStyle.Render("Sample:"),
		len(res.Fields), len(res.Records),
		mutedStyle.Render("("+formatDuration(elapsed)+")"))

	if len(res.Fields) > 0 {
		fmt.Fprintln(w, RecordTable(res))
	}
	fmt.Fprintln(w)
}

// RecordTable renders fields as columns and records as rows.
func RecordTable(res *sample.Result) string {
	rows := make([][]string, 0, len(res.Records))
	for _, rec := range res.Records {
		row := make([]string, len(res.Fields))
		for i, f := range res.Fields {
			if v, ok := rec.Get(f); ok && !v.IsNull() {
				row[i] = truncate(v.Text(), MaxCellWidth)
			}
		}
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(res.Fields...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

// PrintError prints a failed sample.
func PrintError(w io.Writer, source string, err error) {
	fmt.Fprintln(w, accentStyle.Render("✗ ")+titleStyle.Render(source))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(errors.KindOf(err).String()+":"), err.Error())
	fmt.Fprintln(w)
}

// PrintSummary prints the totals of a batch of samples.
func PrintSummary(w io.Writer, ok, failed int, elapsed time.Duration) {
	status := successStyle.Render(fmt.Sprintf("%d sampled", ok))
	if failed > 0 {
		status += mutedStyle.Render(", ") + accentStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	fmt.Fprintf(w, "  %s %s\n", status, mutedStyle.Render("in "+formatDuration(elapsed)))
}

// PrintDownload prints the outcome of a download.
func PrintDownload(w io.Writer, name, output string, n int64, elapsed time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ DOWNLOAD COMPLETE"))
	fmt.Fprintf(w, "  %s %s → %s\n", mutedStyle.Render("File:"), name, output)
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Size:"),
		titleStyle.Render(formatBytes(n)),
		mutedStyle.Render("("+formatDuration(elapsed)+")"))
}

// ShowTransfer creates a byte progress bar. A negative total shows a
// spinner instead of a bar.
func ShowTransfer(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
