package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// digestWidth is how much of a digest the styled table shows.
const digestWidth = 16

// PrettyFormatter renders a styled summary for terminals.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.header(r))
	w.WriteString("\n")
	w.WriteString(f.table(r))
	w.WriteString(f.footer(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) header(r *Result) string {
	lines := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render(titleCase(r.Operation)+":"), ValueStyle.Render(r.Source)),
	}
	if r.Version != "" {
		lines = append(lines, fmt.Sprintf("%s %s", LabelStyle.Render("Version:"), DigestStyle.Render(r.Version)))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) table(r *Result) string {
	if len(r.Items) == 0 {
		return MutedStyle.Render("  Nothing to show\n")
	}

	pathWidth := len("PATH")
	for _, it := range r.Items {
		pathWidth = max(pathWidth, len(it.Path))
	}
	statusWidth := len(StatusSkipped)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("STATUS", statusWidth)),
		TableHeaderStyle.Render(padRight("PATH", pathWidth)),
		TableHeaderStyle.Render(padRight("DIGEST", digestWidth)),
		TableHeaderStyle.Render("DETAIL")))

	for _, it := range r.Items {
		detail := it.Detail
		if it.Size > 0 {
			detail = strings.TrimSpace(humanize.IBytes(uint64(it.Size)) + "  " + detail)
		}
		if !it.Time.IsZero() {
			detail = humanize.Time(it.Time) + "  " + detail
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			statusStyle(it.Status).Render(padRight(string(it.Status), statusWidth)),
			ValueStyle.Render(padRight(it.Path, pathWidth)),
			DigestStyle.Render(padRight(shorten(it.Digest, digestWidth), digestWidth)),
			MutedStyle.Render(detail)))
	}
	return sb.String()
}

func (f *PrettyFormatter) footer(r *Result) string {
	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Items:"), ValueStyle.Render(fmt.Sprintf("%d", len(r.Items)))),
	}
	if total := r.TotalSize(); total > 0 {
		parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Total:"), ValueStyle.Render(humanize.IBytes(uint64(total)))))
	}
	if r.Failures > 0 {
		parts = append(parts, ErrorStyle.Bold(true).Render(fmt.Sprintf("%d failed", r.Failures)))
	} else {
		parts = append(parts, SuccessStyle.Render("no failures"))
	}
	if r.Duration > 0 {
		parts = append(parts, MutedStyle.Render(formatDuration(r.Duration)))
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func shorten(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width]
}

func titleCase(s string) string {
	if s == "" {
		return "Source"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatDuration renders d at a precision that suits its magnitude.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case sec < 1:
		return fmt.Sprintf("%.0fms", sec*1000)
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, int(sec)%60)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

var _ Formatter = (*PrettyFormatter)(nil)
