package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// PlainFormatter writes an aligned table without styling, for scripts.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	if _, err := fmt.Fprintln(tw, "STATUS\tPATH\tDIGEST\tSIZE\tDETAIL"); err != nil {
		return err
	}
	for _, it := range r.Items {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", it.Status, it.Path, orDash(it.Digest), it.Size, it.Detail); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// PathsFormatter writes one path per line.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, it := range r.Items {
		w.WriteString(it.Path)
		w.WriteByte('\n')
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
	Register("paths", func() Formatter { return &PathsFormatter{} })
}

var (
	_ Formatter = (*PlainFormatter)(nil)
	_ Formatter = (*PathsFormatter)(nil)
)
