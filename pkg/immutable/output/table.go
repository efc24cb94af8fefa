package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

var tableColumns = []string{"STATUS", "PATH", "DIGEST", "SIZE", "DETAIL"}

func itemRow(it Item) []string {
	return []string{string(it.Status), it.Path, it.Digest, strconv.FormatInt(it.Size, 10), it.Detail}
}

// CSVFormatter writes RFC 4180 comma separated values.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tableColumns); err != nil {
		return err
	}
	for _, it := range r.Items {
		if err := writer.Write(itemRow(it)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// MarkdownFormatter writes a GitHub flavored Markdown table.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Result) error {
	fmt.Fprintf(w, "| %s |\n", strings.Join(tableColumns, " | "))
	w.WriteString(strings.Repeat("|---", len(tableColumns)) + "|\n")
	for _, it := range r.Items {
		row := itemRow(it)
		for i := range row {
			row[i] = strings.ReplaceAll(row[i], "|", `\|`)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(row, " | "))
	}
	return nil
}

func init() {
	Register("csv", func() Formatter { return &CSVFormatter{} })
	Register("markdown", func() Formatter { return &MarkdownFormatter{} })
}

var (
	_ Formatter = (*CSVFormatter)(nil)
	_ Formatter = (*MarkdownFormatter)(nil)
)
