package output

import (
	"bytes"
	"encoding/json"
	"time"
)

// document is the structure the json and yaml formatters encode.
type document struct {
	Items []Item `json:"items" yaml:"items"`
	Meta  meta   `json:"meta" yaml:"meta"`
}

type meta struct {
	Operation string   `json:"operation" yaml:"operation"`
	Source    string   `json:"source" yaml:"source"`
	Version   string   `json:"version,omitempty" yaml:"version,omitempty"`
	Count     int      `json:"count" yaml:"count"`
	TotalSize int64    `json:"total_size" yaml:"total_size"`
	Failures  int      `json:"failures" yaml:"failures"`
	Duration  string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Warnings  []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newDocument(r *Result) document {
	items := r.Items
	if items == nil {
		items = []Item{}
	}
	return document{
		Items: items,
		Meta: meta{
			Operation: r.Operation,
			Source:    r.Source,
			Version:   r.Version,
			Count:     len(r.Items),
			TotalSize: r.TotalSize(),
			Failures:  r.Failures,
			Duration:  durationString(r.Duration),
			Warnings:  r.Warnings,
		},
	}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// JSONFormatter writes one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newDocument(r))
}

// JSONLFormatter writes one compact JSON object per item.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, it := range r.Items {
		data, err := json.Marshal(it)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("jsonl", func() Formatter { return &JSONLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
)
