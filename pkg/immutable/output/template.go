package output

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFormatter renders a result through a user supplied text/template.
// Besides the Result fields the template sees TotalSize, Ok and Failed.
type TemplateFormatter struct {
	mu   sync.Mutex
	tmpl *template.Template
}

type templateView struct {
	*Result
	TotalSize int64
	Ok        int
	Failed    int
}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
	"bytes":  func(n int64) string { return humanize.IBytes(uint64(n)) },
	"short":  shorten,
	"failed": func(it Item) bool { return it.Status == StatusFailed },
}

// NewTemplateFormatter parses text into a formatter.
func NewTemplateFormatter(text string) (*TemplateFormatter, error) {
	f := &TemplateFormatter{}
	if err := f.SetTemplate(text); err != nil {
		return nil, err
	}
	return f, nil
}

// SetTemplate parses text and, on success, replaces the current template.
func (f *TemplateFormatter) SetTemplate(text string) error {
	tmpl, err := template.New("output").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return fmt.Errorf("parse output template: %w", err)
	}
	f.mu.Lock()
	f.tmpl = tmpl
	f.mu.Unlock()
	return nil
}

// Format implements Formatter.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	f.mu.Lock()
	tmpl := f.tmpl
	f.mu.Unlock()

	return tmpl.Execute(w, templateView{
		Result:    r,
		TotalSize: r.TotalSize(),
		Ok:        r.Count(StatusOK),
		Failed:    r.Count(StatusFailed),
	})
}

const defaultTemplate = "{{range .Items}}{{.Status}}\t{{.Path}}\t{{.Digest}}\n{{end}}"

func init() {
	Register("template", func() Formatter {
		f, err := NewTemplateFormatter(defaultTemplate)
		if err != nil {
			panic(err)
		}
		return f
	})
}

var _ Formatter = (*TemplateFormatter)(nil)
