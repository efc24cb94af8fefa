package injector

import (
	_ "embed"

	"github.com/jamesainslie/immutable/pkg/immutable/template"
)

//go:embed assets/loader.js
var loaderSource string

// DefaultLoader returns the built-in verifier/loader template.
func DefaultLoader() *template.Template {
	return template.New("loader.js", loaderSource)
}

// shellDocument is the generic page written at the public path of a
// hidden original.
const shellDocument = "<!DOCTYPE html><html><head></head><body></body></html>"
