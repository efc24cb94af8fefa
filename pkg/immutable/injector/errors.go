package injector

import (
	"errors"
	"fmt"
)

// ErrUnpinnable is returned for an external script the build cannot digest.
var ErrUnpinnable = errors.New("script cannot be pinned")

// ErrLoaderSyntax is returned when the resolved loader does not compile.
var ErrLoaderSyntax = errors.New("loader does not compile")

// ScriptError reports a script element that could not be digested.
type ScriptError struct {
	Page string
	Src  string
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: script %q: %v", e.Page, e.Src, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }
