// Package document parses and serializes HTML documents in the form the
// canonical digest is computed over: "<!DOCTYPE html>" followed by the
// rendered html element.
package document

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Doctype prefixes every serialization.
const Doctype = "<!DOCTYPE html>"

// LoaderMarker is the attribute that flags an injected loader element.
const LoaderMarker = "data-immutable"

// ErrNoHTMLElement is returned when a tree has no html element.
var ErrNoHTMLElement = errors.New("document has no html element")

// Parse parses a document. Missing html, head and body elements are
// supplied the way a browser does.
func Parse(b []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(b))
}

// Serialize renders the document element of root behind the doctype, the
// way the in-page loader serializes the live DOM.
func Serialize(root *html.Node) (string, error) {
	el := Element(root)
	if el == nil {
		return "", ErrNoHTMLElement
	}

	var buf strings.Builder
	buf.WriteString(Doctype)
	render(&buf, el)
	return buf.String(), nil
}

// Element returns the html element of a parsed document.
func Element(root *html.Node) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return c
		}
	}
	return nil
}

// Normalize parses and re-serializes a document.
func Normalize(b []byte) (string, error) {
	root, err := Parse(b)
	if err != nil {
		return "", err
	}
	return Serialize(root)
}
