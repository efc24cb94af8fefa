package digest

import "strings"

// Dummy is the fixed value that stands in for a document's embedded hash
// while that document is being hashed.
const Dummy = "DUMMY_HASH"

// htmlSpace is the HTML definition of whitespace.
const htmlSpace = " \t\n\f\r"

// Canonicalize normalizes a serialized HTML document so that formatting
// drift between serializers does not change its digest.
//
// Whitespace is removed, self-closing markers are folded until none remain,
// then ASCII letters are lowered. Only ASCII is folded so the result matches
// the in-page verifier byte for byte.
func Canonicalize(html string) string {
	var b strings.Builder
	b.Grow(len(html))
	for i := 0; i < len(html); i++ {
		if strings.IndexByte(htmlSpace, html[i]) < 0 {
			b.WriteByte(html[i])
		}
	}

	s := b.String()
	for strings.Contains(s, "/>") {
		s = strings.ReplaceAll(s, "/>", ">")
	}

	return lowerASCII(s)
}

// CanonicalHex returns the hex digest of the canonical form of html.
func CanonicalHex(html string) string {
	return Hex([]byte(Canonicalize(html)))
}

// DocumentHash returns the canonical digest of a document that embeds its own
// hash: every occurrence of embedded is replaced by Dummy before hashing.
func DocumentHash(html, embedded string) string {
	if embedded != "" {
		html = strings.ReplaceAll(html, embedded, Dummy)
	}
	return CanonicalHex(html)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
