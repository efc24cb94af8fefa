package loader

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/document"
)

// ErrIntegrityMismatch is the sentinel matched by every IntegrityError.
var ErrIntegrityMismatch = errors.New("integrity mismatch")

// ErrNoEmbeddedHash is returned by Verify for a document without a loader hash.
var ErrNoEmbeddedHash = errors.New("no embedded hash found")

// IntegrityError reports a live document whose canonical digest differs
// from the one embedded at build time.
type IntegrityError struct {
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("invalid hash: expected %s but computed %s", e.Expected, e.Computed)
}

// Is makes errors.Is(err, ErrIntegrityMismatch) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrityMismatch
}

// CheckIntegrity recomputes the canonical digest of a serialized live
// document with expected replaced by the dummy, and compares.
func CheckIntegrity(serialized, expected string) error {
	computed := digest.DocumentHash(serialized, expected)
	if computed != expected {
		return &IntegrityError{Expected: expected, Computed: computed}
	}
	return nil
}

var hexHashRe = regexp.MustCompile(`[0-9a-f]{64}`)

// Verify checks a built document offline: it parses and re-serializes it
// the way a browser would, finds the hash its loader carries and checks it.
// It returns the verified hash.
func Verify(src []byte) (string, error) {
	root, err := document.Parse(src)
	if err != nil {
		return "", err
	}
	serialized, err := document.Serialize(root)
	if err != nil {
		return "", err
	}

	script := loaderScript(root)
	if script.Length() == 0 {
		return "", ErrNoEmbeddedHash
	}

	var mismatch error
	for _, candidate := range hexHashRe.FindAllString(script.Text(), -1) {
		err := CheckIntegrity(serialized, candidate)
		if err == nil {
			return candidate, nil
		}
		if mismatch == nil {
			mismatch = err
		}
	}
	if mismatch == nil {
		return "", ErrNoEmbeddedHash
	}
	return "", mismatch
}

// EmbeddedSource returns the CSP source ("sha256-...") of the loader a
// built document carries: the value an embedding parent pins as the
// frame's own source.
func EmbeddedSource(src []byte) (string, error) {
	root, err := document.Parse(src)
	if err != nil {
		return "", err
	}
	script := loaderScript(root)
	if script.Length() == 0 {
		return "", ErrNoEmbeddedHash
	}
	return digest.SRI([]byte(script.Text())), nil
}

func loaderScript(root *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(root).Find("script[" + document.LoaderMarker + "]").First()
}
