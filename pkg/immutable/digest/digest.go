package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Algorithm names the encoding a digest is stored in.
type Algorithm string

const (
	// SHA256Hex is a bare lowercase hex SHA-256 digest.
	SHA256Hex Algorithm = "sha256-hex"
	// SHA256Base64 is an SRI style "sha256-<base64>" digest.
	SHA256Base64 Algorithm = "sha256-base64"
)

// sriPrefix prefixes base64 digests in integrity attributes.
const sriPrefix = "sha256-"

// ErrInvalidDigest is returned when a digest string cannot be decoded.
var ErrInvalidDigest = errors.New("invalid digest")

// ParseAlgorithm parses an algorithm name. "hex" and "base64" are accepted as shorthands.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case string(SHA256Hex), "hex":
		return SHA256Hex, nil
	case string(SHA256Base64), "base64", "sri", "":
		return SHA256Base64, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm: %q", s)
	}
}

// Sum returns the raw SHA-256 of b.
func Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// Hex returns the lowercase hex SHA-256 of b.
func Hex(b []byte) string {
	return hex.EncodeToString(Sum(b))
}

// Base64 returns the standard base64 SHA-256 of b.
func Base64(b []byte) string {
	return base64.StdEncoding.EncodeToString(Sum(b))
}

// SRI returns the integrity attribute value for b ("sha256-<base64>").
func SRI(b []byte) string {
	return sriPrefix + Base64(b)
}

// Source returns the CSP source expression for b ("'sha256-<base64>'").
func Source(b []byte) string {
	return "'" + SRI(b) + "'"
}

// Compute returns the digest of b in the given encoding.
func Compute(alg Algorithm, b []byte) string {
	if alg == SHA256Hex {
		return Hex(b)
	}
	return SRI(b)
}

// Decode returns the raw SHA-256 carried by a digest string and the
// encoding it was written in. Both forms produced by Compute are accepted.
func Decode(d string) ([]byte, Algorithm, error) {
	if rest, ok := strings.CutPrefix(d, sriPrefix); ok {
		sum, err := base64.StdEncoding.DecodeString(rest)
		if err != nil || len(sum) != sha256.Size {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidDigest, d)
		}
		return sum, SHA256Base64, nil
	}

	sum, err := hex.DecodeString(d)
	if err != nil || len(sum) != sha256.Size {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidDigest, d)
	}
	return sum, SHA256Hex, nil
}

// Matches reports whether b hashes to the digest d, whatever its encoding.
func Matches(d string, b []byte) bool {
	sum, _, err := Decode(d)
	if err != nil {
		return false
	}
	got := sha256.Sum256(b)
	return string(sum) == string(got[:])
}
