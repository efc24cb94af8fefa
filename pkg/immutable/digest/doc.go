// Package digest holds the pure hashing helpers shared by the build pipeline,
// the runtime verifier and the cache manager.
//
// Two encodings of SHA-256 are used: lowercase hex for equality checks
// (canonical page digests, worker manifests in hex mode, content versions)
// and base64 with an algorithm prefix for Subresource-Integrity attributes
// and CSP source expressions.
package digest
