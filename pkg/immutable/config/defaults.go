// Package config provides configuration management for the immutable toolchain.
package config

import "time"

// Default configuration values.
const (
	// AppName names the config, data, state and cache directories.
	AppName = "immutable"

	// EnvPrefix prefixes environment overrides (IMMUTABLE_OUT_DIR, ...).
	EnvPrefix = "IMMUTABLE"

	// DefaultOutDir is the output tree built and served when none is given.
	DefaultOutDir = "out"

	// DefaultAlgorithm is the manifest digest encoding: the SRI form.
	DefaultAlgorithm = "sha256-base64"

	// DefaultHiddenPrefix names hidden originals.
	DefaultHiddenPrefix = "_hidden."

	// DefaultWebmanifest is the webapp manifest embedded in the loader.
	DefaultWebmanifest = "/manifest.json"

	// DefaultDebounce coalesces bursts of writes in watch mode.
	DefaultDebounce = 300 * time.Millisecond

	// DefaultAddr is the serve listen address.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultMirrorTimeout bounds each upstream request of the mirror.
	DefaultMirrorTimeout = 30 * time.Second

	// DefaultMirrorRefresh is the interval between deployment checks.
	DefaultMirrorRefresh = 5 * time.Minute

	// DefaultRetentionDays is the number of days build history is kept.
	DefaultRetentionDays = 90
)

// DefaultExclusions are excluded from the worker manifest by default:
// worker files of previous builds.
var DefaultExclusions = []string{
	"service_worker.*.js",
}
