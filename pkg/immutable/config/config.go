package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// BuildConfig configures the injector and the versioner.
type BuildConfig struct {
	Loader          string        `mapstructure:"loader" yaml:"loader"`
	Prototype       string        `mapstructure:"prototype" yaml:"prototype"`
	Webmanifest     string        `mapstructure:"webmanifest" yaml:"webmanifest"`
	Algorithm       string        `mapstructure:"algorithm" yaml:"algorithm"`
	HiddenOriginals bool          `mapstructure:"hidden_originals" yaml:"hidden_originals"`
	HiddenPrefix    string        `mapstructure:"hidden_prefix" yaml:"hidden_prefix"`
	CheckLoader     bool          `mapstructure:"check_loader" yaml:"check_loader"`
	SkipWorker      bool          `mapstructure:"skip_worker" yaml:"skip_worker"`
	Exclude         []string      `mapstructure:"exclude" yaml:"exclude"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	Debounce        time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	Production   bool   `mapstructure:"production" yaml:"production"`
	Parent       bool   `mapstructure:"parent" yaml:"parent"`
	ParentPolicy string `mapstructure:"parent_policy" yaml:"parent_policy"`
	PIDPath      string `mapstructure:"pid_path" yaml:"pid_path"`
}

// MirrorConfig configures the edge mirror.
type MirrorConfig struct {
	Upstream    string        `mapstructure:"upstream" yaml:"upstream"`
	Strict      bool          `mapstructure:"strict" yaml:"strict"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Refresh     time.Duration `mapstructure:"refresh" yaml:"refresh"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// CacheConfig locates the mirror's cache store.
type CacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HistoryConfig configures the build history log.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	OutDir  string        `mapstructure:"out_dir" yaml:"out_dir"`
	Build   BuildConfig   `mapstructure:"build" yaml:"build"`
	Serve   ServeConfig   `mapstructure:"serve" yaml:"serve"`
	Mirror  MirrorConfig  `mapstructure:"mirror" yaml:"mirror"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("out_dir", DefaultOutDir)

	v.SetDefault("build.loader", "")
	v.SetDefault("build.prototype", "")
	v.SetDefault("build.webmanifest", DefaultWebmanifest)
	v.SetDefault("build.algorithm", DefaultAlgorithm)
	v.SetDefault("build.hidden_originals", false)
	v.SetDefault("build.hidden_prefix", DefaultHiddenPrefix)
	v.SetDefault("build.check_loader", true)
	v.SetDefault("build.skip_worker", false)
	v.SetDefault("build.exclude", DefaultExclusions)
	v.SetDefault("build.concurrency", 0)
	v.SetDefault("build.debounce", DefaultDebounce)

	v.SetDefault("serve.addr", DefaultAddr)
	v.SetDefault("serve.production", false)
	v.SetDefault("serve.parent", false)
	v.SetDefault("serve.parent_policy", "")
	v.SetDefault("serve.pid_path", "") // Empty means DefaultPIDPath

	v.SetDefault("mirror.upstream", "")
	v.SetDefault("mirror.strict", true)
	v.SetDefault("mirror.timeout", DefaultMirrorTimeout)
	v.SetDefault("mirror.refresh", DefaultMirrorRefresh)
	v.SetDefault("mirror.concurrency", 0)

	v.SetDefault("cache.path", "") // Empty means DefaultCachePath

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "") // Empty means DefaultHistoryPath
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.components", map[string]string{
		"rpc":    "warn",
		"worker": "info",
	})
}

// Load reads configuration into v and returns it. file, when set, is the
// config file to read; otherwise config.yaml is looked up in ConfigDir.
// Environment variables are prefixed with IMMUTABLE_ (IMMUTABLE_SERVE_ADDR).
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.OutDir, &cfg.Build.Loader, &cfg.Build.Prototype, &cfg.Cache.Path, &cfg.History.Path, &cfg.Logging.Path, &cfg.Serve.PIDPath} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	if cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath()
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath()
	}
	if cfg.Serve.PIDPath == "" {
		cfg.Serve.PIDPath = DefaultPIDPath()
	}
	return &cfg, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/immutable.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/immutable for the cache store and PID file.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// StateDir returns $XDG_STATE_HOME/immutable for history and logs.
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// DefaultCachePath returns the default mirror cache store path.
func DefaultCachePath() string {
	return filepath.Join(DataDir(), "cache")
}

// DefaultHistoryPath returns the default build history directory.
func DefaultHistoryPath() string {
	return filepath.Join(StateDir(), "history")
}

// DefaultPIDPath returns the default serve PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "serve.pid")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// WriteDefault writes a commented default config file to path unless one
// exists. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# immutable configuration

# Output tree of the hosting build system
out_dir: %s

build:
  # Custom loader script (empty uses the embedded loader)
  loader: ""
  # Worker prototype (empty uses the service_worker.latest.js in the tree)
  prototype: ""
  # Webapp manifest embedded in the loader, relative to out_dir
  webmanifest: %s
  # Manifest digest encoding: sha256-hex or sha256-base64
  algorithm: %s
  # Move every page to a hidden original behind an empty shell
  hidden_originals: false
  hidden_prefix: %s
  # Compile the resolved loader to catch syntax errors at build time
  check_loader: true
  skip_worker: false
  # Globs excluded from the worker manifest
  exclude:
    - service_worker.*.js
  # Parallel workers (0 = number of CPUs)
  concurrency: 0
  # Watch mode debounce
  debounce: %s

serve:
  addr: %s
  # Immutable caching headers and embedding permission
  production: false
  # Run the reference embedding parent on /_immutable/rpc
  parent: false
  parent_policy: ""
  pid_path: ""

mirror:
  upstream: ""
  # Check every artifact against its manifest digest before caching it
  strict: true
  timeout: %s
  refresh: %s
  concurrency: 0

cache:
  # Empty means $XDG_DATA_HOME/immutable/cache
  path: ""

history:
  enabled: true
  # Empty means $XDG_STATE_HOME/immutable/history
  path: ""
  retention_days: %d

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means stderr only)
  path: ""
  components:
    rpc: warn
    worker: info
`, DefaultOutDir, DefaultWebmanifest, DefaultAlgorithm, DefaultHiddenPrefix, DefaultDebounce,
		DefaultAddr, DefaultMirrorTimeout, DefaultMirrorRefresh, DefaultRetentionDays)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write default config: %w", err)
	}
	return true, nil
}
