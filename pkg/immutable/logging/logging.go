// Package logging provides component loggers for the immutable toolchain.
// The CLI, the edge mirror and the reference parent all share it.
//
// Basic usage:
//
//	if err := logging.Init(logging.Config{Level: "info", Console: true}); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Close()
//
//	logger := logging.Get("injector")
//	logger.Info("page injected", "path", "/index.html")
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is an optional log file. Empty disables file output.
	Path string

	// Components maps component names to their log levels.
	Components map[string]string

	// Console enables stderr output.
	Console bool
}

// Logger wraps charmbracelet/log with component identification.
// The underlying charm logger is swapped atomically when Init runs again.
type Logger struct {
	out       atomic.Pointer[log.Logger]
	component string
}

func newLogger(component string, out *log.Logger) *Logger {
	l := &Logger{component: component}
	l.out.Store(out)
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.out.Load().Debug(msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.out.Load().Info(msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) { l.out.Load().Warn(msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.out.Load().Error(msg, args...) }

// With returns a new logger with additional context.
// The returned logger is not rebound by a later Init.
func (l *Logger) With(args ...interface{}) *Logger {
	return newLogger(l.component, l.out.Load().With(args...))
}

// Component returns the component name the logger was created for.
func (l *Logger) Component() string { return l.component }

type state struct {
	mu          sync.RWMutex
	initialized bool
	file        *os.File
	writer      io.Writer
	level       Level
	components  map[string]Level
	loggers     map[string]*Logger
}

var globalState = &state{
	loggers:    make(map[string]*Logger),
	components: make(map[string]Level),
	writer:     io.Discard,
}

// Init initializes the logging system with the given configuration.
// Before Init is called, all loggers write to io.Discard.
// Loggers handed out earlier are rebound in place.
func Init(cfg Config) error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	var writers []io.Writer
	var file *os.File
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, file)
	}
	if cfg.Console {
		writers = append(writers, os.Stderr)
	}

	if globalState.file != nil {
		_ = globalState.file.Close()
	}

	globalState.file = file
	globalState.level = level
	globalState.components = components
	switch len(writers) {
	case 0:
		globalState.writer = io.Discard
	case 1:
		globalState.writer = writers[0]
	default:
		globalState.writer = io.MultiWriter(writers...)
	}
	globalState.initialized = true

	for component, logger := range globalState.loggers {
		logger.out.Store(newCharm(component))
	}

	return nil
}

// Get returns the logger for the given component, creating it on first use.
func Get(component string) *Logger {
	globalState.mu.RLock()
	if logger, ok := globalState.loggers[component]; ok {
		globalState.mu.RUnlock()
		return logger
	}
	globalState.mu.RUnlock()

	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if logger, ok := globalState.loggers[component]; ok {
		return logger
	}

	logger := newLogger(component, newCharm(component))
	globalState.loggers[component] = logger
	return logger
}

// newCharm builds the charm logger for a component.
// Must be called with globalState.mu held.
func newCharm(component string) *log.Logger {
	level := globalState.level
	if lvl, ok := globalState.components[component]; ok {
		level = lvl
	}

	return log.NewWithOptions(globalState.writer, log.Options{
		Level:           level.charm(),
		ReportTimestamp: globalState.initialized,
		TimeFormat:      time.TimeOnly,
		Prefix:          component,
	})
}

// Close flushes and closes the log file and resets loggers to io.Discard.
func Close() error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	var err error
	if globalState.file != nil {
		if cerr := globalState.file.Close(); cerr != nil {
			err = fmt.Errorf("closing log file: %w", cerr)
		}
		globalState.file = nil
	}

	globalState.initialized = false
	globalState.writer = io.Discard
	globalState.level = LevelInfo
	globalState.components = make(map[string]Level)
	for component, logger := range globalState.loggers {
		logger.out.Store(newCharm(component))
	}

	return err
}

// DefaultLogPath returns the default log file path ($XDG_STATE_HOME/immutable/immutable.log).
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "immutable", "immutable.log")
}
