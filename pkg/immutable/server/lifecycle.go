package server

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// ErrAlreadyRunning is returned when another server owns the state directory.
var ErrAlreadyRunning = errors.New("server already running")

// WritePIDFile writes the current process ID to path.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a process ID from path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsProcessRunning reports whether a process with pid exists.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// RecoverStale cleans up after a server that died without removing its
// PID file, including the cache store lock it held. It returns
// ErrAlreadyRunning when the recorded process is still alive.
func RecoverStale(pidPath, cacheDir string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return nil //nolint:nilerr // no PID file, nothing to recover
	}
	if pid == os.Getpid() {
		return nil
	}
	if IsProcessRunning(pid) {
		return ErrAlreadyRunning
	}

	logging.Get("server").Warn("cleaning up stale server files", "stale_pid", pid)
	_ = os.Remove(pidPath)
	if cacheDir != "" {
		_ = os.Remove(filepath.Join(cacheDir, "LOCK"))
	}
	return nil
}
