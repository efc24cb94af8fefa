package build

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// DefaultDebounce is how long the tree must stay quiet before a rebuild.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reruns a build whenever the output tree changes. Changes made by
// the build itself are discarded.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]bool
	mu       sync.Mutex
	closed   bool
	debounce time.Duration
}

// NewWatcher creates a Watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fsw,
		paths:    make(map[string]bool),
		debounce: debounce,
	}, nil
}

// Watch adds root and all its subdirectories. Symlinks are not followed.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		logging.Get("watcher").Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// Run blocks until ctx is cancelled, calling rebuild after every quiet
// period that follows a change. Rebuild errors are logged, not returned.
func (w *Watcher) Run(ctx context.Context, rebuild func(context.Context) error) {
	log := logging.Get("watcher")

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug("change", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)

		case <-timer.C:
			if err := rebuild(ctx); err != nil {
				log.Error("rebuild failed", "error", err)
			}
			w.settle(ctx)
		}
	}
}

// settle discards the events caused by a rebuild's own writes.
func (w *Watcher) settle(ctx context.Context) {
	quiet := time.NewTimer(w.debounce)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-quiet.C:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.relevant(event)
		case <-w.watcher.Errors:
		}
	}
}

// relevant tracks new directories and reports whether the event should
// trigger a rebuild.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = w.Watch(event.Name)
		}
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	return !strings.HasSuffix(event.Name, ".tmp")
}

// Close releases the underlying watches.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}
