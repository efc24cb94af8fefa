package build_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jamesainslie/immutable/pkg/immutable/build"
	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/injector"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prototype = `const files=new Map(FILES);`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestRunInjectsThenVersions(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":               "<html><head></head><body><script src=\"/app.js\"></script></body></html>",
		"app.js":                   "run()",
		"service_worker.latest.js": prototype,
	})

	report, err := build.Run(context.Background(), build.Options{Root: root})
	require.NoError(t, err)
	require.Len(t, report.Pages, 1)
	require.NotNil(t, report.Worker)
	assert.Equal(t, 1, report.Injected())

	// The manifest covers the injected bytes, not the originals.
	injected, err := os.ReadFile(filepath.Join(root, "index.html"))
	require.NoError(t, err)
	d, ok := report.Worker.Manifest.Lookup("/index.html")
	require.True(t, ok)
	assert.Equal(t, digest.SRI(injected), d)

	latest, err := os.ReadFile(filepath.Join(root, manifest.WorkerLatest))
	require.NoError(t, err)
	embedded, err := manifest.Extract(latest)
	require.NoError(t, err)
	assert.Equal(t, report.Worker.Manifest, embedded)
}

func TestRunWithHiddenOriginals(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html": "<p>original</p>",
		"about.html": "<p>about</p>",
		"style.css":  "body{}",
	})

	report, err := build.Run(context.Background(), build.Options{
		Root:       root,
		Injector:   injectorWithHidden(),
		SkipWorker: true,
	})
	require.NoError(t, err)
	require.Len(t, report.Pages, 2)
	assert.Nil(t, report.Worker)

	m, err := manifest.Build(context.Background(), manifest.Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"/style.css"}, m.Paths())
}

func TestWatcherRebuildsOnChange(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "a"})

	w, err := build.NewWatcher(50 * time.Millisecond)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(root))

	var builds atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(context.Context) error {
			builds.Add(1)
			// A write made by the build itself must not loop.
			return os.WriteFile(filepath.Join(root, "out.txt"), []byte(time.Now().String()), 0o644)
		})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed"), 0o644))

	require.Eventually(t, func() bool { return builds.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), builds.Load())

	cancel()
	<-done
}

func injectorWithHidden() injector.Options {
	return injector.Options{HiddenOriginals: true}
}
