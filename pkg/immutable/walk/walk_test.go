package walk_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/immutable/pkg/immutable/walk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestWalkSortedRootRelative(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":             "<html></html>",
		"_next/static/app.js":    "app",
		"_next/static/style.css": "css",
		"about/index.html":       "about",
	})

	files, err := walk.Walk(context.Background(), walk.Options{Root: root})
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
		assert.True(t, strings.HasPrefix(f.Path, "/"))
		assert.FileExists(t, f.Abs)
	}

	assert.Equal(t, []string{
		"/_next/static/app.js",
		"/_next/static/style.css",
		"/about/index.html",
		"/index.html",
	}, paths)
	assert.Equal(t, int64(3), files[0].Size)
}

func TestWalkSkipPrunesDirectories(t *testing.T) {
	root := writeTree(t, map[string]string{
		"keep.txt":        "k",
		"drop/a.txt":      "a",
		"drop/deep/b.txt": "b",
		"skip.map":        "m",
	})

	files, err := walk.Walk(context.Background(), walk.Options{
		Root: root,
		Skip: func(rel string, isDir bool) bool {
			return (isDir && rel == "/drop") || strings.HasSuffix(rel, ".map")
		},
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/keep.txt", files[0].Path)
}

func TestWalkRejectsMissingRoot(t *testing.T) {
	_, err := walk.Walk(context.Background(), walk.Options{Root: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	_, err = walk.Walk(context.Background(), walk.Options{})
	assert.Error(t, err)
}

func TestWalkHonorsCancellation(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := walk.Walk(ctx, walk.Options{Root: root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAbsCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), walk.Abs(root, "/../../etc/passwd"))
	assert.Equal(t, filepath.Join(root, "a", "b.js"), walk.Abs(root, "a/b.js"))
}
