package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/versioner"
)

type mapFetcher struct {
	mu      sync.Mutex
	files   map[string]string
	fetched []string
}

func (f *mapFetcher) Fetch(_ context.Context, path string) (*Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, path)
	body, ok := f.files[path]
	if !ok {
		return nil, &StatusError{URL: path, Status: http.StatusNotFound}
	}
	return &Resource{Body: []byte(body), ContentType: "text/plain"}, nil
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestActivationReplacesPreviousGeneration(t *testing.T) {
	store := openStore(t)
	_, err := store.Put("old", "/old.js", "h0", "text/javascript", []byte("old()"))
	require.NoError(t, err)

	fetcher := &mapFetcher{files: map[string]string{
		"/a.js":   "a()",
		"/b.css":  "b{}",
		"/c.html": "not listed",
	}}
	m := manifest.Manifest{{Path: "/a.js", Digest: "h1"}, {Path: "/b.css", Digest: "h2"}}
	gen := NewGeneration(store, GenerationOptions{Version: "new", Manifest: m, Fetcher: fetcher})
	mgr := NewManager(gen, true)

	require.NoError(t, mgr.Install(context.Background()))
	assert.True(t, mgr.SkipWaiting())
	require.NoError(t, mgr.Activate(context.Background()))
	assert.Equal(t, Activated, mgr.Phase())

	entries, err := store.Entries("new")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/a.js", entries[0].Path)
	assert.Equal(t, "h1", entries[0].Digest)
	assert.Equal(t, "/b.css", entries[1].Path)
	assert.Equal(t, "h2", entries[1].Digest)

	gens, err := store.Generations()
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "new", gens[0].Version)

	old, _, err := store.Get("old", "/old.js")
	require.NoError(t, err)
	assert.Nil(t, old)

	bodies, err := store.Bodies()
	require.NoError(t, err)
	assert.Equal(t, 2, bodies)

	assert.ElementsMatch(t, []string{"/a.js", "/b.css"}, fetcher.fetched)
}

func TestFetchServesCachedAndFallsThrough(t *testing.T) {
	store := openStore(t)
	fetcher := &mapFetcher{files: map[string]string{
		"/index.html":      "<p>home</p>",
		"/docs/index.html": "<p>docs</p>",
		"/about.html":      "<p>about</p>",
	}}
	m := manifest.Manifest{
		{Path: "/about.html", Digest: "x"},
		{Path: "/docs/index.html", Digest: "y"},
		{Path: "/index.html", Digest: "z"},
	}
	mgr := NewManager(NewGeneration(store, GenerationOptions{Version: "v1", Manifest: m, Fetcher: fetcher}), true)

	resp, err := mgr.Fetch(context.Background(), "/index.html")
	require.NoError(t, err)
	assert.Nil(t, resp, "nothing is served before activation")

	require.NoError(t, mgr.Install(context.Background()))
	require.NoError(t, mgr.Activate(context.Background()))

	for path, want := range map[string]string{
		"/":           "<p>home</p>",
		"/docs/":      "<p>docs</p>",
		"/docs":       "<p>docs</p>",
		"/about":      "<p>about</p>",
		"/about.html": "<p>about</p>",
	} {
		resp, err := mgr.Fetch(context.Background(), path)
		require.NoError(t, err, path)
		require.NotNil(t, resp, path)
		assert.Equal(t, want, string(resp.Body), path)
		assert.Equal(t, "v1", resp.Version)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	}

	resp, err = mgr.Fetch(context.Background(), "/api/data")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDevelopmentBypassesCache(t *testing.T) {
	store := openStore(t)
	fetcher := &mapFetcher{files: map[string]string{"/a.js": "a()"}}
	m := manifest.Manifest{{Path: "/a.js", Digest: "h1"}}
	mgr := NewManager(NewGeneration(store, GenerationOptions{Version: "v1", Manifest: m, Fetcher: fetcher}), false)

	require.NoError(t, mgr.Install(context.Background()))
	require.NoError(t, mgr.Activate(context.Background()))

	resp, err := mgr.Fetch(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Empty(t, fetcher.fetched)
}

func TestActivateRequiresInstall(t *testing.T) {
	mgr := NewManager(NewGeneration(openStore(t), GenerationOptions{Version: "v1"}), true)
	assert.ErrorIs(t, mgr.Activate(context.Background()), ErrNotInstalled)
}

func TestMissingArtifactFailsActivation(t *testing.T) {
	store := openStore(t)
	fetcher := &mapFetcher{files: map[string]string{"/a.js": "a()"}}
	m := manifest.Manifest{{Path: "/a.js", Digest: "h1"}, {Path: "/gone.js", Digest: "h2"}}
	mgr := NewManager(NewGeneration(store, GenerationOptions{Version: "v1", Manifest: m, Fetcher: fetcher}), true)

	require.NoError(t, mgr.Install(context.Background()))
	err := mgr.Activate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheInconsistency)

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Status)
	assert.Equal(t, Installed, mgr.Phase())
}

func TestStrictModeRejectsTamperedBody(t *testing.T) {
	store := openStore(t)
	fetcher := &mapFetcher{files: map[string]string{"/a.js": "tampered()"}}
	m := manifest.Manifest{{Path: "/a.js", Digest: digest.Hex([]byte("a()"))}}

	gen := NewGeneration(store, GenerationOptions{Version: "v1", Manifest: m, Fetcher: fetcher, Strict: true})
	err := gen.Precache(context.Background())
	assert.ErrorIs(t, err, ErrCacheInconsistency)

	fetcher.files["/a.js"] = "a()"
	require.NoError(t, gen.Precache(context.Background()))
	assert.Equal(t, 1, gen.Stored())
}

func TestIdenticalBodiesAreStoredOnce(t *testing.T) {
	store := openStore(t)
	_, err := store.Put("v1", "/a.js", "h", "text/javascript", []byte("same"))
	require.NoError(t, err)
	_, err = store.Put("v2", "/b.js", "h", "text/javascript", []byte("same"))
	require.NoError(t, err)

	bodies, err := store.Bodies()
	require.NoError(t, err)
	assert.Equal(t, 1, bodies)

	removed, err := store.Evict("v2")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, body, err := store.Get("v2", "/b.js")
	require.NoError(t, err)
	assert.Equal(t, "same", string(body))
}

func TestHTTPFetcherSniffsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("a{}"))
		case "/page":
			w.Header()["Content-Type"] = nil
			_, _ = w.Write([]byte("<!DOCTYPE html><html><body>x</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", time.Second)
	assert.Equal(t, srv.URL, f.Base())

	res, err := f.Fetch(context.Background(), "/typed.css")
	require.NoError(t, err)
	assert.Equal(t, "text/css", res.ContentType)

	res, err = f.Fetch(context.Background(), "/page")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ContentType, "text/html"), res.ContentType)

	_, err = f.Fetch(context.Background(), "/missing")
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusNotFound, status.Status)
}

func TestDiscoverReadsDeployedWorker(t *testing.T) {
	src := `const FILES = [["/a.js","h1"],["/b.css","h2"]];`
	fetcher := &mapFetcher{files: map[string]string{"/" + manifest.WorkerLatest: src}}

	dep, err := Discover(context.Background(), fetcher)
	require.NoError(t, err)
	assert.Equal(t, versioner.Version([]byte(src)), dep.Version)
	assert.Equal(t, []string{"/a.js", "/b.css"}, dep.Manifest.Paths())
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"/index.html"}, Candidates("/"))
	assert.Equal(t, []string{"/index.html"}, Candidates(""))
	assert.Equal(t, []string{"/x", "/x.html", "/x/index.html"}, Candidates("x"))
}
