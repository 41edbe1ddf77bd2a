package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":    {Data: []byte("<html>shell</html>")},
		"manifest.json": {Data: []byte(`{"name":"x"}`)},
		"app.js":        {Data: []byte("console.log(1)")},
	}
}

// network records what reached the fallback handler.
type network struct {
	paths []string
}

func (n *network) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.paths = append(n.paths, r.URL.Path)
	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("network"))
}

func TestCache_InstallAndServe(t *testing.T) {
	ctx := context.Background()
	cache := NewCache("v2", NewMemoryBackend(), nil)
	assert.Equal(t, "v2", cache.Name())
	require.NoError(t, cache.Install(ctx, testFS(), []string{"/", "/index.html", "/manifest.json", "/app.js"}))

	next := &network{}
	h := cache.Handler(next)

	tests := []struct {
		path        string
		wantBody    string
		contentType string
	}{
		{"/", "<html>shell</html>", "text/html"},
		{"/index.html", "<html>shell</html>", "text/html"},
		{"/manifest.json", `{"name":"x"}`, "application/json"},
		{"/app.js", "console.log(1)", "javascript"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantBody, rr.Body.String())
			assert.Contains(t, rr.Header().Get("Content-Type"), tt.contentType)
			assert.Equal(t, "hit", rr.Header().Get("X-Cache"))
		})
	}
	assert.Empty(t, next.paths)
}

func TestCache_FallsBackToNetwork(t *testing.T) {
	ctx := context.Background()
	cache := NewCache("v2", NewMemoryBackend(), nil)
	require.NoError(t, cache.Install(ctx, testFS(), []string{"/index.html"}))

	next := &network{}
	h := cache.Handler(next)

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/missing.css", nil),
		httptest.NewRequest(http.MethodGet, "/api/sessions/1", nil),
		httptest.NewRequest(http.MethodPost, "/index.html", nil),
		httptest.NewRequest(http.MethodGet, "https://generativelanguage.googleapis.com/index.html", nil),
	}
	for _, req := range requests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusTeapot, rr.Code, req.URL.String())
	}
	assert.Equal(t, []string{"/missing.css", "/api/sessions/1", "/index.html", "/index.html"}, next.paths)
}

func TestCache_InstallMissingAsset(t *testing.T) {
	cache := NewCache("v2", NewMemoryBackend(), nil)
	err := cache.Install(context.Background(), testFS(), []string{"/sw.js"})
	assert.Error(t, err)
}

func TestCache_ActivateDropsOtherBuckets(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	old := NewCache("chef-ai-v1", backend, nil)
	require.NoError(t, old.Install(ctx, testFS(), []string{"/index.html"}))

	cur := NewCache("chef-ai-v2", backend, nil)
	require.NoError(t, cur.Install(ctx, testFS(), []string{"/index.html"}))
	require.NoError(t, cur.Activate(ctx))

	buckets, err := backend.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chef-ai-v2"}, buckets)

	_, ok, err := backend.Get(ctx, "chef-ai-v1", "/index.html")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShell_InstallsEveryAsset(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	cache := NewCache(CacheName, backend, nil)
	require.NoError(t, cache.Install(ctx, Shell(), ShellAssets))

	for _, p := range ShellAssets {
		asset, ok, err := backend.Get(ctx, CacheName, p)
		require.NoError(t, err)
		require.True(t, ok, p)
		assert.NotEmpty(t, asset.Body, p)
	}

	sw, _, err := backend.Get(ctx, CacheName, "/sw.js")
	require.NoError(t, err)
	assert.Contains(t, string(sw.Body), CacheName, "service worker bucket matches the server bucket")
}

func TestRedisBackend_Unreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	backend := NewRedisBackendFromClient(rdb)
	defer backend.Close()
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, "v2", "/index.html")
	assert.Error(t, err)
	assert.False(t, ok)

	// A broken backend degrades the cache to the network handler.
	cache := NewCache("v2", backend, nil)
	next := &network{}
	rr := httptest.NewRecorder()
	cache.Handler(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, []string{"/app.js"}, next.paths)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("CHEFAI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHEFAI_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	backend, err := NewRedisBackend(ctx, addr, "", 0)
	require.NoError(t, err)
	defer backend.Close()

	bucket := "chefai-test-bucket"
	t.Cleanup(func() { _ = backend.Drop(context.Background(), bucket) })

	require.NoError(t, backend.Put(ctx, bucket, Asset{Path: "/a.js", ContentType: "text/javascript", Body: []byte("a")}))

	asset, ok, err := backend.Get(ctx, bucket, "/a.js")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), asset.Body)
	assert.Equal(t, "text/javascript", asset.ContentType)

	_, ok, err = backend.Get(ctx, bucket, "/missing.js")
	require.NoError(t, err)
	assert.False(t, ok)

	buckets, err := backend.Buckets(ctx)
	require.NoError(t, err)
	assert.Contains(t, buckets, bucket)

	require.NoError(t, backend.Drop(ctx, bucket))
	_, ok, err = backend.Get(ctx, bucket, "/a.js")
	require.NoError(t, err)
	assert.False(t, ok)
}
