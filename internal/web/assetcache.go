// Package web serves the app shell through a named, versioned asset cache.
// Install fills the current bucket, Activate drops every older bucket, and
// Handler answers GET requests cache-first with the network as fallback.
package web

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chefai/internal/metrics"
)

// Asset is one cached response.
type Asset struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Backend stores assets grouped in named buckets. Get reports a miss with
// ok == false and a nil error.
type Backend interface {
	Put(ctx context.Context, bucket string, asset Asset) error
	Get(ctx context.Context, bucket, path string) (asset *Asset, ok bool, err error)
	Buckets(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, bucket string) error
}

// Cache is the asset cache for one bucket name.
type Cache struct {
	name    string
	backend Backend
	log     *zap.Logger
	started time.Time
}

// NewCache creates a cache that installs into and serves from bucket name.
func NewCache(name string, backend Backend, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{name: name, backend: backend, log: log.Named("assets"), started: time.Now()}
}

// Name is the bucket this cache owns.
func (c *Cache) Name() string {
	return c.name
}

// Install stores every listed path from fsys in the bucket. "/" and paths
// ending in "/" resolve to their index.html. A missing asset fails the whole
// install.
func (c *Cache) Install(ctx context.Context, fsys fs.FS, paths []string) error {
	for _, p := range paths {
		name := strings.TrimPrefix(p, "/")
		if name == "" || strings.HasSuffix(name, "/") {
			name += "index.html"
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read asset %s: %w", p, err)
		}
		asset := Asset{Path: p, ContentType: contentType(name), Body: body}
		if err := c.backend.Put(ctx, c.name, asset); err != nil {
			return fmt.Errorf("failed to cache asset %s: %w", p, err)
		}
	}
	c.log.Info("assets installed", zap.String("bucket", c.name), zap.Int("count", len(paths)))
	return nil
}

// Activate deletes every bucket other than this cache's own.
func (c *Cache) Activate(ctx context.Context) error {
	buckets, err := c.backend.Buckets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list asset buckets: %w", err)
	}
	for _, b := range buckets {
		if b == c.name {
			continue
		}
		if err := c.backend.Drop(ctx, b); err != nil {
			return fmt.Errorf("failed to drop asset bucket %s: %w", b, err)
		}
		c.log.Info("stale asset bucket dropped", zap.String("bucket", b))
	}
	return nil
}

// Handler serves cached assets and passes everything else to next. API
// calls and requests aimed at Google hosts always go to next.
func (c *Cache) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypass(r) {
			metrics.AssetCacheTotal.WithLabelValues("bypass").Inc()
			next.ServeHTTP(w, r)
			return
		}

		asset, ok, err := c.backend.Get(r.Context(), c.name, r.URL.Path)
		if err != nil {
			c.log.Warn("asset cache lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		if !ok {
			metrics.AssetCacheTotal.WithLabelValues("miss").Inc()
			next.ServeHTTP(w, r)
			return
		}

		metrics.AssetCacheTotal.WithLabelValues("hit").Inc()
		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set("X-Cache", "hit")
		http.ServeContent(w, r, path.Base(asset.Path), c.started, bytes.NewReader(asset.Body))
	})
}

func bypass(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Host, "google") || strings.Contains(r.URL.Host, "google")
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps buckets in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Asset
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string]Asset)}
}

func (b *MemoryBackend) Put(ctx context.Context, bucket string, asset Asset) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.buckets[bucket]
	if !ok {
		m = make(map[string]Asset)
		b.buckets[bucket] = m
	}
	asset.Body = bytes.Clone(asset.Body)
	m[asset.Path] = asset
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, bucket, p string) (*Asset, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	asset, ok := b.buckets[bucket][p]
	if !ok {
		return nil, false, nil
	}
	return &asset, true, nil
}

func (b *MemoryBackend) Buckets(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.buckets))
	for name := range b.buckets {
		names = append(names, name)
	}
	return names, nil
}

func (b *MemoryBackend) Drop(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buckets, bucket)
	return nil
}
