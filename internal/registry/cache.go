package registry

import (
	"context"
	"sync"

	"github.com/agentpack-labs/agentpack/internal/constraint"
	"github.com/agentpack-labs/agentpack/internal/manifest"
)

// defaultCacheEntries bounds each memo map in a CachingClient.
const defaultCacheEntries = 256

// CachingClient memoizes responses of an underlying Client. It is an
// explicit, bounded, invalidatable cache owned by whoever constructs it,
// typically for the duration of one resolution session.
type CachingClient struct {
	inner Client
	max   int

	mu        sync.Mutex
	manifests map[string]*manifest.Manifest
	bundles   map[string]map[string][]byte
}

// NewCachingClient wraps inner with a memo of at most maxEntries per map.
// maxEntries <= 0 selects the default bound.
func NewCachingClient(inner Client, maxEntries int) *CachingClient {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &CachingClient{
		inner:     inner,
		max:       maxEntries,
		manifests: make(map[string]*manifest.Manifest),
		bundles:   make(map[string]map[string][]byte),
	}
}

func (c *CachingClient) FetchManifest(ctx context.Context, name string, rng *constraint.Range) (*manifest.Manifest, error) {
	key := name + "|" + rng.String()

	c.mu.Lock()
	if m, ok := c.manifests[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := c.inner.FetchManifest(ctx, name, rng)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.manifests) >= c.max {
		evictOne(c.manifests)
	}
	c.manifests[key] = m
	c.mu.Unlock()
	return m, nil
}

func (c *CachingClient) FetchBundle(ctx context.Context, name, version string) (map[string][]byte, error) {
	key := name + "@" + version

	c.mu.Lock()
	if b, ok := c.bundles[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b, err := c.inner.FetchBundle(ctx, name, version)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.bundles) >= c.max {
		evictOne(c.bundles)
	}
	c.bundles[key] = b
	c.mu.Unlock()
	return b, nil
}

// Invalidate drops all memoized responses.
func (c *CachingClient) Invalidate() {
	c.mu.Lock()
	c.manifests = make(map[string]*manifest.Manifest)
	c.bundles = make(map[string]map[string][]byte)
	c.mu.Unlock()
}

// evictOne removes an arbitrary entry to stay within the bound.
func evictOne[V any](m map[string]V) {
	for k := range m {
		delete(m, k)
		return
	}
}
