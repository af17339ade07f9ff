// Package cache provides the process-lifetime post cache.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/postfs/internal/metrics"
	"github.com/fruitsalade/postfs/pkg/models"
	"github.com/fruitsalade/postfs/pkg/protocol"
)

// Fetcher is the part of the catalog client the cache needs.
type Fetcher interface {
	FetchOne(ctx context.Context, id int64) (*protocol.RawPost, error)
	FetchVariant(ctx context.Context, url string) ([]byte, error)
}

// Cache holds one Post per ID. Entries are never evicted.
type Cache struct {
	fetcher Fetcher

	mu      sync.RWMutex
	entries map[int64]*models.Post

	posts singleflight.Group
	blobs singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a new cache backed by fetcher.
func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		entries: make(map[int64]*models.Post),
	}
}

// Get returns the cached post without fetching.
func (c *Cache) Get(id int64) (*models.Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

// GetOrFetch returns the cached post for id, fetching it on first use.
// Concurrent misses for the same id share one fetch, which is not tied to
// any single caller's cancellation.
func (c *Cache) GetOrFetch(ctx context.Context, id int64) (*models.Post, error) {
	if p, ok := c.Get(id); ok {
		c.hits.Add(1)
		metrics.RecordCacheLookup(true)
		return p, nil
	}
	c.misses.Add(1)
	metrics.RecordCacheLookup(false)

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.posts.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		if p, ok := c.Get(id); ok {
			return p, nil
		}
		raw, err := c.fetcher.FetchOne(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		return c.insert(raw, models.NewFromFetch), nil
	})
	v, err := wait(ctx, ch)
	if err != nil {
		return nil, err
	}
	return v.(*models.Post), nil
}

// Reconcile merges a fetched page into the cache. Known ids are updated in
// place; the returned slice holds the cached instances in input order.
func (c *Cache) Reconcile(raws []*protocol.RawPost) []*models.Post {
	out := make([]*models.Post, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		out = append(out, c.insert(raw, models.NewFromPage))
	}
	return out
}

// insert updates the existing entry for raw.ID or stores a new one built by
// build. Must be called without the lock held.
func (c *Cache) insert(raw *protocol.RawPost, build func(*protocol.RawPost) *models.Post) *models.Post {
	c.mu.Lock()
	if existing, ok := c.entries[raw.ID]; ok {
		c.mu.Unlock()
		existing.Update(raw)
		return existing
	}
	p := build(raw)
	c.entries[raw.ID] = p
	n := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheObjects(n)
	return p
}

// Variant returns the bytes of the given rendition of p, downloading them
// at most once per post.
func (c *Cache) Variant(ctx context.Context, p *models.Post, v models.Variant, url string) ([]byte, error) {
	if b, ok := p.Blob(v); ok {
		return b, nil
	}

	key := fmt.Sprintf("%d/%s", p.ID, v)
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.blobs.DoChan(key, func() (interface{}, error) {
		if b, ok := p.Blob(v); ok {
			return b, nil
		}
		data, err := c.fetcher.FetchVariant(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		return p.SetBlob(v, data), nil
	})
	res, err := wait(ctx, ch)
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// wait returns the shared result of a collapsed fetch, or ctx's error if
// the caller gives up first. The fetch itself keeps running for the other
// waiters.
func wait(ctx context.Context, ch <-chan singleflight.Result) (interface{}, error) {
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns cache statistics.
func (c *Cache) Stats() (count int, hits, misses int64) {
	c.mu.RLock()
	count = len(c.entries)
	c.mu.RUnlock()
	return count, c.hits.Load(), c.misses.Load()
}

// IsCached returns true if the post is cached.
func (c *Cache) IsCached(id int64) bool {
	_, ok := c.Get(id)
	return ok
}
