package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached is a cache-aside view over the records under one key prefix.
// Writes go to the store first and only then to the cache; a failed write
// invalidates the cached entry so the next read goes back to the store.
type Cached[T any] struct {
	store  Store
	prefix string
	cache  *expirable.LRU[string, T]

	// epoch counts writes; a miss only fills the cache when no write
	// landed while it was reading the store.
	mu    sync.Mutex
	epoch uint64
}

// NewCached creates a bounded cache over keys beginning with prefix.
// ttl of zero disables time-based expiry.
func NewCached[T any](s Store, prefix string, size int, ttl time.Duration) *Cached[T] {
	if size <= 0 {
		size = 1024
	}
	return &Cached[T]{
		store:  s,
		prefix: prefix,
		cache:  expirable.NewLRU[string, T](size, nil, ttl),
	}
}

// Key returns the full store key for id.
func (c *Cached[T]) Key(id string) string {
	return c.prefix + id
}

// Get returns the record for id, loading it from the store on a miss.
func (c *Cached[T]) Get(ctx context.Context, id string) (T, error) {
	if v, ok := c.cache.Get(id); ok {
		return v, nil
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	var zero T
	data, err := c.store.Get(ctx, c.Key(id))
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("decode record %q: %w", c.Key(id), err)
	}
	c.mu.Lock()
	if c.epoch == epoch {
		c.cache.Add(id, v)
	}
	c.mu.Unlock()
	return v, nil
}

// Load reads id from the store, bypassing the cache, and replaces the cached
// entry with what it found. Read-modify-write sequences start from Load so
// they never write back a copy another process has since changed.
func (c *Cached[T]) Load(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := c.store.Get(ctx, c.Key(id))
	if err != nil {
		if IsNotFound(err) {
			c.mu.Lock()
			c.epoch++
			c.cache.Remove(id)
			c.mu.Unlock()
		}
		return zero, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("decode record %q: %w", c.Key(id), err)
	}

	c.mu.Lock()
	c.epoch++
	c.cache.Add(id, v)
	c.mu.Unlock()
	return v, nil
}

// Put writes the record through to the store, then updates the cache.
func (c *Cached[T]) Put(ctx context.Context, id string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", c.Key(id), err)
	}
	err = c.store.Set(ctx, c.Key(id), data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if err != nil {
		c.cache.Remove(id)
		return err
	}
	c.cache.Add(id, v)
	return nil
}

// Delete removes the record from the store and the cache.
func (c *Cached[T]) Delete(ctx context.Context, id string) error {
	err := c.store.Delete(ctx, c.Key(id))

	c.mu.Lock()
	c.epoch++
	c.cache.Remove(id)
	c.mu.Unlock()
	return err
}

// Invalidate drops a cached entry without touching the store.
func (c *Cached[T]) Invalidate(id string) {
	c.cache.Remove(id)
}

// All reads every record under the prefix straight from the store.
// Undecodable records are skipped and reported in the returned count.
func (c *Cached[T]) All(ctx context.Context) (map[string]T, int, error) {
	entries, err := c.store.Scan(ctx, c.prefix)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string]T, len(entries))
	skipped := 0
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			skipped++
			continue
		}
		out[strings.TrimPrefix(e.Key, c.prefix)] = v
	}
	return out, skipped, nil
}

// Refresh rebuilds the cache from the store. Called once at startup.
func (c *Cached[T]) Refresh(ctx context.Context) (int, error) {
	records, _, err := c.All(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.cache.Purge()
	for id, v := range records {
		c.cache.Add(id, v)
	}
	return len(records), nil
}

// Len returns the number of cached entries.
func (c *Cached[T]) Len() int {
	return c.cache.Len()
}
