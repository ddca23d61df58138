package strata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for caching query result sets.
// Users should implement this interface with their preferred caching
// solution (e.g., Redis, Memcached, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// MemCache is a process-local Cache backed by a map. Expired entries are
// dropped lazily on read.
type MemCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemCache returns an empty in-memory cache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]memEntry)}
}

// Get implements Cache.
func (c *MemCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	return e.value, nil
}

// Set implements Cache.
func (c *MemCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Delete implements Cache.
func (c *MemCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Clear implements Cache.
func (c *MemCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memEntry)
	return nil
}

// cacheKey derives a stable key from the compiled form of a spec.
func cacheKey(spec *QuerySpec) string {
	var sb strings.Builder
	sb.WriteString(spec.Table)
	sb.WriteString(":query:")
	query, args := compileSpec("cache", spec)
	sb.WriteString(query)
	fmt.Fprintf(&sb, "%v", args)
	return sb.String()
}

// cacheFetch returns a decoded row set on hit. Cache failures are
// treated as misses so a broken cache never breaks reads.
func cacheFetch(ctx context.Context, c Cache, key string) ([]map[string]any, bool) {
	raw, err := c.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, false
	}
	var rows []map[string]any
	if err := msgpack.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// cacheStore encodes and stores a row set, best effort.
func cacheStore(ctx context.Context, c Cache, key string, rows []map[string]any, ttl time.Duration) {
	enc := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			// UUIDs round-trip as text; hydration parses them back.
			if u, ok := v.(uuid.UUID); ok {
				m[k] = u.String()
				continue
			}
			m[k] = v
		}
		enc[i] = m
	}
	raw, err := msgpack.Marshal(enc)
	if err != nil {
		return
	}
	_ = c.Set(ctx, key, raw, ttl)
}
