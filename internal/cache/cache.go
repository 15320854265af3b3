// Package cache is a namespaced, JSON-valued read cache in front of the
// store. It is never the source of truth: every failure degrades to a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/nova/internal/observe"
)

const (
	DefaultNamespace = "nova"
	DefaultTTL       = 5 * time.Minute
)

// Config selects and tunes the backend.
type Config struct {
	Enabled    bool
	Backend    string // "memory" or "redis"
	RedisURL   string
	Namespace  string
	DefaultTTL time.Duration
	Capacity   int
}

// Cache wraps a Backend with key derivation, JSON encoding and metrics.
type Cache struct {
	backend   Backend
	namespace string
	ttl       time.Duration
	obs       *observe.Observer
}

// Open builds the backend named in cfg and returns a Cache over it. A
// backend that cannot be reached leaves the cache in always-miss mode.
func Open(ctx context.Context, cfg Config, obs *observe.Observer) (*Cache, error) {
	if !cfg.Enabled {
		return New(ctx, nil, cfg, obs), nil
	}

	var b Backend
	switch cfg.Backend {
	case "", "memory":
		b = NewMemoryBackend(cfg.Capacity)
	case "redis":
		rb, err := NewRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b = rb
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
	return New(ctx, b, cfg, obs), nil
}

// New wraps an existing backend. A nil backend, or one that fails Ping,
// yields a disabled cache.
func New(ctx context.Context, b Backend, cfg Config, obs *observe.Observer) *Cache {
	if obs == nil {
		obs = observe.Discard()
	}
	c := &Cache{
		namespace: cfg.Namespace,
		ttl:       cfg.DefaultTTL,
		obs:       obs,
	}
	if c.namespace == "" {
		c.namespace = DefaultNamespace
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}

	if b != nil {
		if err := b.Ping(ctx); err != nil {
			obs.Log().Warn().Err(err).Msg("cache backend unreachable, caching disabled")
			_ = b.Close()
		} else {
			c.backend = b
		}
	}
	return c
}

// Enabled reports whether lookups can ever hit.
func (c *Cache) Enabled() bool {
	return c.backend != nil
}

// Key derives the full key for prefix and params. Params are sorted by name so
// the same logical request always maps to the same key.
func (c *Cache) Key(prefix string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(c.namespace)
	b.WriteByte(':')
	b.WriteString(prefix)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(escape(name))
		b.WriteByte('=')
		b.WriteString(escape(fmt.Sprint(params[name])))
	}
	return b.String()
}

// Join builds a multi-segment prefix, escaping each part.
func Join(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escape(p)
	}
	return strings.Join(escaped, ":")
}

var escaper = strings.NewReplacer("%", "%25", ":", "%3A", "=", "%3D")

func escape(s string) string {
	return escaper.Replace(s)
}

// Get decodes the value at key into dst. It reports false on a miss, a
// decode failure or a backend error.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	if c.backend == nil {
		c.obs.Metrics().CacheResult("miss")
		return false
	}

	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			c.obs.Metrics().CacheResult("miss")
		} else {
			c.obs.Metrics().CacheResult("error")
			c.obs.Log().Warn().Str("key", key).Err(err).Msg("cache get failed")
		}
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		c.obs.Metrics().CacheResult("error")
		c.obs.Log().Warn().Str("key", key).Err(err).Msg("cache entry undecodable")
		return false
	}
	c.obs.Metrics().CacheResult("hit")
	return true
}

// Set stores value under key. ttl <= 0 means the configured default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.backend == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.obs.Log().Warn().Str("key", key).Err(err).Msg("cache value not encodable")
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.obs.Log().Warn().Str("key", key).Err(err).Msg("cache set failed")
	}
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, key); err != nil {
		c.obs.Log().Warn().Str("key", key).Err(err).Msg("cache delete failed")
	}
}

// InvalidatePrefix removes the key equal to prefix and every key beneath it.
// "topics:u1" never touches "topics:u10".
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) int {
	if c.backend == nil {
		return 0
	}
	full := c.namespace + ":" + prefix

	removed := 0
	if _, err := c.backend.Get(ctx, full); err == nil {
		removed++
	}
	if err := c.backend.Delete(ctx, full); err != nil {
		c.obs.Log().Warn().Str("prefix", prefix).Err(err).Msg("cache invalidate failed")
	}

	n, err := c.backend.DeletePrefix(ctx, full+":")
	if err != nil {
		c.obs.Log().Warn().Str("prefix", prefix).Err(err).Msg("cache invalidate failed")
	}
	return removed + n
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// Fetch is cache-aside: return the cached value at key, or call load, cache
// its result and return it. Errors from load propagate; cache errors never do.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(ctx, key, v, ttl)
	return v, nil
}
