// Package cache provides the computed-field cache layer: a key/value store
// with TTL, single-key delete and prefix delete, wrapped so that backend
// failures degrade to cache misses instead of failing the mutation or read
// that triggered them.
//
// The cache carries a correctness contract, not just a performance one: an
// entry that is present must be correct, so every mutation path deletes the
// entries it could have invalidated. An unavailable backend only costs
// recomputation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Backend is the minimal contract a cache store must satisfy.
// Implementations: Memory (tests, single-process) and Redis (production).
type Backend interface {
	// Get returns the stored bytes and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. Zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys; missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// DelPattern removes every key with the given prefix.
	DelPattern(ctx context.Context, prefix string) error
	// Ping probes backend liveness.
	Ping(ctx context.Context) error
}

// Open selects a backend from a URL.
// memory:// returns an in-process store; redis://host:port/db connects via
// go-redis. Mirrors the store's scheme-switch convention.
func Open(cacheURL string) (Backend, error) {
	u, err := url.Parse(cacheURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return NewMemory(), nil
	case "redis", "rediss":
		return OpenRedis(cacheURL)
	default:
		return nil, fmt.Errorf("unsupported cache scheme: %s (expected memory or redis)", u.Scheme)
	}
}

// Cache wraps a Backend with JSON serialization and the swallow-and-log
// failure policy: no method returns an error, a failed read is a miss and a
// failed write or delete is logged at Warn and otherwise ignored.
type Cache struct {
	backend Backend
	log     *slog.Logger
	ttl     time.Duration
}

// New creates a Cache with the given default TTL for Set calls.
func New(backend Backend, defaultTTL time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{backend: backend, log: log, ttl: defaultTTL}
}

// GetJSON loads the value under key into dest. Returns false on miss,
// backend failure or undecodable payload.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("cache entry undecodable, dropping", "key", key, "error", err)
		c.Del(ctx, key)
		return false
	}
	return true
}

// SetJSON stores value under key with the default TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) {
	c.SetJSONTTL(ctx, key, value, c.ttl)
}

// SetJSONTTL stores value under key with an explicit TTL.
func (c *Cache) SetJSONTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value not serializable", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// Del removes keys, swallowing backend failures.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.backend.Del(ctx, keys...); err != nil {
		c.log.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// DelPattern removes every key with the given prefix, swallowing failures.
func (c *Cache) DelPattern(ctx context.Context, prefix string) {
	if err := c.backend.DelPattern(ctx, prefix); err != nil {
		c.log.Warn("cache prefix delete failed", "prefix", prefix, "error", err)
	}
}
