package catalog

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kneutral-org/rating-service/internal/metrics"
)

// CacheConfig holds configuration for the catalog cache.
type CacheConfig struct {
	TTL             time.Duration // Time-to-live for cached entries
	CleanupInterval time.Duration // Interval for cleaning expired entries
	MaxSize         int           // Maximum number of entries (0 = unlimited)
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:             5 * time.Minute,
		CleanupInterval: 1 * time.Minute,
		MaxSize:         10000,
	}
}

type cacheEntry struct {
	user      *User
	movie     *Movie
	expiresAt time.Time
}

// CachedCatalog wraps a Catalog and keeps successful lookups for a while.
// Misses are never cached, so a newly created user or movie is visible
// immediately.
type CachedCatalog struct {
	next    Catalog
	config  CacheConfig
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	stopCh  chan struct{}
	once    sync.Once
}

// NewCachedCatalog creates a cache in front of next.
func NewCachedCatalog(next Catalog, config CacheConfig) *CachedCatalog {
	c := &CachedCatalog{
		next:    next,
		config:  config,
		entries: make(map[string]*cacheEntry),
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c
}

// GetUser implements Catalog.
func (c *CachedCatalog) GetUser(ctx context.Context, id int64) (*User, error) {
	key := "user:" + strconv.FormatInt(id, 10)
	if e := c.get(key); e != nil {
		metrics.RecordCacheOperation("user", "hit")
		return e.user, nil
	}
	metrics.RecordCacheOperation("user", "miss")

	user, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(key, &cacheEntry{user: user})
	return user, nil
}

// GetMovie implements Catalog.
func (c *CachedCatalog) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	key := "movie:" + strconv.FormatInt(id, 10)
	if e := c.get(key); e != nil {
		metrics.RecordCacheOperation("movie", "hit")
		return e.movie, nil
	}
	metrics.RecordCacheOperation("movie", "miss")

	movie, err := c.next.GetMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(key, &cacheEntry{movie: movie})
	return movie, nil
}

// FindMovieByTitle implements Catalog.
func (c *CachedCatalog) FindMovieByTitle(ctx context.Context, title string) (*Movie, error) {
	key := "title:" + strings.ToLower(title)
	if e := c.get(key); e != nil {
		metrics.RecordCacheOperation("title", "hit")
		return e.movie, nil
	}
	metrics.RecordCacheOperation("title", "miss")

	movie, err := c.next.FindMovieByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	c.set(key, &cacheEntry{movie: movie})
	return movie, nil
}

// InvalidateAll clears all entries from the cache.
func (c *CachedCatalog) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
}

// Size returns the current number of entries in the cache.
func (c *CachedCatalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stop stops the cache cleanup goroutine.
func (c *CachedCatalog) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

func (c *CachedCatalog) get(key string) *cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry
}

func (c *CachedCatalog) set(key string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.config.MaxSize > 0 && len(c.entries) >= c.config.MaxSize {
		c.evictOldest()
	}

	entry.expiresAt = time.Now().Add(c.config.TTL)
	c.entries[key] = entry
}

// evictOldest removes the entry closest to expiry.
// Must be called with the lock held.
func (c *CachedCatalog) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *CachedCatalog) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *CachedCatalog) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
