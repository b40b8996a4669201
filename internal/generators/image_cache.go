package generators

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultImageCacheEntries = 64
	DefaultImageCacheBytes   = 256 << 20
	DefaultImageCacheTTL     = 10 * time.Minute
)

// ImageCacheEntry is one proxied image held in memory.
type ImageCacheEntry struct {
	Key          string
	Data         []byte
	CreatedAt    time.Time
	LastAccessed time.Time
	Hits         int
}

// ImageCacheStats holds statistics about cache performance.
type ImageCacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
}

// ImageCache keeps recently proxied image bytes so repeated gallery loads do
// not hit the remote server. The least recently accessed entry is evicted
// once either maxEntries or maxBytes is exceeded.
type ImageCache struct {
	entries    map[string]*ImageCacheEntry
	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger
	mu         sync.Mutex
	stats      ImageCacheStats
}

// NewImageCache builds a cache. Non-positive limits select the defaults.
func NewImageCache(maxEntries int, maxBytes int64, ttl time.Duration) *ImageCache {
	if maxEntries <= 0 {
		maxEntries = DefaultImageCacheEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultImageCacheBytes
	}
	if ttl <= 0 {
		ttl = DefaultImageCacheTTL
	}
	return &ImageCache{
		entries:    make(map[string]*ImageCacheEntry),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		now:        time.Now,
		logger:     zap.L().Named("image_cache"),
	}
}

// ImageKey identifies an image by the same triple the remote /view endpoint
// takes.
func ImageKey(filename, subfolder, imageType string) string {
	hash := md5.Sum([]byte(filename + "|" + subfolder + "|" + imageType))
	return hex.EncodeToString(hash[:])
}

// Get returns the cached bytes for key. Expired entries count as misses and
// are removed.
func (c *ImageCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.expired(entry) {
		c.remove(key)
		ok = false
	}
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	entry.LastAccessed = c.now()
	entry.Hits++
	c.stats.Hits++
	c.updateHitRate()
	return entry.Data, true
}

// Put stores data under key, replacing any previous entry. Images larger
// than the byte limit are not cached.
func (c *ImageCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.remove(key)
	}
	if int64(len(data)) > c.maxBytes {
		return
	}

	now := c.now()
	c.entries[key] = &ImageCacheEntry{
		Key:          key,
		Data:         data,
		CreatedAt:    now,
		LastAccessed: now,
	}
	c.stats.TotalEntries++
	c.stats.TotalSize += int64(len(data))

	for len(c.entries) > c.maxEntries || c.stats.TotalSize > c.maxBytes {
		c.evictOldest()
	}
}

// Run removes expired entries once per TTL until ctx is cancelled.
func (c *ImageCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.CleanExpired(); n > 0 {
				c.logger.Debug("expired images removed", zap.Int("count", n))
			}
		}
	}
}

// CleanExpired removes expired entries and returns how many were removed.
func (c *ImageCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			c.remove(key)
			count++
		}
	}
	return count
}

func (c *ImageCache) Stats() ImageCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *ImageCache) expired(entry *ImageCacheEntry) bool {
	return c.now().Sub(entry.CreatedAt) > c.ttl
}

// remove must be called with mu held.
func (c *ImageCache) remove(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.stats.TotalEntries--
	c.stats.TotalSize -= int64(len(entry.Data))
}

func (c *ImageCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccessed
		}
	}

	if oldestKey != "" {
		c.remove(oldestKey)
	}
}

func (c *ImageCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
