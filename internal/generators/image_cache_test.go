package generators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestImageCache(maxEntries int, ttl time.Duration) (*ImageCache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := NewImageCache(maxEntries, 0, ttl)
	c.now = clock.now
	return c, clock
}

func TestImageCacheHitAndMiss(t *testing.T) {
	c, _ := newTestImageCache(4, 0)
	key := ImageKey("a.png", "", "output")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, []byte("png"))
	data, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("png"), data)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.EqualValues(t, 3, stats.TotalSize)
}

func TestImageKeyDistinguishesSubfolderAndType(t *testing.T) {
	base := ImageKey("a.png", "", "output")
	assert.Equal(t, base, ImageKey("a.png", "", "output"))
	assert.NotEqual(t, base, ImageKey("a.png", "sub", "output"))
	assert.NotEqual(t, base, ImageKey("a.png", "", "temp"))
}

func TestImageCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	c, clock := newTestImageCache(2, 0)

	c.Put("a", []byte("1"))
	clock.advance(time.Second)
	c.Put("b", []byte("2"))
	clock.advance(time.Second)
	_, _ = c.Get("a")
	clock.advance(time.Second)
	c.Put("c", []byte("3"))

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently accessed")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().TotalEntries)
}

func TestImageCacheExpiry(t *testing.T) {
	c, clock := newTestImageCache(4, time.Minute)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))

	clock.advance(2 * time.Minute)
	c.Put("c", []byte("3"))

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.CleanExpired(), "b is the only expired entry left")
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestImageCacheReplace(t *testing.T) {
	c, _ := newTestImageCache(4, 0)
	c.Put("a", []byte("1"))
	c.Put("a", []byte("22"))

	stats := c.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.EqualValues(t, 2, stats.TotalSize)
}

func TestImageCacheDefaults(t *testing.T) {
	c := NewImageCache(0, 0, 0)
	assert.Equal(t, DefaultImageCacheEntries, c.maxEntries)
	assert.EqualValues(t, DefaultImageCacheBytes, c.maxBytes)
	assert.Equal(t, DefaultImageCacheTTL, c.ttl)
}

func TestImageCacheByteLimit(t *testing.T) {
	c := NewImageCache(10, 10, time.Hour)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c.now = clock.now

	c.Put("a", make([]byte, 4))
	clock.advance(time.Second)
	c.Put("b", make([]byte, 4))
	clock.advance(time.Second)
	c.Put("c", make([]byte, 4))

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.EqualValues(t, 8, stats.TotalSize)
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted to stay under the byte limit")

	c.Put("huge", make([]byte, 11))
	_, ok = c.Get("huge")
	assert.False(t, ok, "an image above the byte limit is not cached")
	assert.EqualValues(t, 8, c.Stats().TotalSize)
}

func TestImageCacheRunRemovesExpired(t *testing.T) {
	c := NewImageCache(4, 0, 20*time.Millisecond)
	c.Put("a", []byte("1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return c.Stats().TotalEntries == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
