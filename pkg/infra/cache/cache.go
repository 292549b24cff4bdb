// Package cache is the in-memory result tier. One entry per memo and
// mode; entries live until their TTL lapses or the memo is invalidated.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/memoflow/distill/pkg/analysis"
)

// EnvelopeCache holds decoded analysis envelopes for fast re-display.
type EnvelopeCache interface {
	Get(ctx context.Context, memoID string, mode analysis.Mode) (*analysis.Envelope, bool)
	Set(ctx context.Context, memoID string, env *analysis.Envelope, ttl time.Duration)
	InvalidateMemo(ctx context.Context, memoID string)
	Clear(ctx context.Context)
	Size(ctx context.Context) int
}

type cacheKey struct {
	memoID string
	mode   analysis.Mode
}

type cacheItem struct {
	env        *analysis.Envelope
	expiration time.Time
}

type memCache struct {
	mu    sync.RWMutex
	items map[cacheKey]cacheItem
	opts  *options
}

type options struct {
	defaultTTL time.Duration
	maxSize    int
}

type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.defaultTTL = ttl
	}
}

func WithMaxSize(maxSize int) Option {
	return func(o *options) {
		o.maxSize = maxSize
	}
}

func New(opts ...Option) EnvelopeCache {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &memCache{
		items: make(map[cacheKey]cacheItem),
		opts:  o,
	}
}

func (c *memCache) Get(_ context.Context, memoID string, mode analysis.Mode) (*analysis.Envelope, bool) {
	key := cacheKey{memoID: memoID, mode: mode}

	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()
	if !found {
		return nil, false
	}

	if !item.expiration.IsZero() && time.Now().After(item.expiration) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry since the read.
		if cur, ok := c.items[key]; ok && cur.expiration.Equal(item.expiration) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return item.env, true
}

func (c *memCache) Set(_ context.Context, memoID string, env *analysis.Envelope, ttl time.Duration) {
	if env == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.maxSize > 0 && len(c.items) >= c.opts.maxSize {
		c.evictOldest()
	}

	if ttl == 0 {
		ttl = c.opts.defaultTTL
	}

	var expiration time.Time
	if ttl > 0 {
		expiration = time.Now().Add(ttl)
	}

	c.items[cacheKey{memoID: memoID, mode: env.Mode}] = cacheItem{
		env:        env,
		expiration: expiration,
	}
}

// InvalidateMemo drops every mode's entry for the memo. Called when the
// memo's transcript is edited, since all cached results are stale at once.
func (c *memCache) InvalidateMemo(_ context.Context, memoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if key.memoID == memoID {
			delete(c.items, key)
		}
	}
}

func (c *memCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[cacheKey]cacheItem)
}

func (c *memCache) Size(_ context.Context) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *memCache) evictOldest() {
	var oldestKey cacheKey
	var oldestTime time.Time
	haveKey := false

	for key, item := range c.items {
		if !haveKey || item.expiration.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.expiration
			haveKey = true
		}
	}

	if haveKey {
		delete(c.items, oldestKey)
	}
}
