// Package linkcache is the write-through cache the redirect path resolves
// short keys from. A miss is authoritative: there is no database fallback.
package linkcache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"tether-go/internal/kvstore"
	"tether-go/internal/metrics"
	"tether-go/internal/models"
)

const (
	keyPrefix = "url:key:"

	// DefaultTTL bounds the lifetime of entries orphaned by out-of-band writes
	DefaultTTL = 24 * time.Hour

	lockStripes = 64
)

// Source lists the links a warm-up should load. Lookup re-reads one link
// and returns nil when it no longer exists.
type Source interface {
	ListWarmable(ctx context.Context, now time.Time) ([]*models.ShortLink, error)
	Lookup(ctx context.Context, key string) (*models.ShortLink, error)
}

// Cache maps short keys to their link records
type Cache struct {
	store kvstore.Provider
	ttl   time.Duration
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// New creates a cache on top of store. A non-positive ttl uses DefaultTTL.
func New(store kvstore.Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// CacheKey returns the namespaced cache key for a short key
func CacheKey(key string) string {
	return keyPrefix + key
}

func stripe(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}

// Entries mutates cache entries whose keys are held by WithKeys
type Entries struct {
	c *Cache
}

func (e Entries) Evict(ctx context.Context, key string) error {
	return e.c.evict(ctx, key)
}

// Refresh replaces the entry for link with link
func (e Entries) Refresh(ctx context.Context, link *models.ShortLink) error {
	if err := e.c.evict(ctx, link.Key); err != nil {
		return err
	}
	return e.c.Put(ctx, link)
}

// WithKeys runs fn while holding the locks of keys. Writers that change a
// link's record must do so inside fn, so the entry they cache is never older
// than another writer's.
func (c *Cache) WithKeys(keys []string, fn func(Entries) error) error {
	held := make([]int, 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, key := range keys {
		i := stripe(key)
		if !seen[i] {
			seen[i] = true
			held = append(held, i)
		}
	}
	// ascending order keeps multi-key writers from deadlocking
	sort.Ints(held)

	for _, i := range held {
		c.locks[i].Lock()
	}
	defer func() {
		for j := len(held) - 1; j >= 0; j-- {
			c.locks[held[j]].Unlock()
		}
	}()

	return fn(Entries{c: c})
}

// Get returns the cached link for key. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (*models.ShortLink, bool, error) {
	blob, err := c.store.Get(ctx, CacheKey(key))
	if errors.Is(err, kvstore.ErrNotFound) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	var link models.ShortLink
	if err := json.Unmarshal(blob, &link); err != nil {
		// an undecodable entry must not keep answering
		log.Warn().Err(err).Str("key", key).Msg("dropping corrupt cache entry")
		_ = c.store.Delete(ctx, CacheKey(key))
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &link, true, nil
}

// Put stores link under its key without taking the key lock.
// Mutation paths should use WithKeys or Refresh.
func (c *Cache) Put(ctx context.Context, link *models.ShortLink) error {
	if link.IsDeleted() {
		return fmt.Errorf("refusing to cache deleted link %s", link.Key)
	}

	blob, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", link.Key, err)
	}
	if err := c.store.Put(ctx, CacheKey(link.Key), blob, c.ttl); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", link.Key, err)
	}
	return nil
}

// Evict removes the entry for key
func (c *Cache) Evict(ctx context.Context, key string) error {
	return c.WithKeys([]string{key}, func(e Entries) error {
		return e.Evict(ctx, key)
	})
}

func (c *Cache) evict(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, CacheKey(key)); err != nil {
		return fmt.Errorf("evicting cache entry %s: %w", key, err)
	}
	metrics.CacheEvictions.Inc()
	return nil
}

// Refresh replaces the entry for link with its current state under the
// key's lock
func (c *Cache) Refresh(ctx context.Context, link *models.ShortLink) error {
	return c.WithKeys([]string{link.Key}, func(e Entries) error {
		return e.Refresh(ctx, link)
	})
}

// Warm loads every link src lists. Each one is re-read under its key's lock
// so a link deleted or changed after the listing is cached as it is now.
// With fresh set the namespace is flushed first.
func (c *Cache) Warm(ctx context.Context, src Source, fresh bool) (int, error) {
	if fresh {
		flushed, err := c.Cold(ctx)
		if err != nil {
			return 0, err
		}
		log.Info().Int("flushed", flushed).Msg("link cache flushed before warm-up")
	}

	links, err := src.ListWarmable(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("listing links to warm: %w", err)
	}

	loaded := 0
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		warmed := false
		err := c.WithKeys([]string{link.Key}, func(e Entries) error {
			current, err := src.Lookup(ctx, link.Key)
			if err != nil {
				return err
			}
			if current == nil {
				return e.Evict(ctx, link.Key)
			}
			warmed = true
			return e.Refresh(ctx, current)
		})
		if err != nil {
			log.Error().Err(err).Str("key", link.Key).Msg("failed to warm cache entry")
			continue
		}
		if warmed {
			loaded++
		}
	}

	log.Info().
		Int("loaded", loaded).
		Int("candidates", len(links)).
		Msg("link cache warmed")
	return loaded, nil
}

// Cold flushes the entire link namespace
func (c *Cache) Cold(ctx context.Context) (int, error) {
	n, err := c.store.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return n, fmt.Errorf("flushing link cache: %w", err)
	}
	return n, nil
}
