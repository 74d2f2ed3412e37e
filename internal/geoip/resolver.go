package geoip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"tether-go/internal/kvstore"
)

const (
	cachePrefix = "geoip:"

	DefaultCacheTTL = 24 * time.Hour
)

// CachedResolver memoizes lookups per IP in the kv store
type CachedResolver struct {
	lookup Lookuper
	store  kvstore.Provider
	ttl    time.Duration
}

func NewCachedResolver(lookup Lookuper, store kvstore.Provider, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{lookup: lookup, store: store, ttl: ttl}
}

// Resolve returns the location of ip, consulting the cache first.
// Cache failures fall through to a direct lookup.
func (r *CachedResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	key := cachePrefix + ip

	blob, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		var loc Location
		if err := json.Unmarshal(blob, &loc); err == nil {
			return &loc, nil
		}
		log.Warn().Str("ip", ip).Msg("discarding undecodable geoip cache entry")
	case !errors.Is(err, kvstore.ErrNotFound):
		log.Warn().Err(err).Str("ip", ip).Msg("geoip cache read failed")
	}

	loc, err := r.lookup.Lookup(ip)
	if err != nil {
		return nil, fmt.Errorf("resolving location of %s: %w", ip, err)
	}

	if blob, err := json.Marshal(loc); err == nil {
		if err := r.store.Put(ctx, key, blob, r.ttl); err != nil {
			log.Warn().Err(err).Str("ip", ip).Msg("geoip cache write failed")
		}
	}
	return loc, nil
}
