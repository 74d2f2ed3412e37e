// Package kvstore provides the key-value collaborator behind the link and
// geo caches.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired
var ErrNotFound = errors.New("key not found")

// Provider defines the operations the caches need from a key-value store
type Provider interface {
	// Get returns the stored blob or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key; a ttl of zero means no expiry
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns the count
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying resources
	Close() error
}

// Config selects and configures a provider
type Config struct {
	// Provider type ("badger" or "redis")
	Provider string

	// Badger config; an empty path opens an in-memory store
	BadgerPath string

	// Redis config
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New creates a provider based on configuration
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "badger":
		return NewBadger(cfg.BadgerPath)
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported kv provider: %s", cfg.Provider)
	}
}
