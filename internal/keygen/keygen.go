// Package keygen produces the short keys links are addressed by.
package keygen

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultLength      = 7
	DefaultMaxAttempts = 5

	// MaxKeyLength is the width of the url_key column. It is below both the
	// 26 characters of a ULID and the 64 of a hex SHA-256.
	MaxKeyLength     = 20
	DefaultMaxLength = MaxKeyLength
)

// ErrKeyspaceExhausted is returned when no free key was found up to the
// maximum length
var ErrKeyspaceExhausted = errors.New("short key space exhausted")

// ExistsChecker reports whether a key is taken by a non-deleted link
type ExistsChecker interface {
	KeyExists(ctx context.Context, key string) (bool, error)
}

// Config controls key shape and collision handling
type Config struct {
	Length      int
	MaxAttempts int
	MaxLength   int
}

// Generator creates random and seeded short keys
type Generator struct {
	cfg    Config
	exists ExistsChecker
	now    func() time.Time
}

// NewGenerator creates a generator, filling zero config values with defaults.
// Lengths are capped at MaxKeyLength.
func NewGenerator(cfg Config, exists ExistsChecker) *Generator {
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	cfg.Length = min(cfg.Length, MaxKeyLength)
	cfg.MaxLength = min(cfg.MaxLength, MaxKeyLength)
	if cfg.MaxLength < cfg.Length {
		cfg.MaxLength = cfg.Length
	}
	return &Generator{cfg: cfg, exists: exists, now: time.Now}
}

// GenerateRandom returns a key no live link uses. After MaxAttempts
// collisions at one length the key grows by a character and the attempt
// counter resets.
func (g *Generator) GenerateRandom(ctx context.Context) (string, error) {
	length := g.cfg.Length
	attempts := 0

	for {
		key, err := g.candidate(length)
		if err != nil {
			return "", err
		}

		taken, err := g.exists.KeyExists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("checking key %s: %w", key, err)
		}
		if !taken {
			return key, nil
		}

		attempts++
		if attempts < g.cfg.MaxAttempts {
			continue
		}

		if length >= g.cfg.MaxLength {
			return "", ErrKeyspaceExhausted
		}
		length++
		attempts = 0
		log.Warn().
			Int("length", length).
			Msg("short key collisions exhausted attempts, widening key")
	}
}

// candidate takes the trailing characters of a fresh ULID. The tail is the
// random component; the leading timestamp would collide for keys created in
// the same millisecond window.
func (g *Generator) candidate(length int) (string, error) {
	id, err := ulid.New(ulid.Timestamp(g.now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generating ulid: %w", err)
	}
	s := id.String()
	return s[len(s)-length:], nil
}

// GenerateFromSeed derives a deterministic key from seed. The result is not
// checked for collisions.
func (g *Generator) GenerateFromSeed(seed int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(seed, 10)))
	return hex.EncodeToString(sum[:])[:g.cfg.Length]
}
