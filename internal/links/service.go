package links

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"tether-go/internal/actor"
	"tether-go/internal/database"
	"tether-go/internal/keygen"
	"tether-go/internal/linkcache"
	"tether-go/internal/models"
	"tether-go/internal/visits"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// TrackingOptions toggles the optional visit fields. Nil leaves a field at
// its current value, or the default on create.
type TrackingOptions struct {
	TrackVisits                 *bool `json:"track_visits,omitempty"`
	TrackIPAddress              *bool `json:"track_ip_address,omitempty"`
	TrackOperatingSystem        *bool `json:"track_operating_system,omitempty"`
	TrackOperatingSystemVersion *bool `json:"track_operating_system_version,omitempty"`
	TrackBrowser                *bool `json:"track_browser,omitempty"`
	TrackBrowserVersion         *bool `json:"track_browser_version,omitempty"`
	TrackRefererURL             *bool `json:"track_referer_url,omitempty"`
	TrackDeviceType             *bool `json:"track_device_type,omitempty"`
}

func (o TrackingOptions) apply(link *models.ShortLink) {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&link.TrackVisits, o.TrackVisits)
	set(&link.TrackIPAddress, o.TrackIPAddress)
	set(&link.TrackOperatingSystem, o.TrackOperatingSystem)
	set(&link.TrackOperatingSystemVersion, o.TrackOperatingSystemVersion)
	set(&link.TrackBrowser, o.TrackBrowser)
	set(&link.TrackBrowserVersion, o.TrackBrowserVersion)
	set(&link.TrackRefererURL, o.TrackRefererURL)
	set(&link.TrackDeviceType, o.TrackDeviceType)
}

// CreateRequest describes a new short link. Key and Seed are mutually
// exclusive; without either a random key is generated.
type CreateRequest struct {
	URL                string     `json:"url" validate:"required,url"`
	Key                string     `json:"key,omitempty" validate:"omitempty,shortkey"`
	Seed               *int64     `json:"seed,omitempty"`
	SingleUse          bool       `json:"single_use"`
	ForwardQueryParams bool       `json:"forward_query_params"`
	RedirectStatusCode int        `json:"redirect_status_code,omitempty" validate:"omitempty,redirectcode"`
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	TrackingOptions
}

// UpdateRequest changes the given fields of a link
type UpdateRequest struct {
	URL                *string    `json:"url,omitempty" validate:"omitempty,url"`
	Key                *string    `json:"key,omitempty" validate:"omitempty,shortkey"`
	SingleUse          *bool      `json:"single_use,omitempty"`
	ForwardQueryParams *bool      `json:"forward_query_params,omitempty"`
	RedirectStatusCode *int       `json:"redirect_status_code,omitempty" validate:"omitempty,redirectcode"`
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	// ClearDeactivation removes a scheduled deactivation
	ClearDeactivation bool `json:"clear_deactivation,omitempty"`
	TrackingOptions
}

// Service is the only writer of short links. Every mutation updates the
// redirect cache before returning.
type Service struct {
	db      *sqlx.DB
	repo    Repository
	visits  visits.Repository
	cache   *linkcache.Cache
	keys    *keygen.Generator
	baseURL string
	now     func() time.Time
}

func NewService(db *sqlx.DB, repo Repository, visitRepo visits.Repository, cache *linkcache.Cache, keyCfg keygen.Config, baseURL string) *Service {
	s := &Service{
		db:      db,
		repo:    repo,
		visits:  visitRepo,
		cache:   cache,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	s.keys = keygen.NewGenerator(keyCfg, s)
	return s
}

// KeyExists reports whether any non-deleted link uses key
func (s *Service) KeyExists(ctx context.Context, key string) (bool, error) {
	return s.repo.KeyExists(ctx, actor.System(), key)
}

// ListWarmable lists every link a redirect could still reach at or after
// now, for cache warm-up
func (s *Service) ListWarmable(ctx context.Context, now time.Time) ([]*models.ShortLink, error) {
	return s.repo.ListWarmable(ctx, actor.System(), now)
}

// Lookup returns the current record of key, or nil once it is gone
func (s *Service) Lookup(ctx context.Context, key string) (*models.ShortLink, error) {
	link, err := s.repo.GetByKey(ctx, actor.System(), key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return link, err
}

// ShortURL returns the public URL of link
func (s *Service) ShortURL(link *models.ShortLink) string {
	return s.baseURL + "/" + link.Key
}

func (s *Service) Create(ctx context.Context, as actor.Actor, req *CreateRequest) (*models.ShortLink, error) {
	now := s.now().UTC()

	key, err := s.resolveKey(ctx, req)
	if err != nil {
		return nil, err
	}

	link := models.NewShortLink(key, req.URL, as.Owns(), now)
	link.SingleUse = req.SingleUse
	link.ForwardQueryParams = req.ForwardQueryParams
	if req.RedirectStatusCode != 0 {
		link.RedirectStatusCode = req.RedirectStatusCode
	}
	if req.ActivatedAt != nil {
		link.ActivatedAt = req.ActivatedAt.UTC()
	}
	link.DeactivatedAt = req.DeactivatedAt
	req.TrackingOptions.apply(link)

	if err := checkWindow(link); err != nil {
		return nil, err
	}

	err = s.cache.WithKeys([]string{link.Key}, func(entries linkcache.Entries) error {
		if err := s.repo.Create(ctx, as, link); err != nil {
			return err
		}
		// a stale entry can only exist for a key that was deleted and reused
		if err := entries.Refresh(ctx, link); err != nil {
			return fmt.Errorf("caching new link %s: %w", link.Key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("key", link.Key).
		Str("actor", as.String()).
		Msg("short link created")
	return link, nil
}

func (s *Service) resolveKey(ctx context.Context, req *CreateRequest) (string, error) {
	switch {
	case req.Key != "":
		taken, err := s.KeyExists(ctx, req.Key)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrKeyTaken
		}
		return req.Key, nil
	case req.Seed != nil:
		return s.keys.GenerateFromSeed(*req.Seed), nil
	default:
		return s.keys.GenerateRandom(ctx)
	}
}

func (s *Service) Get(ctx context.Context, as actor.Actor, key string) (*models.ShortLink, error) {
	if as.Kind == actor.KindGuest {
		return nil, ErrGuest
	}
	return s.repo.GetByKey(ctx, as, key)
}

func (s *Service) List(ctx context.Context, as actor.Actor, limit, offset int) ([]*models.ShortLink, error) {
	if as.Kind == actor.KindGuest {
		return nil, ErrGuest
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, as, limit, offset)
}

func (s *Service) FindByDestination(ctx context.Context, as actor.Actor, destination string) ([]*models.ShortLink, error) {
	if as.Kind == actor.KindGuest {
		return nil, ErrGuest
	}
	return s.repo.FindByDestination(ctx, as, destination)
}

// Update applies req to the link at key. The key's lock is held from the
// read to the cache write, and the cached entry is the row as stored.
func (s *Service) Update(ctx context.Context, as actor.Actor, key string, req *UpdateRequest) (*models.ShortLink, error) {
	if as.Kind == actor.KindGuest {
		return nil, ErrGuest
	}

	locked := []string{key}
	if req.Key != nil {
		locked = append(locked, *req.Key)
	}

	var updated *models.ShortLink
	err := s.cache.WithKeys(locked, func(entries linkcache.Entries) error {
		link, err := s.repo.GetByKey(ctx, as, key)
		if err != nil {
			return err
		}
		req.applyTo(link)
		link.UpdatedAt = s.now().UTC()

		if err := checkWindow(link); err != nil {
			return err
		}

		// evicted first so a failed write never leaves a stale redirect
		if err := entries.Evict(ctx, key); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, as, link); err != nil {
			return err
		}

		updated, err = s.repo.GetByKey(ctx, actor.System(), link.Key)
		if err != nil {
			return fmt.Errorf("reading updated link %s: %w", link.Key, err)
		}
		if err := entries.Refresh(ctx, updated); err != nil {
			return fmt.Errorf("caching updated link %s: %w", updated.Key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("key", updated.Key).
		Str("previous_key", key).
		Str("actor", as.String()).
		Msg("short link updated")
	return updated, nil
}

func (req *UpdateRequest) applyTo(link *models.ShortLink) {
	if req.URL != nil {
		link.DestinationURL = *req.URL
	}
	if req.Key != nil {
		link.Key = *req.Key
	}
	if req.SingleUse != nil {
		link.SingleUse = *req.SingleUse
	}
	if req.ForwardQueryParams != nil {
		link.ForwardQueryParams = *req.ForwardQueryParams
	}
	if req.RedirectStatusCode != nil {
		link.RedirectStatusCode = *req.RedirectStatusCode
	}
	if req.ActivatedAt != nil {
		link.ActivatedAt = req.ActivatedAt.UTC()
	}
	if req.DeactivatedAt != nil {
		link.DeactivatedAt = req.DeactivatedAt
	}
	if req.ClearDeactivation {
		link.DeactivatedAt = nil
	}
	req.TrackingOptions.apply(link)
}

// Delete soft deletes the link at key and evicts it from the cache
func (s *Service) Delete(ctx context.Context, as actor.Actor, key string) error {
	if as.Kind == actor.KindGuest {
		return ErrGuest
	}

	err := s.cache.WithKeys([]string{key}, func(entries linkcache.Entries) error {
		if _, err := s.repo.GetByKey(ctx, as, key); err != nil {
			return err
		}
		if err := entries.Evict(ctx, key); err != nil {
			return err
		}
		if _, err := s.repo.SoftDelete(ctx, as, key, s.now().UTC()); err != nil {
			return err
		}
		// another process warming the same store is not held off by the lock
		if err := entries.Evict(ctx, key); err != nil {
			return fmt.Errorf("evicting deleted link %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("key", key).
		Str("actor", as.String()).
		Msg("short link deleted")
	return nil
}

// AssignGuestLinks moves the guest links among keys, together with their
// visits, to ownerID. Keys that are unknown or already owned are skipped.
func (s *Service) AssignGuestLinks(ctx context.Context, as actor.Actor, ownerID uuid.UUID, keys []string) ([]*models.ShortLink, error) {
	if !as.Unrestricted() && (as.Kind != actor.KindOwner || as.OwnerID != ownerID) {
		return nil, ErrForbidden
	}

	var claimed []*models.ShortLink
	var cacheErr error
	err := s.cache.WithKeys(keys, func(entries linkcache.Entries) error {
		err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
			var err error
			claimed, err = s.repo.ClaimGuestLinks(ctx, tx, ownerID, keys)
			if err != nil {
				return err
			}

			ids := make([]uuid.UUID, 0, len(claimed))
			for _, link := range claimed {
				ids = append(ids, link.ID)
			}
			_, err = s.visits.ReassignOwner(ctx, tx, ids, ownerID)
			return err
		})
		if err != nil {
			return fmt.Errorf("assigning guest links: %w", err)
		}

		for _, link := range claimed {
			if err := entries.Refresh(ctx, link); err != nil {
				cacheErr = errors.Join(cacheErr, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cacheErr != nil {
		return claimed, fmt.Errorf("refreshing claimed links: %w", cacheErr)
	}

	log.Info().
		Str("owner_id", ownerID.String()).
		Int("requested", len(keys)).
		Int("claimed", len(claimed)).
		Msg("guest links assigned")
	return claimed, nil
}

func checkWindow(link *models.ShortLink) error {
	if link.DeactivatedAt != nil && !link.DeactivatedAt.After(link.ActivatedAt) {
		return ErrInvalidWindow
	}
	return nil
}
