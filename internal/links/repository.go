// Package links manages short link records and keeps the redirect cache in
// step with every change.
package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tether-go/internal/actor"
	"tether-go/internal/database"
	"tether-go/internal/models"
)

// Repository persists short links. Every method is scoped to the actor it
// is called on behalf of.
type Repository interface {
	Create(ctx context.Context, as actor.Actor, link *models.ShortLink) error
	GetByKey(ctx context.Context, as actor.Actor, key string) (*models.ShortLink, error)
	List(ctx context.Context, as actor.Actor, limit, offset int) ([]*models.ShortLink, error)
	FindByDestination(ctx context.Context, as actor.Actor, destination string) ([]*models.ShortLink, error)
	Update(ctx context.Context, as actor.Actor, link *models.ShortLink) error
	SoftDelete(ctx context.Context, as actor.Actor, key string, at time.Time) (*models.ShortLink, error)
	KeyExists(ctx context.Context, as actor.Actor, key string) (bool, error)
	ListWarmable(ctx context.Context, as actor.Actor, now time.Time) ([]*models.ShortLink, error)
	ClaimGuestLinks(ctx context.Context, q database.Querier, owner uuid.UUID, keys []string) ([]*models.ShortLink, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const linkColumns = `id, url_key, destination_url, owner_id, single_use, forward_query_params,
	redirect_status_code, track_visits, track_ip_address, track_operating_system,
	track_operating_system_version, track_browser, track_browser_version,
	track_referer_url, track_device_type, activated_at, deactivated_at,
	created_at, updated_at, deleted_at`

func (r *postgresRepository) Create(ctx context.Context, as actor.Actor, link *models.ShortLink) error {
	if !as.CanAccess(link.OwnerID) {
		return ErrForbidden
	}

	query := `
        INSERT INTO short_links (` + linkColumns + `)
        VALUES (
            :id, :url_key, :destination_url, :owner_id, :single_use, :forward_query_params,
            :redirect_status_code, :track_visits, :track_ip_address, :track_operating_system,
            :track_operating_system_version, :track_browser, :track_browser_version,
            :track_referer_url, :track_device_type, :activated_at, :deactivated_at,
            :created_at, :updated_at, :deleted_at
        )`

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, link); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrKeyTaken
		}
		return fmt.Errorf("creating short link %s: %w", link.Key, err)
	}
	return nil
}

func (r *postgresRepository) GetByKey(ctx context.Context, as actor.Actor, key string) (*models.ShortLink, error) {
	scope, args := as.Scope("owner_id", 2)
	query := fmt.Sprintf(`SELECT %s FROM short_links
        WHERE url_key = $1 AND deleted_at IS NULL AND %s`, linkColumns, scope)

	link := new(models.ShortLink)
	err := r.db.GetContext(ctx, link, query, append([]interface{}{key}, args...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting short link by key: %w", err)
	}
	return link, nil
}

func (r *postgresRepository) List(ctx context.Context, as actor.Actor, limit, offset int) ([]*models.ShortLink, error) {
	scope, args := as.Scope("owner_id", 3)
	query := fmt.Sprintf(`SELECT %s FROM short_links
        WHERE deleted_at IS NULL AND %s
        ORDER BY created_at DESC, url_key
        LIMIT $1 OFFSET $2`, linkColumns, scope)

	var links []*models.ShortLink
	if err := r.db.SelectContext(ctx, &links, query, append([]interface{}{limit, offset}, args...)...); err != nil {
		return nil, fmt.Errorf("listing short links: %w", err)
	}
	return links, nil
}

func (r *postgresRepository) FindByDestination(ctx context.Context, as actor.Actor, destination string) ([]*models.ShortLink, error) {
	scope, args := as.Scope("owner_id", 2)
	query := fmt.Sprintf(`SELECT %s FROM short_links
        WHERE destination_url = $1 AND deleted_at IS NULL AND %s
        ORDER BY created_at DESC`, linkColumns, scope)

	var links []*models.ShortLink
	if err := r.db.SelectContext(ctx, &links, query, append([]interface{}{destination}, args...)...); err != nil {
		return nil, fmt.Errorf("finding short links by destination: %w", err)
	}
	return links, nil
}

func (r *postgresRepository) Update(ctx context.Context, as actor.Actor, link *models.ShortLink) error {
	scope, args := as.Scope("owner_id", 19)
	query := fmt.Sprintf(`
        UPDATE short_links SET
            url_key = $2,
            destination_url = $3,
            single_use = $4,
            forward_query_params = $5,
            redirect_status_code = $6,
            track_visits = $7,
            track_ip_address = $8,
            track_operating_system = $9,
            track_operating_system_version = $10,
            track_browser = $11,
            track_browser_version = $12,
            track_referer_url = $13,
            track_device_type = $14,
            activated_at = $15,
            deactivated_at = $16,
            updated_at = $17,
            owner_id = $18
        WHERE id = $1 AND deleted_at IS NULL AND %s`, scope)

	params := []interface{}{
		link.ID,
		link.Key,
		link.DestinationURL,
		link.SingleUse,
		link.ForwardQueryParams,
		link.RedirectStatusCode,
		link.TrackVisits,
		link.TrackIPAddress,
		link.TrackOperatingSystem,
		link.TrackOperatingSystemVersion,
		link.TrackBrowser,
		link.TrackBrowserVersion,
		link.TrackRefererURL,
		link.TrackDeviceType,
		link.ActivatedAt,
		link.DeactivatedAt,
		link.UpdatedAt,
		link.OwnerID,
	}

	result, err := r.db.ExecContext(ctx, query, append(params, args...)...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrKeyTaken
		}
		return fmt.Errorf("updating short link %s: %w", link.Key, err)
	}
	return expectOne(result)
}

func (r *postgresRepository) SoftDelete(ctx context.Context, as actor.Actor, key string, at time.Time) (*models.ShortLink, error) {
	scope, args := as.Scope("owner_id", 3)
	query := fmt.Sprintf(`
        UPDATE short_links SET deleted_at = $2, updated_at = $2
        WHERE url_key = $1 AND deleted_at IS NULL AND %s
        RETURNING %s`, scope, linkColumns)

	link := new(models.ShortLink)
	err := r.db.GetContext(ctx, link, query, append([]interface{}{key, at}, args...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting short link %s: %w", key, err)
	}
	return link, nil
}

// KeyExists reports whether a non-deleted link visible to the actor uses key
func (r *postgresRepository) KeyExists(ctx context.Context, as actor.Actor, key string) (bool, error) {
	scope, args := as.Scope("owner_id", 2)
	query := fmt.Sprintf(`SELECT EXISTS (
        SELECT 1 FROM short_links WHERE url_key = $1 AND deleted_at IS NULL AND %s)`, scope)

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, append([]interface{}{key}, args...)...); err != nil {
		return false, fmt.Errorf("checking short key %s: %w", key, err)
	}
	return exists, nil
}

// ListWarmable returns the links that may redirect at now or later.
// Links scheduled to activate are included.
func (r *postgresRepository) ListWarmable(ctx context.Context, as actor.Actor, now time.Time) ([]*models.ShortLink, error) {
	scope, args := as.Scope("l.owner_id", 2)
	query := fmt.Sprintf(`SELECT %s FROM short_links l
        WHERE l.deleted_at IS NULL
          AND (l.deactivated_at IS NULL OR l.deactivated_at > $1)
          AND NOT (l.single_use AND EXISTS (
              SELECT 1 FROM visits v WHERE v.url_id = l.id AND v.deleted_at IS NULL))
          AND %s
        ORDER BY l.url_key`, prefixed("l", linkColumns), scope)

	var links []*models.ShortLink
	if err := r.db.SelectContext(ctx, &links, query, append([]interface{}{now}, args...)...); err != nil {
		return nil, fmt.Errorf("listing warmable short links: %w", err)
	}
	return links, nil
}

// ClaimGuestLinks assigns the guest links among keys to owner and returns
// the links that moved. Links that already have an owner are left alone.
func (r *postgresRepository) ClaimGuestLinks(ctx context.Context, q database.Querier, owner uuid.UUID, keys []string) ([]*models.ShortLink, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        UPDATE short_links SET owner_id = ?, updated_at = NOW()
        WHERE url_key IN (?) AND owner_id IS NULL AND deleted_at IS NULL
        RETURNING `+linkColumns, owner, keys)
	if err != nil {
		return nil, fmt.Errorf("building guest link claim: %w", err)
	}

	var links []*models.ShortLink
	if err := sqlx.SelectContext(ctx, q, &links, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("claiming guest links: %w", err)
	}
	return links, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}

func expectOne(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
