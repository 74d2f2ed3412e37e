// Package visits stores redirect visits and enriches them on the way in.
package visits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tether-go/internal/actor"
	"tether-go/internal/database"
	"tether-go/internal/models"
)

// ErrAlreadyRecorded is returned by Create when a visit with the same ID
// exists, for example after the queue redelivered its task
var ErrAlreadyRecorded = errors.New("visit already recorded")

// Repository persists visits
type Repository interface {
	Create(ctx context.Context, visit *models.Visit) error
	HasVisits(ctx context.Context, linkID uuid.UUID) (bool, error)
	CountByIPSince(ctx context.Context, as actor.Actor, ip string, since time.Time) (int, error)
	ListForOwnerDate(ctx context.Context, ownerID uuid.UUID, date time.Time) ([]*models.Visit, error)
	OwnersWithVisitsOn(ctx context.Context, date time.Time) ([]uuid.UUID, error)
	ReassignOwner(ctx context.Context, tx database.Querier, linkIDs []uuid.UUID, ownerID uuid.UUID) (int64, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const visitColumns = `id, url_id, owner_id, visited_at, ip_address, user_agent,
	operating_system, operating_system_alias, operating_system_version,
	browser, browser_version, engine, referer_url,
	device_type, device_manufacturer, device_model,
	iso_code, country, city, state, postal_code, timezone, lat, long,
	continent, currency, is_default, request_headers, created_at, deleted_at`

func (r *postgresRepository) Create(ctx context.Context, visit *models.Visit) error {
	if visit.ID == uuid.Nil {
		visit.ID = uuid.New()
	}
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	if visit.RequestHeaders == nil {
		visit.RequestHeaders = models.Headers{}
	}

	query := `
        INSERT INTO visits (
            id, url_id, owner_id, visited_at, ip_address, user_agent,
            operating_system, operating_system_alias, operating_system_version,
            browser, browser_version, engine, referer_url,
            device_type, device_manufacturer, device_model,
            iso_code, country, city, state, postal_code, timezone, lat, long,
            continent, currency, is_default, request_headers, created_at
        ) VALUES (
            :id, :url_id, :owner_id, :visited_at, :ip_address, :user_agent,
            :operating_system, :operating_system_alias, :operating_system_version,
            :browser, :browser_version, :engine, :referer_url,
            :device_type, :device_manufacturer, :device_model,
            :iso_code, :country, :city, :state, :postal_code, :timezone, :lat, :long,
            :continent, :currency, :is_default, :request_headers, :created_at
        )
        ON CONFLICT (id) DO NOTHING`

	result, err := sqlx.NamedExecContext(ctx, r.db, query, visit)
	if err != nil {
		return fmt.Errorf("inserting visit for link %s: %w", visit.URLID, err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if inserted == 0 {
		return ErrAlreadyRecorded
	}
	return nil
}

func (r *postgresRepository) HasVisits(ctx context.Context, linkID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM visits WHERE url_id = $1 AND deleted_at IS NULL)`, linkID)
	if err != nil {
		return false, fmt.Errorf("checking visits for link %s: %w", linkID, err)
	}
	return exists, nil
}

// CountByIPSince counts visits from ip at or after since, restricted to
// the links the actor may see.
func (r *postgresRepository) CountByIPSince(ctx context.Context, as actor.Actor, ip string, since time.Time) (int, error) {
	scope, args := as.Scope("owner_id", 3)
	query := fmt.Sprintf(`
        SELECT COUNT(*) FROM visits
        WHERE ip_address = $1 AND visited_at >= $2 AND deleted_at IS NULL AND %s`, scope)

	var count int
	if err := r.db.GetContext(ctx, &count, query, append([]interface{}{ip, since}, args...)...); err != nil {
		return 0, fmt.Errorf("counting visits by ip: %w", err)
	}
	return count, nil
}

// ListForOwnerDate returns the owner's visits on the UTC calendar day of date
func (r *postgresRepository) ListForOwnerDate(ctx context.Context, ownerID uuid.UUID, date time.Time) ([]*models.Visit, error) {
	start, end := dayBounds(date)

	var visits []*models.Visit
	query := `SELECT ` + visitColumns + ` FROM visits
        WHERE owner_id = $1 AND visited_at >= $2 AND visited_at < $3 AND deleted_at IS NULL
        ORDER BY visited_at`
	if err := r.db.SelectContext(ctx, &visits, query, ownerID, start, end); err != nil {
		return nil, fmt.Errorf("listing visits of %s on %s: %w", ownerID, start.Format(time.DateOnly), err)
	}
	return visits, nil
}

func (r *postgresRepository) OwnersWithVisitsOn(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	start, end := dayBounds(date)

	var owners []uuid.UUID
	err := r.db.SelectContext(ctx, &owners, `
        SELECT DISTINCT owner_id FROM visits
        WHERE owner_id IS NOT NULL AND visited_at >= $1 AND visited_at < $2 AND deleted_at IS NULL
        ORDER BY owner_id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing owners with visits on %s: %w", start.Format(time.DateOnly), err)
	}
	return owners, nil
}

// ReassignOwner moves the visits of the given links to ownerID. It runs on
// tx so it commits together with the link update.
func (r *postgresRepository) ReassignOwner(ctx context.Context, tx database.Querier, linkIDs []uuid.UUID, ownerID uuid.UUID) (int64, error) {
	if len(linkIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`UPDATE visits SET owner_id = ? WHERE url_id IN (?)`, ownerID, linkIDs)
	if err != nil {
		return 0, fmt.Errorf("building visit reassignment: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("reassigning visits: %w", err)
	}
	return result.RowsAffected()
}

func dayBounds(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
