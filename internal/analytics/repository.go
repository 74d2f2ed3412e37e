package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tether-go/internal/database"
	"tether-go/internal/models"
)

type Repository interface {
	// Replace makes the stored metrics of (owner, date) exactly metrics and
	// returns how many stale rows were removed
	Replace(ctx context.Context, ownerID uuid.UUID, date time.Time, metrics []*models.AggregatedMetric) (int64, error)
	List(ctx context.Context, ownerID uuid.UUID, date time.Time) ([]*models.AggregatedMetric, error)
	CountVisits(ctx context.Context, ownerID uuid.UUID, date time.Time) (int, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const upsertMetric = `
    INSERT INTO aggregated_metrics (
        owner_id, date, type, name, parent, total_visits, share_percentage, metadata
    ) VALUES (
        :owner_id, :date, :type, :name, :parent, :total_visits, :share_percentage, :metadata
    )
    ON CONFLICT (owner_id, date, type, name, parent) DO UPDATE SET
        total_visits = EXCLUDED.total_visits,
        share_percentage = EXCLUDED.share_percentage,
        metadata = EXCLUDED.metadata,
        updated_at = NOW()`

func (r *postgresRepository) Replace(ctx context.Context, ownerID uuid.UUID, date time.Time, metrics []*models.AggregatedMetric) (int64, error) {
	day := truncateDay(date)
	var removed int64

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		// serializes concurrent runs for the same owner and day
		lockKey := ownerID.String() + "|" + day.Format(time.DateOnly)
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return fmt.Errorf("acquiring aggregation lock: %w", err)
		}

		types := make([]string, 0, len(metrics))
		names := make([]string, 0, len(metrics))
		parents := make([]string, 0, len(metrics))
		for _, m := range metrics {
			if _, err := tx.NamedExecContext(ctx, upsertMetric, m); err != nil {
				return fmt.Errorf("upserting %s metric %q: %w", m.Type, m.Name, err)
			}
			types = append(types, string(m.Type))
			names = append(names, m.Name)
			parents = append(parents, m.Parent)
		}

		res, err := tx.ExecContext(ctx, `
            DELETE FROM aggregated_metrics
            WHERE owner_id = $1 AND date = $2
              AND (type, name, parent) NOT IN (
                  SELECT * FROM unnest($3::text[], $4::text[], $5::text[])
              )`, ownerID, day, types, names, parents)
		if err != nil {
			return fmt.Errorf("removing stale metrics: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("replacing metrics of %s on %s: %w", ownerID, day.Format(time.DateOnly), err)
	}
	return removed, nil
}

func (r *postgresRepository) List(ctx context.Context, ownerID uuid.UUID, date time.Time) ([]*models.AggregatedMetric, error) {
	var metrics []*models.AggregatedMetric
	err := r.db.SelectContext(ctx, &metrics, `
        SELECT owner_id, date, type, name, parent, total_visits, share_percentage, metadata
        FROM aggregated_metrics
        WHERE owner_id = $1 AND date = $2
        ORDER BY type, total_visits DESC, name, parent`, ownerID, truncateDay(date))
	if err != nil {
		return nil, fmt.Errorf("listing metrics of %s: %w", ownerID, err)
	}
	return metrics, nil
}

func (r *postgresRepository) CountVisits(ctx context.Context, ownerID uuid.UUID, date time.Time) (int, error) {
	start := truncateDay(date)
	var n int
	err := r.db.GetContext(ctx, &n, `
        SELECT COUNT(*) FROM visits
        WHERE owner_id = $1 AND visited_at >= $2 AND visited_at < $3 AND deleted_at IS NULL`,
		ownerID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("counting visits of %s: %w", ownerID, err)
	}
	return n, nil
}
