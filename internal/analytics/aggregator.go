package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tether-go/internal/metrics"
	"tether-go/internal/models"
)

// VisitSource reads the visits an aggregation works from
type VisitSource interface {
	ListForOwnerDate(ctx context.Context, ownerID uuid.UUID, date time.Time) ([]*models.Visit, error)
	OwnersWithVisitsOn(ctx context.Context, date time.Time) ([]uuid.UUID, error)
}

// Summary describes one aggregation run
type Summary struct {
	OwnerID     uuid.UUID                  `json:"owner_id"`
	Date        time.Time                  `json:"date"`
	TotalVisits int                        `json:"total_visits"`
	Metrics     []*models.AggregatedMetric `json:"metrics"`
	Removed     int64                      `json:"removed"`
}

type Aggregator struct {
	visits VisitSource
	repo   Repository
}

func NewAggregator(visits VisitSource, repo Repository) *Aggregator {
	return &Aggregator{visits: visits, repo: repo}
}

// Aggregate recomputes the metrics of ownerID for the UTC day of date.
// Running it again for the same day converges on the same rows.
func (a *Aggregator) Aggregate(ctx context.Context, ownerID uuid.UUID, date time.Time) (*Summary, error) {
	day := truncateDay(date)

	visits, err := a.visits.ListForOwnerDate(ctx, ownerID, day)
	if err != nil {
		metrics.AggregationRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("loading visits: %w", err)
	}

	rows := Rollup(ownerID, day, visits)
	removed, err := a.repo.Replace(ctx, ownerID, day, rows)
	if err != nil {
		metrics.AggregationRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AggregationRuns.WithLabelValues("ok").Inc()

	log.Debug().
		Str("owner_id", ownerID.String()).
		Str("date", day.Format(time.DateOnly)).
		Int("visits", len(visits)).
		Int("metrics", len(rows)).
		Int64("removed", removed).
		Msg("aggregated analytics")

	return &Summary{
		OwnerID:     ownerID,
		Date:        day,
		TotalVisits: len(visits),
		Metrics:     rows,
		Removed:     removed,
	}, nil
}

// AggregateAll aggregates every owner with visits on date. A failing owner
// does not stop the others; all failures are returned joined.
func (a *Aggregator) AggregateAll(ctx context.Context, date time.Time) ([]*Summary, error) {
	owners, err := a.visits.OwnersWithVisitsOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}

	var (
		summaries []*Summary
		errs      []error
	)
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		s, err := a.Aggregate(ctx, owner, date)
		if err != nil {
			log.Error().
				Err(err).
				Str("owner_id", owner.String()).
				Msg("aggregation failed for owner")
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, errors.Join(errs...)
}
