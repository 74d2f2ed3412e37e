package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler periodically aggregates the current and the previous UTC day,
// so late visits around midnight still land in yesterday's rollup.
type Scheduler struct {
	aggregator *Aggregator
	interval   time.Duration
	now        func() time.Time
}

func NewScheduler(aggregator *Aggregator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		aggregator: aggregator,
		interval:   interval,
		now:        time.Now,
	}
}

// Serve runs an initial aggregation and then one per interval until ctx is
// done.
func (s *Scheduler) Serve(ctx context.Context) error {
	log.Info().
		Dur("interval", s.interval).
		Msg("started aggregation scheduler")

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("context cancelled, aggregation scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	today := truncateDay(s.now())
	for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
		summaries, err := s.aggregator.AggregateAll(ctx, day)
		if err != nil {
			log.Error().
				Err(err).
				Str("date", day.Format(time.DateOnly)).
				Msg("error during scheduled aggregation")
		}
		log.Info().
			Str("date", day.Format(time.DateOnly)).
			Int("owners", len(summaries)).
			Msg("scheduled aggregation finished")
	}
}

func (s *Scheduler) String() string {
	return "analytics-scheduler"
}
