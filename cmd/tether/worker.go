package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tether-go/internal/analytics"
	"tether-go/internal/geoip"
	"tether-go/internal/logger"
	"tether-go/internal/supervisor"
	"tether-go/internal/tracking"
	"tether-go/internal/useragent"
	"tether-go/internal/visits"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume tracking tasks and record visits",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().Bool("with-scheduler", false, "Also run the aggregation scheduler in this process")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, bootstrapOptions{migrate: true, inMemoryStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ps, err := tracking.NewPubSub(a.cfg.Queue, logger.NewWatermillAdapter())
	if err != nil {
		return err
	}
	defer func() {
		if err := ps.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing tracking queue")
		}
	}()

	worker, err := newTrackingWorker(a, ps)
	if err != nil {
		return err
	}

	tree := supervisor.New("tether-worker", supervisor.DefaultTreeConfig())
	tree.Add(worker)

	if withScheduler, _ := cmd.Flags().GetBool("with-scheduler"); withScheduler {
		repo := analytics.NewPostgresRepository(a.db.DB)
		tree.Add(analytics.NewScheduler(analytics.NewAggregator(a.visits, repo), a.cfg.Aggregation.Interval))
	}

	log.Info().
		Str("provider", a.cfg.Queue.Provider).
		Str("topic", a.cfg.Queue.Topic).
		Msg("tracking worker ready")

	err = tree.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// newTrackingWorker assembles the enrichment pipeline behind the worker
func newTrackingWorker(a *app, ps *tracking.PubSub) (*tracking.Worker, error) {
	agents, err := useragent.New(a.cfg.UserAgent.Driver)
	if err != nil {
		return nil, err
	}
	locations := geoip.NewCachedResolver(geoip.Open(a.cfg.GeoIP.DatabasePath), a.store, a.cfg.GeoIP.CacheTTL)
	recorder := visits.NewRecorder(a.visits, locations, agents)

	return tracking.NewWorker(a.cfg.Queue, ps, recorder, logger.NewWatermillAdapter())
}
