package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tether-go/internal/analytics"
	"tether-go/internal/config"
	"tether-go/internal/keygen"
	"tether-go/internal/logger"
	"tether-go/internal/policy"
	"tether-go/internal/redirect"
	"tether-go/internal/server"
	"tether-go/internal/supervisor"
	"tether-go/internal/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve redirects and the admin API",
	Long: `Serve redirects and the admin API. The link cache is warmed before the
listener starts. With the in-process queue the tracking worker runs here too.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("no-warm", false, "Skip warming the link cache on startup")
	serveCmd.Flags().Bool("no-scheduler", false, "Do not run the aggregation scheduler in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, bootstrapOptions{migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()
	a.cfg.Log()

	if noWarm, _ := cmd.Flags().GetBool("no-warm"); !noWarm {
		loaded, err := a.cache.Warm(ctx, a.links, false)
		if err != nil {
			return fmt.Errorf("warming link cache: %w", err)
		}
		log.Info().Str("links", humanize.Comma(int64(loaded))).Msg("link cache ready")
	}

	wmLogger := logger.NewWatermillAdapter()
	ps, err := tracking.NewPubSub(a.cfg.Queue, wmLogger)
	if err != nil {
		return err
	}
	publisher := tracking.NewPublisher(ps.Publisher, a.cfg.Queue.Topic, a.cfg.Queue.EnqueueTimeout)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing tracking publisher")
		}
		if err := ps.Subscriber.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing tracking subscriber")
		}
	}()

	resolver := redirect.NewResolver(a.cache, policy.NewEvaluator(a.visits), publisher)
	metricsRepo := analytics.NewPostgresRepository(a.db.DB)

	tree := supervisor.New("tether", supervisor.DefaultTreeConfig())
	tree.Add(server.NewServer(a.cfg, server.Dependencies{
		DB:        a.db,
		Cache:     a.store,
		Resolver:  resolver,
		Links:     a.links,
		Analytics: metricsRepo,
	}))

	if a.cfg.Queue.Provider == tracking.ProviderMemory {
		worker, err := newTrackingWorker(a, ps)
		if err != nil {
			return err
		}
		tree.Add(worker)
	}

	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
	if a.cfg.Aggregation.Enabled && !noScheduler {
		tree.Add(analytics.NewScheduler(analytics.NewAggregator(a.visits, metricsRepo), a.cfg.Aggregation.Interval))
	}

	log.Info().
		Str("url", a.cfg.Server.BaseURL).
		Msg("Server is ready to handle requests")

	err = tree.Serve(ctx)
	log.Info().Msg("Server shutdown completed")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func keygenConfig(cfg *config.Config) keygen.Config {
	return keygen.Config{
		Length:      cfg.KeyGen.Length,
		MaxAttempts: cfg.KeyGen.MaxAttempts,
		MaxLength:   cfg.KeyGen.MaxLength,
	}
}
