package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tether-go/internal/config"
	"tether-go/internal/database"
	"tether-go/internal/database/migrate"
	"tether-go/internal/kvstore"
	"tether-go/internal/linkcache"
	"tether-go/internal/links"
	"tether-go/internal/logger"
	"tether-go/internal/visits"
)

// app holds the collaborators every command shares
type app struct {
	cfg    *config.Config
	db     *database.DB
	store  kvstore.Provider
	cache  *linkcache.Cache
	visits visits.Repository
	links  *links.Service
}

type bootstrapOptions struct {
	migrate bool
	// inMemoryStore opens a private in-memory badger store instead of the
	// configured one, for processes that must not hold the shared badger lock
	inMemoryStore bool
}

func bootstrap(ctx context.Context, opts bootstrapOptions) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger.Init(cfg.Env)

	log.Info().
		Str("environment", cfg.Env).
		Str("log_level", zerolog.GlobalLevel().String()).
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("Starting Tether")

	db, err := database.New(database.FromAppConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	if health := db.Health(ctx); health["status"] != "up" {
		_ = db.Close()
		return nil, fmt.Errorf("database health check failed: %s", health["error"])
	}

	if opts.migrate {
		if err := runMigrations(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	storeCfg := kvstore.Config{
		Provider:      cfg.Cache.Provider,
		BadgerPath:    cfg.Cache.BadgerPath,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
	}
	if opts.inMemoryStore && storeCfg.Provider == "badger" {
		log.Warn().Msg("badger is single-process; using a private in-memory store")
		storeCfg.BadgerPath = ""
	}
	store, err := kvstore.New(storeCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening cache store: %w", err)
	}

	cache := linkcache.New(store, cfg.Cache.TTL)
	visitRepo := visits.NewPostgresRepository(db.DB)
	linkService := links.NewService(db.DB, links.NewPostgresRepository(db.DB), visitRepo, cache, keygenConfig(cfg), cfg.Server.BaseURL)

	return &app{
		cfg:    cfg,
		db:     db,
		store:  store,
		cache:  cache,
		visits: visitRepo,
		links:  linkService,
	}, nil
}

func runMigrations(db *database.DB) error {
	if err := migrate.RunMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("Failed to run migrations")
		log.Info().Msg("Attempting to rollback migrations...")

		if rbErr := migrate.RollbackMigrations(db.DB); rbErr != nil {
			return fmt.Errorf("rolling back after %v: %w", err, rbErr)
		}
		return fmt.Errorf("migrations rolled back due to error: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing cache store")
	}
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database connection")
	}
}
