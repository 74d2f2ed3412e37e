// Package dbtest starts a disposable postgres container for repository tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tether-go/internal/database"
	"tether-go/internal/database/migrate"
)

// StartPostgres runs a postgres container and returns its connection
// settings together with the teardown function.
func StartPostgres(ctx context.Context) (database.Config, func(context.Context) error, error) {
	var (
		dbName = "tether"
		dbPwd  = "password"
		dbUser = "user"
	)

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to start postgres container")
		return database.Config{}, nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return database.Config{}, container.Terminate, err
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return database.Config{}, container.Terminate, err
	}

	log.Info().
		Str("host", host).
		Str("port", port.Port()).
		Msg("postgres container started successfully")

	return database.Config{
		Host:     host,
		Port:     port.Port(),
		Database: dbName,
		Username: dbUser,
		Password: dbPwd,
		Schema:   "public",
	}, container.Terminate, nil
}

// Open connects to cfg, applies migrations and truncates all tables so
// every test starts from an empty schema.
func Open(t *testing.T, cfg database.Config) *database.DB {
	t.Helper()

	db, err := database.New(cfg)
	require.NoError(t, err)
	require.NoError(t, migrate.RunMigrations(db.DB))

	_, err = db.Exec(`TRUNCATE aggregated_metrics, visits, short_links`)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
