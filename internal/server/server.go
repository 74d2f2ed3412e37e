// Package server wires the HTTP surface: the public redirect endpoint, the
// admin API and the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/rs/zerolog/log"

	"tether-go/internal/analytics"
	"tether-go/internal/config"
	"tether-go/internal/database"
	"tether-go/internal/kvstore"
	"tether-go/internal/links"
	"tether-go/internal/redirect"
)

const shutdownTimeout = 15 * time.Second

// Dependencies are the services the HTTP layer delegates to
type Dependencies struct {
	DB        *database.DB
	Cache     kvstore.Provider
	Resolver  *redirect.Resolver
	Links     *links.Service
	Analytics analytics.Repository
}

// Server represents the HTTP server and its dependencies
type Server struct {
	config           *config.Config
	db               *database.DB
	cache            kvstore.Provider
	tokenAuth        *jwtauth.JWTAuth
	redirectHandler  *redirect.Handler
	linksHandler     *links.Handler
	analyticsHandler *analytics.Handler
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	return &Server{
		config:           cfg,
		db:               deps.DB,
		cache:            deps.Cache,
		tokenAuth:        jwtauth.New("HS256", []byte(cfg.Auth.Secret), nil),
		redirectHandler:  redirect.NewHandler(deps.Resolver),
		linksHandler:     links.NewHandler(deps.Links),
		analyticsHandler: analytics.NewHandler(deps.Analytics),
	}
}

// HTTPServer builds the http.Server for the configured port
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
}

// Serve listens until ctx is cancelled and then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	srv := s.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", s.config.Server.Port).
			Str("env", s.config.Env).
			Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Msg("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-server"
}
