package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tether-go/internal/apierror"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	if s.config.Env == "dev" || s.config.Env == "development" {
		r.Use(middleware.NoCache)
	}

	r.NotFound(s.handleError404)
	r.MethodNotAllowed(s.handleError405)

	// Operational endpoints
	r.Get("/health", s.healthHandler)
	if s.config.Server.MetricsEnable {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Admin API
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"https://*", "http://*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(jwtauth.Verifier(s.tokenAuth))
		r.Use(s.AuthMiddleware)

		r.Route("/links", s.linksHandler.Routes)
		r.Route("/analytics", s.analyticsHandler.Routes)
	})

	// Short link redirection
	r.Group(func(r chi.Router) {
		if s.config.Server.RateLimit > 0 {
			r.Use(httprate.Limit(
				s.config.Server.RateLimit,
				s.config.Server.RateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					apierror.HandleError(w, apierror.ErrRateLimited, http.StatusTooManyRequests)
				}),
			))
		}
		s.redirectHandler.Routes(r)
	})

	return r
}
