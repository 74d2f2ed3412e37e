package server

import (
	"context"
	"net/http"
	"time"

	"tether-go/internal/apierror"
)

const healthTimeout = 2 * time.Second

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	report := HealthReport{
		Status:   statusUp,
		Database: s.db.Health(ctx),
		Cache:    map[string]string{"status": statusUp},
	}
	if err := s.cache.Ping(ctx); err != nil {
		report.Cache = map[string]string{"status": statusDown, "error": err.Error()}
	}
	if report.Database["status"] != statusUp || report.Cache["status"] != statusUp {
		report.Status = statusDown
		apierror.SendJSON(w, http.StatusServiceUnavailable, "Health check failed", report)
		return
	}
	apierror.SendJSON(w, http.StatusOK, "Health check successful", report)
}

// Error Handlers
func (s *Server) handleError404(w http.ResponseWriter, r *http.Request) {
	apierror.HandleError(w, &apierror.APIError{
		Code:    apierror.CodeNotFound,
		Message: "Resource not found",
	}, http.StatusNotFound)
}

func (s *Server) handleError405(w http.ResponseWriter, r *http.Request) {
	apierror.HandleError(w, apierror.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
}
