package redirect

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tether-go/internal/apierror"
	"tether-go/internal/models"
)

type Handler struct {
	resolver *Resolver
}

func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Routes mounts the redirect endpoint. Methods other than GET get a 405.
func (h *Handler) Routes(r chi.Router) {
	r.HandleFunc("/{shortKey}", h.HandleRedirect)
}

// HandleRedirect sends the client on to the destination of a live link
func (h *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		apierror.HandleError(w, apierror.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	key := chi.URLParam(r, "shortKey")
	res, err := h.resolver.Resolve(r.Context(), key, r.URL.Query(), trackingRequest(r))
	if errors.Is(err, ErrNotFound) {
		apierror.HandleError(w, apierror.ErrNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		apierror.HandleError(w, apierror.LogError(err, "resolving short link "+key), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=0")
	http.Redirect(w, r, res.Target, res.StatusCode)
}

func trackingRequest(r *http.Request) TrackingRequest {
	return TrackingRequest{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Headers:   models.Headers(r.Header.Clone()),
	}
}

// clientIP expects RealIP to have already rewritten RemoteAddr
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
