package links

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tether-go/internal/actor"
	"tether-go/internal/apierror"
	"tether-go/internal/keygen"
	"tether-go/internal/models"
	"tether-go/internal/validation"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the link management endpoints
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/", h.HandleList)
	r.Post("/claim", h.HandleClaim)
	r.Get("/{key}", h.HandleGet)
	r.Put("/{key}", h.HandleUpdate)
	r.Delete("/{key}", h.HandleDelete)
}

// LinkResponse is a link as returned by the API
type LinkResponse struct {
	*models.ShortLink
	ShortURL       string   `json:"short_url"`
	TrackingFields []string `json:"tracking_fields"`
}

// ClaimRequest lists guest link keys to move to the caller
type ClaimRequest struct {
	Keys    []string   `json:"keys" validate:"required,min=1,max=500,dive,shortkey"`
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`
}

func (h *Handler) toResponse(link *models.ShortLink) LinkResponse {
	return LinkResponse{
		ShortLink:      link,
		ShortURL:       h.service.ShortURL(link),
		TrackingFields: link.TrackingFields(),
	}
}

func (h *Handler) toResponses(links []*models.ShortLink) []LinkResponse {
	out := make([]LinkResponse, 0, len(links))
	for _, link := range links {
		out = append(out, h.toResponse(link))
	}
	return out
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := apierror.DecodeJSON(r, &req); err != nil {
		apierror.HandleError(w, apierror.ErrInvalidBody, http.StatusBadRequest)
		return
	}
	if !validRequest(w, &req) {
		return
	}

	link, err := h.service.Create(r.Context(), actor.FromContext(r.Context()), &req)
	if err != nil {
		handleServiceError(w, err, "creating short link")
		return
	}

	apierror.SendJSON(w, http.StatusCreated, "Short link created", h.toResponse(link))
}

// HandleList lists the caller's links, or those pointing at ?destination=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	as := actor.FromContext(r.Context())

	if destination := r.URL.Query().Get("destination"); destination != "" {
		found, err := h.service.FindByDestination(r.Context(), as, destination)
		if err != nil {
			handleServiceError(w, err, "finding short links by destination")
			return
		}
		apierror.SendJSON(w, http.StatusOK, "", h.toResponses(found))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.service.List(r.Context(), as, limit, offset)
	if err != nil {
		handleServiceError(w, err, "listing short links")
		return
	}
	apierror.SendJSON(w, http.StatusOK, "", h.toResponses(list))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.Get(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "key"))
	if err != nil {
		handleServiceError(w, err, "getting short link")
		return
	}
	apierror.SendJSON(w, http.StatusOK, "", h.toResponse(link))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := apierror.DecodeJSON(r, &req); err != nil {
		apierror.HandleError(w, apierror.ErrInvalidBody, http.StatusBadRequest)
		return
	}
	if !validRequest(w, &req) {
		return
	}

	link, err := h.service.Update(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "key"), &req)
	if err != nil {
		handleServiceError(w, err, "updating short link")
		return
	}
	apierror.SendJSON(w, http.StatusOK, "Short link updated", h.toResponse(link))
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "key")); err != nil {
		handleServiceError(w, err, "deleting short link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClaim assigns guest links to the calling owner. Admins must name
// the owner explicitly.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := apierror.DecodeJSON(r, &req); err != nil {
		apierror.HandleError(w, apierror.ErrInvalidBody, http.StatusBadRequest)
		return
	}
	if !validRequest(w, &req) {
		return
	}

	as := actor.FromContext(r.Context())
	ownerID := as.OwnerID
	if req.OwnerID != nil {
		ownerID = *req.OwnerID
	}
	if ownerID == uuid.Nil {
		apierror.HandleError(w, apierror.ErrForbidden, http.StatusForbidden)
		return
	}

	claimed, err := h.service.AssignGuestLinks(r.Context(), as, ownerID, req.Keys)
	if err != nil {
		handleServiceError(w, err, "claiming guest links")
		return
	}
	apierror.SendJSON(w, http.StatusOK, "Guest links claimed", h.toResponses(claimed))
}

func validRequest(w http.ResponseWriter, req interface{}) bool {
	if err := validation.Validate(req); err != nil {
		apierror.HandleError(w, &apierror.APIError{
			Code:    apierror.CodeInvalidInput,
			Message: "Validation failed",
			Details: validation.FormatError(err),
		}, http.StatusBadRequest)
		return false
	}
	return true
}

func handleServiceError(w http.ResponseWriter, err error, context string) {
	switch {
	case errors.Is(err, ErrNotFound):
		apierror.HandleError(w, apierror.ErrNotFound, http.StatusNotFound)
	case errors.Is(err, ErrKeyTaken):
		apierror.HandleError(w, &apierror.APIError{
			Code:    apierror.CodeAlreadyExists,
			Message: "Short key already in use",
		}, http.StatusConflict)
	case errors.Is(err, ErrInvalidWindow):
		apierror.HandleError(w, &apierror.APIError{
			Code:    apierror.CodeInvalidInput,
			Message: "Deactivation must be after activation",
		}, http.StatusBadRequest)
	case errors.Is(err, ErrGuest):
		apierror.HandleError(w, apierror.ErrUnauthorized, http.StatusUnauthorized)
	case errors.Is(err, ErrForbidden):
		apierror.HandleError(w, apierror.ErrForbidden, http.StatusForbidden)
	case errors.Is(err, keygen.ErrKeyspaceExhausted):
		apierror.HandleError(w, &apierror.APIError{
			Code:    apierror.CodeInternalError,
			Message: "Could not generate a free short key, try again or choose a key",
		}, http.StatusInternalServerError)
	default:
		apierror.HandleError(w, apierror.LogError(err, context), http.StatusInternalServerError)
	}
}
