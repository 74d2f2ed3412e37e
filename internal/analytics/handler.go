package analytics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tether-go/internal/actor"
	"tether-go/internal/apierror"
	"tether-go/internal/models"
)

// Report is the analytics of one owner's day
type Report struct {
	OwnerID       uuid.UUID                  `json:"owner_id"`
	Date          string                     `json:"date"`
	TotalVisits   int                        `json:"total_visits"`
	PreviousTotal int                        `json:"previous_total"`
	GrowthRate    float64                    `json:"growth_rate"`
	Metrics       []*models.AggregatedMetric `json:"metrics"`
}

// BuildReport assembles the stored metrics of ownerID on date together
// with the day-over-day growth in visits.
func BuildReport(ctx context.Context, repo Repository, ownerID uuid.UUID, date time.Time) (*Report, error) {
	day := truncateDay(date)

	rows, err := repo.List(ctx, ownerID, day)
	if err != nil {
		return nil, err
	}
	current, err := repo.CountVisits(ctx, ownerID, day)
	if err != nil {
		return nil, err
	}
	previous, err := repo.CountVisits(ctx, ownerID, day.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	if rows == nil {
		rows = []*models.AggregatedMetric{}
	}
	return &Report{
		OwnerID:       ownerID,
		Date:          day.Format(time.DateOnly),
		TotalVisits:   current,
		PreviousTotal: previous,
		GrowthRate:    GrowthRate(current, previous),
		Metrics:       rows,
	}, nil
}

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/{date}", h.HandleReport)
}

// HandleReport serves the caller's analytics for a date. Admins pick the
// owner with ?owner=.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		apierror.HandleError(w, &apierror.APIError{
			Code:    apierror.CodeInvalidInput,
			Message: "Date must be formatted as YYYY-MM-DD",
		}, http.StatusBadRequest)
		return
	}

	as := actor.FromContext(r.Context())
	var owner uuid.UUID
	switch {
	case as.Kind == actor.KindOwner:
		owner = as.OwnerID
	case as.Unrestricted():
		owner, err = uuid.Parse(r.URL.Query().Get("owner"))
		if err != nil {
			apierror.HandleError(w, &apierror.APIError{
				Code:    apierror.CodeInvalidInput,
				Message: "An owner id is required",
			}, http.StatusBadRequest)
			return
		}
	default:
		apierror.HandleError(w, apierror.ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	report, err := BuildReport(r.Context(), h.repo, owner, date)
	if err != nil {
		apierror.HandleError(w, apierror.LogError(err, "building analytics report"), http.StatusInternalServerError)
		return
	}
	apierror.SendJSON(w, http.StatusOK, "", report)
}
