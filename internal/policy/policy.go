// Package policy decides whether a short link may currently redirect.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tether-go/internal/models"
)

// VisitChecker reports whether a link has been visited before
type VisitChecker interface {
	HasVisits(ctx context.Context, linkID uuid.UUID) (bool, error)
}

// Evaluator applies the access policy of a link at a given instant
type Evaluator struct {
	visits VisitChecker
}

func NewEvaluator(visits VisitChecker) *Evaluator {
	return &Evaluator{visits: visits}
}

// IsLive reports whether link may redirect at now. A single-use link that
// has already been visited is never live. The visit check is the only I/O
// and only happens for single-use links.
func (e *Evaluator) IsLive(ctx context.Context, link *models.ShortLink, now time.Time) (bool, error) {
	if link.SingleUse {
		visited, err := e.visits.HasVisits(ctx, link.ID)
		if err != nil {
			return false, fmt.Errorf("checking visits of %s: %w", link.Key, err)
		}
		if visited {
			return false, nil
		}
	}

	return WithinWindow(link, now), nil
}

// WithinWindow reports whether now lies in [activated_at, deactivated_at)
// and the link is not deleted.
func WithinWindow(link *models.ShortLink, now time.Time) bool {
	if link.IsDeleted() {
		return false
	}
	if now.Before(link.ActivatedAt) {
		return false
	}
	if link.DeactivatedAt != nil && !now.Before(*link.DeactivatedAt) {
		return false
	}
	return true
}
