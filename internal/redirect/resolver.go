// Package redirect resolves short keys to their destinations on the hot path.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tether-go/internal/metrics"
	"tether-go/internal/models"
	"tether-go/internal/validation"
)

var ErrNotFound = errors.New("short link not found")

// LinkCache is the read side of the link cache
type LinkCache interface {
	Get(ctx context.Context, key string) (*models.ShortLink, bool, error)
	Evict(ctx context.Context, key string) error
}

type LivenessChecker interface {
	IsLive(ctx context.Context, link *models.ShortLink, now time.Time) (bool, error)
}

// Dispatcher hands a tracking task off without blocking
type Dispatcher interface {
	Dispatch(task *models.TrackingTask)
}

// TrackingRequest is the request context captured for visit tracking
type TrackingRequest struct {
	IP        string
	UserAgent string
	Referer   string
	Headers   models.Headers
}

type Result struct {
	Target     string
	StatusCode int
}

type Resolver struct {
	cache   LinkCache
	policy  LivenessChecker
	tracker Dispatcher
	now     func() time.Time
}

func NewResolver(cache LinkCache, policy LivenessChecker, tracker Dispatcher) *Resolver {
	return &Resolver{
		cache:   cache,
		policy:  policy,
		tracker: tracker,
		now:     time.Now,
	}
}

// Resolve looks key up in the cache only. A miss, or a link that is no
// longer live, is ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, key string, query url.Values, req TrackingRequest) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.RedirectDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := r.resolve(ctx, key, query, req)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.Redirects.WithLabelValues("not_found").Inc()
	case err != nil:
		metrics.Redirects.WithLabelValues("error").Inc()
	default:
		metrics.Redirects.WithLabelValues("redirected").Inc()
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, key string, query url.Values, req TrackingRequest) (*Result, error) {
	if validation.ValidateShortKey(key) != nil {
		return nil, ErrNotFound
	}

	link, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	now := r.now()
	live, err := r.policy.IsLive(ctx, link, now)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", key, err)
	}
	if !live {
		if err := r.cache.Evict(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to evict dead link")
		}
		return nil, ErrNotFound
	}

	target := link.DestinationURL
	if link.ForwardQueryParams && len(query) > 0 {
		target = appendQuery(target, query)
	}

	r.tracker.Dispatch(&models.TrackingTask{
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		Referer:     req.Referer,
		Headers:     req.Headers,
		ShortLink:   link,
		RequestedAt: now.UTC(),
	})

	return &Result{Target: target, StatusCode: link.RedirectStatusCode}, nil
}

// appendQuery adds query to dest as stored, joining with & when dest
// already carries a query string. A fragment stays at the end.
func appendQuery(dest string, query url.Values) string {
	base, fragment, hasFragment := strings.Cut(dest, "#")

	sep := "?"
	switch {
	case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
		sep = ""
	case strings.Contains(base, "?"):
		sep = "&"
	}

	target := base + sep + query.Encode()
	if hasFragment {
		target += "#" + fragment
	}
	return target
}
