package visits

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tether-go/internal/geoip"
	"tether-go/internal/metrics"
	"tether-go/internal/models"
	"tether-go/internal/useragent"
)

// LocationResolver resolves an IP address to a location
type LocationResolver interface {
	Resolve(ctx context.Context, ip string) (*geoip.Location, error)
}

// Column widths of the visits table. Parsed and forwarded values are
// attacker controlled and are cut to fit rather than failing the insert.
const (
	widthShort    = 8
	widthDevice   = 32
	widthPostal   = 32
	widthIP       = 45
	widthTimezone = 64
	widthText     = 255
)

// Recorder turns tracking tasks into persisted visits
type Recorder struct {
	repo      Repository
	locations LocationResolver
	agents    useragent.Inspector
	now       func() time.Time
}

func NewRecorder(repo Repository, locations LocationResolver, agents useragent.Inspector) *Recorder {
	return &Recorder{
		repo:      repo,
		locations: locations,
		agents:    agents,
		now:       time.Now,
	}
}

// Record builds and stores the visit for task. A visit is always stored,
// even for links that do not track visits, so single-use links can tell
// they have been used. Enrichment failures only leave fields empty; a
// storage failure is returned so the task is retried. A task whose visit
// already exists returns ErrAlreadyRecorded.
func (r *Recorder) Record(ctx context.Context, task *models.TrackingTask) (*models.Visit, error) {
	link := task.ShortLink
	if link == nil {
		return nil, errors.New("tracking task without short link")
	}

	visitedAt := task.RequestedAt
	if visitedAt.IsZero() {
		visitedAt = r.now()
	}

	id := task.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	visit := &models.Visit{
		ID:             id,
		URLID:          link.ID,
		OwnerID:        link.OwnerID,
		VisitedAt:      visitedAt.UTC(),
		UserAgent:      models.Optional(task.UserAgent),
		RequestHeaders: task.Headers,
	}

	r.applyLocation(ctx, visit, task.IP)
	if link.TrackVisits {
		r.applyTracking(visit, task, link)
	}

	if err := r.repo.Create(ctx, visit); err != nil {
		return nil, err
	}
	return visit, nil
}

func (r *Recorder) applyLocation(ctx context.Context, visit *models.Visit, ip string) {
	loc, err := r.locations.Resolve(ctx, ip)
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("geoip").Inc()
		log.Warn().
			Err(err).
			Str("ip", ip).
			Msg("geo lookup failed, storing visit without location")
		return
	}

	visit.ISOCode = clipped(loc.ISOCode, widthShort)
	visit.Country = clipped(loc.Country, widthText)
	visit.City = clipped(loc.City, widthText)
	visit.State = clipped(loc.State(), widthText)
	visit.PostalCode = clipped(loc.PostalCode, widthPostal)
	visit.Timezone = clipped(loc.Timezone, widthTimezone)
	visit.Continent = clipped(loc.Continent, widthShort)
	visit.Currency = clipped(loc.Currency, widthShort)
	visit.IsDefault = loc.IsDefault
	if !loc.IsDefault {
		lat, long := loc.Lat, loc.Long
		visit.Lat = &lat
		visit.Long = &long
	}
}

func (r *Recorder) applyTracking(visit *models.Visit, task *models.TrackingTask, link *models.ShortLink) {
	info := r.agents.Parse(task.UserAgent)

	if link.TrackIPAddress {
		visit.IPAddress = clipped(task.IP, widthIP)
	}
	if link.TrackOperatingSystem {
		visit.OperatingSystem = clipped(info.OS, widthText)
		visit.OperatingSystemAlias = clipped(info.OSAlias, widthText)
	}
	if link.TrackOperatingSystemVersion {
		visit.OperatingSystemVersion = clipped(info.OSVersion, widthText)
	}
	if link.TrackBrowser {
		visit.Browser = clipped(info.Browser, widthText)
		visit.Engine = clipped(info.Engine, widthText)
	}
	if link.TrackBrowserVersion {
		visit.BrowserVersion = clipped(info.BrowserVersion, widthText)
	}
	if link.TrackRefererURL {
		visit.RefererURL = models.Optional(task.Referer)
	}
	if link.TrackDeviceType {
		visit.DeviceType = clipped(info.DeviceType(), widthDevice)
		visit.DeviceManufacturer = clipped(info.Manufacturer, widthText)
		visit.DeviceModel = clipped(info.Model, widthText)
	}
}

// clipped is models.Optional of s cut to at most width characters
func clipped(s string, width int) *string {
	if utf8.RuneCountInString(s) > width {
		runes := []rune(s)
		s = string(runes[:width])
	}
	return models.Optional(s)
}
