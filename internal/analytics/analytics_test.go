package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether-go/internal/actor"
	"tether-go/internal/apierror"
	"tether-go/internal/database"
	"tether-go/internal/database/dbtest"
	"tether-go/internal/links"
	"tether-go/internal/models"
	"tether-go/internal/visits"
)

var testConfig database.Config

func TestMain(m *testing.M) {
	cfg, teardown, err := dbtest.StartPostgres(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("could not start postgres container")
	}
	testConfig = cfg

	code := m.Run()

	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Error().Err(err).Msg("could not teardown postgres container")
		}
	}
	os.Exit(code)
}

type fixture struct {
	db         *database.DB
	visits     visits.Repository
	repo       Repository
	aggregator *Aggregator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, testConfig)
	visitRepo := visits.NewPostgresRepository(db.DB)
	repo := NewPostgresRepository(db.DB)
	return &fixture{
		db:         db,
		visits:     visitRepo,
		repo:       repo,
		aggregator: NewAggregator(visitRepo, repo),
	}
}

func (f *fixture) link(t *testing.T, owner uuid.UUID, key string) *models.ShortLink {
	t.Helper()
	link := models.NewShortLink(key, "https://example.com/"+key, &owner, time.Now().UTC().AddDate(0, 0, -10))
	require.NoError(t, links.NewPostgresRepository(f.db.DB).Create(context.Background(), actor.System(), link))
	return link
}

func (f *fixture) visit(t *testing.T, link *models.ShortLink, at time.Time, spec visitSpec) {
	t.Helper()
	v := spec.visit()
	v.ID = uuid.New()
	v.URLID = link.ID
	v.OwnerID = link.OwnerID
	v.VisitedAt = at
	v.RequestHeaders = models.Headers{}
	require.NoError(t, f.visits.Create(context.Background(), v))
}

var day = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

func TestAggregate_IsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	link := f.link(t, owner, "agg1234")

	f.visit(t, link, day.Add(9*time.Hour), visitSpec{country: "Germany", city: "Berlin", browser: "Chrome"})
	f.visit(t, link, day.Add(10*time.Hour), visitSpec{country: "Germany", city: "Hamburg", browser: "Firefox"})
	f.visit(t, link, day.Add(23*time.Hour), visitSpec{country: "Spain", browser: "Chrome"})
	// outside the day
	f.visit(t, link, day.Add(24*time.Hour), visitSpec{country: "Italy"})

	first, err := f.aggregator.Aggregate(ctx, owner, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalVisits)

	stored, err := f.repo.List(ctx, owner, day)
	require.NoError(t, err)
	require.Len(t, stored, len(first.Metrics))

	_, err = f.aggregator.Aggregate(ctx, owner, day)
	require.NoError(t, err)

	again, err := f.repo.List(ctx, owner, day)
	require.NoError(t, err)
	assert.Len(t, again, len(stored))

	var germany *models.AggregatedMetric
	for _, m := range again {
		if m.Type == models.MetricCountry && m.Name == "Germany" {
			germany = m
		}
		assert.NotEqual(t, "Italy", m.Name)
	}
	require.NotNil(t, germany)
	assert.Equal(t, 2, germany.TotalVisits)
	assert.InDelta(t, 66.67, germany.SharePercentage, 0.001)
}

func TestAggregate_RemovesStaleRows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	stale := []*models.AggregatedMetric{{
		OwnerID: owner, Date: day, Type: models.MetricBrowser, Name: "Netscape",
		TotalVisits: 4, SharePercentage: 100, Metadata: models.Metadata{},
	}}
	_, err := f.repo.Replace(ctx, owner, day, stale)
	require.NoError(t, err)

	link := f.link(t, owner, "stale12")
	f.visit(t, link, day.Add(time.Hour), visitSpec{browser: "Chrome"})

	summary, err := f.aggregator.Aggregate(ctx, owner, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Removed)

	rows, err := f.repo.List(ctx, owner, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Chrome", rows[0].Name)
}

func TestAggregate_NoVisitsClearsDay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := f.repo.Replace(ctx, owner, day, []*models.AggregatedMetric{{
		OwnerID: owner, Date: day, Type: models.MetricCountry, Name: "Ghost",
		TotalVisits: 1, SharePercentage: 100, Metadata: models.Metadata{},
	}})
	require.NoError(t, err)

	summary, err := f.aggregator.Aggregate(ctx, owner, day)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalVisits)

	rows, err := f.repo.List(ctx, owner, day)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAggregate_ConcurrentRunsConverge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	link := f.link(t, owner, "conc123")
	for i := 0; i < 5; i++ {
		f.visit(t, link, day.Add(time.Duration(i)*time.Hour), visitSpec{country: "Norway", browser: "Edge", os: "Windows", device: "desktop"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.aggregator.Aggregate(ctx, owner, day)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := f.repo.List(ctx, owner, day)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	for _, m := range rows {
		assert.Equal(t, 5, m.TotalVisits)
		assert.InDelta(t, 100.0, m.SharePercentage, 0.001)
	}
}

func TestAggregateAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	f.visit(t, f.link(t, alice, "alice12"), day.Add(time.Hour), visitSpec{country: "Chile"})
	f.visit(t, f.link(t, bob, "bob1234"), day.Add(2*time.Hour), visitSpec{country: "Peru"})

	summaries, err := f.aggregator.AggregateAll(ctx, day)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	for _, owner := range []uuid.UUID{alice, bob} {
		rows, err := f.repo.List(ctx, owner, day)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	}
}

func TestBuildReport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	link := f.link(t, owner, "report1")

	for i := 0; i < 2; i++ {
		f.visit(t, link, day.AddDate(0, 0, -1).Add(time.Hour), visitSpec{country: "Japan"})
	}
	for i := 0; i < 3; i++ {
		f.visit(t, link, day.Add(time.Hour), visitSpec{country: "Japan"})
	}
	_, err := f.aggregator.Aggregate(ctx, owner, day)
	require.NoError(t, err)

	report, err := BuildReport(ctx, f.repo, owner, day)
	require.NoError(t, err)
	assert.Equal(t, "2026-04-10", report.Date)
	assert.Equal(t, 3, report.TotalVisits)
	assert.Equal(t, 2, report.PreviousTotal)
	assert.Equal(t, 50.0, report.GrowthRate)
	assert.Len(t, report.Metrics, 1)
}

var tokenAuth = jwtauth.New("HS256", []byte("test-secret"), nil)

func newRouter(repo Repository) http.Handler {
	r := chi.NewRouter()
	r.Use(jwtauth.Verifier(tokenAuth))
	r.Route("/api/analytics", NewHandler(repo).Routes)
	return r
}

func bearer(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	_, token, err := tokenAuth.Encode(claims)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHandleReport(t *testing.T) {
	f := setup(t)
	owner := uuid.New()
	f.visit(t, f.link(t, owner, "handler"), day.Add(time.Hour), visitSpec{country: "Kenya"})
	_, err := f.aggregator.Aggregate(context.Background(), owner, day)
	require.NoError(t, err)

	router := newRouter(f.repo)

	t.Run("owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analytics/2026-04-10", nil)
		req.Header.Set("Authorization", bearer(t, map[string]interface{}{"user_id": owner.String()}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data Report `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Data.TotalVisits)
		assert.Len(t, resp.Data.Metrics, 1)
	})

	t.Run("admin picks owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analytics/2026-04-10?owner="+owner.String(), nil)
		req.Header.Set("Authorization", bearer(t, map[string]interface{}{"role": "admin"}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin without owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analytics/2026-04-10", nil)
		req.Header.Set("Authorization", bearer(t, map[string]interface{}{"role": "admin"}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("guest", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/2026-04-10", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body apierror.APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apierror.CodeUnauthorized, body.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analytics/10-04-2026", nil)
		req.Header.Set("Authorization", bearer(t, map[string]interface{}{"user_id": owner.String()}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
