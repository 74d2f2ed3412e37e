package links

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether-go/internal/actor"
	"tether-go/internal/database"
	"tether-go/internal/database/dbtest"
	"tether-go/internal/keygen"
	"tether-go/internal/kvstore"
	"tether-go/internal/linkcache"
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
	db      *database.DB
	service *Service
	cache   *linkcache.Cache
	visits  visits.Repository
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, testConfig)

	store, err := kvstore.NewBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := linkcache.New(store, time.Hour)
	visitRepo := visits.NewPostgresRepository(db.DB)
	service := NewService(db.DB, NewPostgresRepository(db.DB), visitRepo, cache, keygen.Config{}, "https://tthr.example/")

	return &fixture{db: db, service: service, cache: cache, visits: visitRepo}
}

func ptr[T any](v T) *T { return &v }

func TestCreate_RandomKeyIsCached(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	link, err := f.service.Create(ctx, actor.Owner(owner), &CreateRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.Len(t, link.Key, keygen.DefaultLength)
	assert.Equal(t, &owner, link.OwnerID)
	assert.Equal(t, models.DefaultRedirectStatusCode, link.RedirectStatusCode)
	assert.Equal(t, "https://tthr.example/"+link.Key, f.service.ShortURL(link))

	cached, ok, err := f.cache.Get(ctx, link.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, link.ID, cached.ID)
}

func TestCreate_CustomKeyAndOptions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	activate := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	deactivate := activate.Add(24 * time.Hour)

	link, err := f.service.Create(ctx, actor.Guest(), &CreateRequest{
		URL:                "https://example.com/b",
		Key:                "launch",
		SingleUse:          true,
		ForwardQueryParams: true,
		RedirectStatusCode: 308,
		ActivatedAt:        &activate,
		DeactivatedAt:      &deactivate,
		TrackingOptions:    TrackingOptions{TrackIPAddress: ptr(false)},
	})
	require.NoError(t, err)
	assert.Nil(t, link.OwnerID)

	stored, err := f.service.Get(ctx, actor.Admin(), "launch")
	require.NoError(t, err)
	assert.True(t, stored.SingleUse)
	assert.True(t, stored.ForwardQueryParams)
	assert.Equal(t, 308, stored.RedirectStatusCode)
	assert.False(t, stored.TrackIPAddress)
	assert.True(t, stored.TrackBrowser)
	assert.True(t, activate.Equal(stored.ActivatedAt))

	_, err = f.service.Create(ctx, actor.Guest(), &CreateRequest{URL: "https://example.com/c", Key: "launch"})
	assert.ErrorIs(t, err, ErrKeyTaken)
}

func TestCreate_SeededKey(t *testing.T) {
	f := setup(t)

	link, err := f.service.Create(context.Background(), actor.Admin(), &CreateRequest{URL: "https://example.com", Seed: ptr(int64(42))})
	require.NoError(t, err)
	assert.Equal(t, "73475cb", link.Key)
}

func TestCreate_InvalidWindow(t *testing.T) {
	f := setup(t)
	now := time.Now()
	before := now.Add(-time.Hour)

	_, err := f.service.Create(context.Background(), actor.Guest(), &CreateRequest{
		URL:           "https://example.com",
		ActivatedAt:   &now,
		DeactivatedAt: &before,
	})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestScoping(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, err := f.service.Create(ctx, actor.Owner(alice), &CreateRequest{URL: "https://example.com/shared", Key: "alice1"})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, actor.Owner(bob), &CreateRequest{URL: "https://example.com/shared", Key: "bob1"})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, actor.Guest(), &CreateRequest{URL: "https://example.com/shared", Key: "guest1"})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, actor.Owner(alice), "bob1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.service.Get(ctx, actor.Owner(bob), "alice1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.service.Get(ctx, actor.Admin(), "bob1")
	assert.NoError(t, err)

	list, err := f.service.List(ctx, actor.Owner(alice), 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice1", list[0].Key)

	found, err := f.service.FindByDestination(ctx, actor.Admin(), "https://example.com/shared")
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = f.service.FindByDestination(ctx, actor.Owner(bob), "https://example.com/shared")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob1", found[0].Key)

	err = f.service.Delete(ctx, actor.Owner(alice), "bob1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_NextReadSeesNewDestination(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := actor.Owner(uuid.New())

	_, err := f.service.Create(ctx, owner, &CreateRequest{URL: "https://old.example.com", Key: "moving"})
	require.NoError(t, err)

	_, err = f.service.Update(ctx, owner, "moving", &UpdateRequest{URL: ptr("https://new.example.com")})
	require.NoError(t, err)

	cached, ok, err := f.cache.Get(ctx, "moving")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://new.example.com", cached.DestinationURL)
}

func TestUpdate_KeyChangeEvictsOldKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, actor.Admin(), &CreateRequest{URL: "https://example.com", Key: "before"})
	require.NoError(t, err)

	link, err := f.service.Update(ctx, actor.Admin(), "before", &UpdateRequest{Key: ptr("after")})
	require.NoError(t, err)
	assert.Equal(t, "after", link.Key)

	_, ok, err := f.cache.Get(ctx, "before")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = f.cache.Get(ctx, "after")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdate_Deactivation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	_, err := f.service.Create(ctx, actor.Admin(), &CreateRequest{URL: "https://example.com", Key: "sunset", ActivatedAt: ptr(past.Add(-time.Hour))})
	require.NoError(t, err)

	link, err := f.service.Update(ctx, actor.Admin(), "sunset", &UpdateRequest{DeactivatedAt: &past})
	require.NoError(t, err)
	require.NotNil(t, link.DeactivatedAt)

	link, err = f.service.Update(ctx, actor.Admin(), "sunset", &UpdateRequest{ClearDeactivation: true})
	require.NoError(t, err)
	assert.Nil(t, link.DeactivatedAt)
}

func TestDelete_EvictsAndFreesKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, actor.Guest(), &CreateRequest{URL: "https://example.com", Key: "gone"})
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, actor.Admin(), "gone"))

	_, ok, err := f.cache.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.service.Get(ctx, actor.Admin(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// keys are unique among non-deleted links only
	_, err = f.service.Create(ctx, actor.Guest(), &CreateRequest{URL: "https://example.com/again", Key: "gone"})
	assert.NoError(t, err)
}

func TestListWarmable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	mustCreate := func(req *CreateRequest) *models.ShortLink {
		link, err := f.service.Create(ctx, actor.Admin(), req)
		require.NoError(t, err)
		return link
	}

	mustCreate(&CreateRequest{URL: "https://example.com", Key: "live"})
	mustCreate(&CreateRequest{URL: "https://example.com", Key: "later", ActivatedAt: &future})
	mustCreate(&CreateRequest{URL: "https://example.com", Key: "ended", ActivatedAt: ptr(past.Add(-time.Hour)), DeactivatedAt: &past})
	used := mustCreate(&CreateRequest{URL: "https://example.com", Key: "used", SingleUse: true})
	mustCreate(&CreateRequest{URL: "https://example.com", Key: "unused", SingleUse: true})
	mustCreate(&CreateRequest{URL: "https://example.com", Key: "deleted"})
	require.NoError(t, f.service.Delete(ctx, actor.Admin(), "deleted"))

	require.NoError(t, f.visits.Create(ctx, &models.Visit{URLID: used.ID, VisitedAt: now}))

	warm, err := f.service.ListWarmable(ctx, time.Now().UTC())
	require.NoError(t, err)

	keys := make([]string, 0, len(warm))
	for _, l := range warm {
		keys = append(keys, l.Key)
	}
	// scheduled links are warmed ahead of activation, a miss would be final
	assert.ElementsMatch(t, []string{"live", "later", "unused"}, keys)

	// the cache warm-up consumes the same source
	_, err = f.cache.Cold(ctx)
	require.NoError(t, err)
	n, err := f.cache.Warm(ctx, f.service, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok, err := f.cache.Get(ctx, "later")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuestsMayOnlyCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	guest := actor.Guest()

	_, err := f.service.Create(ctx, guest, &CreateRequest{URL: "https://example.com/mine", Key: "anon1"})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, guest, "anon1")
	assert.ErrorIs(t, err, ErrGuest)
	_, err = f.service.List(ctx, guest, 0, 0)
	assert.ErrorIs(t, err, ErrGuest)
	_, err = f.service.FindByDestination(ctx, guest, "https://example.com/mine")
	assert.ErrorIs(t, err, ErrGuest)
	_, err = f.service.Update(ctx, guest, "anon1", &UpdateRequest{URL: ptr("https://attacker.example")})
	assert.ErrorIs(t, err, ErrGuest)
	assert.ErrorIs(t, f.service.Delete(ctx, guest, "anon1"), ErrGuest)

	cached, ok, err := f.cache.Get(ctx, "anon1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/mine", cached.DestinationURL)
}

func TestAssignGuestLinks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()

	guest, err := f.service.Create(ctx, actor.Guest(), &CreateRequest{URL: "https://example.com", Key: "mine"})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, actor.Owner(other), &CreateRequest{URL: "https://example.com", Key: "theirs"})
	require.NoError(t, err)
	require.NoError(t, f.visits.Create(ctx, &models.Visit{URLID: guest.ID, VisitedAt: time.Now().UTC()}))

	claimed, err := f.service.AssignGuestLinks(ctx, actor.Owner(owner), owner, []string{"mine", "theirs", "missing"})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "mine", claimed[0].Key)
	assert.Equal(t, &owner, claimed[0].OwnerID)

	cached, ok, err := f.cache.Get(ctx, "mine")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &owner, cached.OwnerID)

	visitsOfOwner, err := f.visits.ListForOwnerDate(ctx, owner, time.Now())
	require.NoError(t, err)
	assert.Len(t, visitsOfOwner, 1)

	theirs, err := f.service.Get(ctx, actor.Owner(other), "theirs")
	require.NoError(t, err)
	assert.Equal(t, &other, theirs.OwnerID)

	_, err = f.service.AssignGuestLinks(ctx, actor.Owner(other), owner, []string{"mine"})
	assert.ErrorIs(t, err, ErrForbidden)
}
