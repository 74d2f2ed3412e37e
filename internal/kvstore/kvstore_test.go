package kvstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(Config{Provider: "memcached"})
	assert.Error(t, err)
}

func TestBadgerProvider(t *testing.T) {
	store, err := New(Config{Provider: "badger"})
	require.NoError(t, err)
	defer store.Close()

	runProviderSuite(t, store)
}

func TestBadgerProvider_TTLExpiry(t *testing.T) {
	store, err := NewBadger("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "short", []byte("v"), time.Second))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "short")
		return err == ErrNotFound
	}, 5*time.Second, 100*time.Millisecond)
}

func TestBadgerProvider_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadger(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "durable", []byte("yes"), 0))
	require.NoError(t, store.Close())

	reopened, err := NewBadger(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), got)
}

func TestRedisProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	store, err := New(Config{Provider: "redis", RedisAddr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)
	defer store.Close()

	runProviderSuite(t, store)
}

func runProviderSuite(t *testing.T, store Provider) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "url:key:abc", []byte(`{"key":"abc"}`), time.Hour))
		got, err := store.Get(ctx, "url:key:abc")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"key":"abc"}`), got)
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "overwrite", []byte("one"), time.Hour))
		require.NoError(t, store.Put(ctx, "overwrite", []byte("two"), time.Hour))
		got, err := store.Get(ctx, "overwrite")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "gone", []byte("x"), time.Hour))
		require.NoError(t, store.Delete(ctx, "gone"))
		_, err := store.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)

		// deleting twice is fine
		assert.NoError(t, store.Delete(ctx, "gone"))
	})

	t.Run("delete prefix", func(t *testing.T) {
		for i := 0; i < 25; i++ {
			require.NoError(t, store.Put(ctx, fmt.Sprintf("ns:a:%d", i), []byte("x"), time.Hour))
		}
		require.NoError(t, store.Put(ctx, "ns:b:keep", []byte("x"), time.Hour))

		n, err := store.DeletePrefix(ctx, "ns:a:")
		require.NoError(t, err)
		assert.Equal(t, 25, n)

		_, err = store.Get(ctx, "ns:a:3")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "ns:b:keep")
		assert.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
