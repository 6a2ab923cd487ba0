package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/rating-service/internal/storage"
)

func TestRedisStore_KeyLayout(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	store := NewRedisStore(client, WithKeyPrefix("test:"))
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	rec, acquired, err := store.TryAcquire(ctx, "movie:9", "alice", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, rec.AcquiredAt.Equal(now))

	assert.True(t, srv.Exists("test:movie:9"))
	assert.Equal(t, "alice", srv.HGet("test:movie:9", "holder"))
	assert.Equal(t, "1700000000000", srv.HGet("test:movie:9", "acquired_at"))
	assert.Equal(t, time.Minute, srv.TTL("test:movie:9"))

	require.NoError(t, store.Ping(ctx))
	assert.Equal(t, "redis", store.Backend())
}

func TestRedisStore_GetMissing(t *testing.T) {
	store := newTestRedisStore(t)

	rec, err := store.Get(context.Background(), "movie:404")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStore_Unavailable(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	defer client.Close()
	srv.Close()

	store := NewRedisStore(client)
	_, err = store.Get(context.Background(), "movie:1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestParseMillis(t *testing.T) {
	at, err := parseMillis("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), at.UnixMilli())

	at, err = parseMillis(int64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), at.UnixMilli())

	_, err = parseMillis("soon")
	assert.Error(t, err)

	_, err = parseMillis(3.5)
	assert.Error(t, err)
}
