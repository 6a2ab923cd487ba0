package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

// forEachBackend runs fn against every store that can run in-process.
func forEachBackend(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("redis", func(t *testing.T) {
		fn(t, newTestRedisStore(t))
	})
}

func newTestManager(store Store, clock *fakeClock) *Manager {
	return NewManager(store, WithClock(clock.Now))
}

func TestManager_AcquireBlocksOthersUntilTTL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		m := newTestManager(store, clock)

		res, err := m.Acquire(ctx, "res:1", "alice")
		require.NoError(t, err)
		require.True(t, res.Acquired)

		clock.Advance(DefaultTTL - time.Second)

		holder, err := m.Check(ctx, "res:1", "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", holder)

		res, err = m.Acquire(ctx, "res:1", "bob")
		require.NoError(t, err)
		assert.False(t, res.Acquired)
		assert.Equal(t, "alice", res.HeldBy)
	})
}

func TestManager_CheckSelfReentry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := newTestManager(store, newFakeClock())

		_, err := m.Acquire(ctx, "res:2", "alice")
		require.NoError(t, err)

		holder, err := m.Check(ctx, "res:2", "alice")
		require.NoError(t, err)
		assert.Empty(t, holder)
	})
}

func TestManager_ReleaseFreesKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := newTestManager(store, newFakeClock())

		_, err := m.Acquire(ctx, "res:3", "alice")
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, "res:3"))

		holder, err := m.Check(ctx, "res:3", "bob")
		require.NoError(t, err)
		assert.Empty(t, holder)

		t.Run("release is idempotent", func(t *testing.T) {
			require.NoError(t, m.Release(ctx, "res:3"))
			require.NoError(t, m.Release(ctx, "never-locked"))
		})
	})
}

func TestManager_Expiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		m := newTestManager(store, clock)

		_, err := m.Acquire(ctx, "res:4", "alice")
		require.NoError(t, err)

		clock.Advance(DefaultTTL)

		holder, err := m.Check(ctx, "res:4", "bob")
		require.NoError(t, err)
		assert.Empty(t, holder, "a record aged exactly TTL is expired")

		rec, err := m.Get(ctx, "res:4")
		require.NoError(t, err)
		assert.Nil(t, rec)

		res, err := m.Acquire(ctx, "res:4", "bob")
		require.NoError(t, err)
		assert.True(t, res.Acquired)
		assert.Equal(t, "bob", res.HeldBy)
	})
}

func TestManager_SelfReacquireRenews(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		m := newTestManager(store, clock)

		_, err := m.Acquire(ctx, "res:5", "alice")
		require.NoError(t, err)

		clock.Advance(DefaultTTL - time.Minute)
		res, err := m.Acquire(ctx, "res:5", "alice")
		require.NoError(t, err)
		require.True(t, res.Acquired)
		assert.True(t, res.Record.AcquiredAt.Equal(clock.Now()))

		// Past the original deadline but inside the renewed one.
		clock.Advance(2 * time.Minute)
		holder, err := m.Check(ctx, "res:5", "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", holder)
	})
}

func TestManager_Scenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := newTestManager(store, newFakeClock())

		res, err := m.Acquire(ctx, "res:42", "alice")
		require.NoError(t, err)
		assert.True(t, res.Acquired)

		holder, err := m.Check(ctx, "res:42", "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", holder)

		require.NoError(t, m.Release(ctx, "res:42"))

		holder, err = m.Check(ctx, "res:42", "bob")
		require.NoError(t, err)
		assert.Empty(t, holder)

		res, err = m.Acquire(ctx, "res:42", "bob")
		require.NoError(t, err)
		assert.True(t, res.Acquired)
	})
}

func TestManager_ReleaseIfHeld(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := newTestManager(store, newFakeClock())

		_, err := m.Acquire(ctx, "res:6", "alice")
		require.NoError(t, err)

		released, err := m.ReleaseIfHeld(ctx, "res:6", "bob")
		require.NoError(t, err)
		assert.False(t, released)

		holder, err := m.Check(ctx, "res:6", "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", holder)

		released, err = m.ReleaseIfHeld(ctx, "res:6", "alice")
		require.NoError(t, err)
		assert.True(t, released)

		released, err = m.ReleaseIfHeld(ctx, "res:6", "alice")
		require.NoError(t, err)
		assert.False(t, released)
	})
}

func TestManager_ForceAcquire(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := newTestManager(store, newFakeClock())

		_, err := m.Acquire(ctx, "res:7", "alice")
		require.NoError(t, err)

		rec, err := m.ForceAcquire(ctx, "res:7", "admin")
		require.NoError(t, err)
		assert.Equal(t, "admin", rec.Holder)

		holder, err := m.Check(ctx, "res:7", "alice")
		require.NoError(t, err)
		assert.Equal(t, "admin", holder)
	})
}

func TestManager_Sweep(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		m := newTestManager(store, clock)

		_, err := m.Acquire(ctx, "old:1", "alice")
		require.NoError(t, err)
		_, err = m.Acquire(ctx, "old:2", "bob")
		require.NoError(t, err)

		clock.Advance(DefaultTTL + time.Second)
		_, err = m.Acquire(ctx, "fresh", "carol")
		require.NoError(t, err)

		removed, err := m.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		holder, err := m.Check(ctx, "fresh", "dave")
		require.NoError(t, err)
		assert.Equal(t, "carol", holder)
	})
}

func TestManager_Validation(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, err := m.Acquire(ctx, "  ", "alice")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = m.Acquire(ctx, "res:1", "")
	assert.ErrorIs(t, err, ErrInvalidHolder)

	_, err = m.ForceAcquire(ctx, "res:1", " ")
	assert.ErrorIs(t, err, ErrInvalidHolder)

	_, err = m.Check(ctx, "", "bob")
	assert.ErrorIs(t, err, ErrInvalidKey)

	assert.ErrorIs(t, m.Release(ctx, ""), ErrInvalidKey)

	_, err = m.ReleaseIfHeld(ctx, "res:1", "")
	assert.ErrorIs(t, err, ErrInvalidHolder)

	_, err = m.Acquire(ctx, "movie/42", "alice")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// vanishingStore loses every conditional write, and the winning record is
// gone again before it can be read back.
type vanishingStore struct {
	*MemoryStore
	attempts atomic.Int32
}

func (s *vanishingStore) TryAcquire(context.Context, string, string, time.Time, time.Duration) (*Record, bool, error) {
	s.attempts.Add(1)
	return nil, false, nil
}

func TestManager_AcquireGivesUpAfterRepeatedRaces(t *testing.T) {
	store := &vanishingStore{MemoryStore: NewMemoryStore()}
	m := NewManager(store)

	res, err := m.Acquire(context.Background(), "res:1", "alice")
	require.ErrorIs(t, err, ErrAcquireRaced)
	assert.False(t, res.Acquired)
	assert.Equal(t, int32(maxAcquireAttempts), store.attempts.Load())
}

func TestManager_TrimsIdentities(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	_, err := m.Acquire(ctx, " res:8 ", " alice ")
	require.NoError(t, err)

	holder, err := m.Check(ctx, "res:8", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", holder)
}

func TestManager_ConcurrentAcquireHasOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)

		const contenders = 16
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			start   = make(chan struct{})
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				<-start
				res, err := m.Acquire(ctx, "res:hot", "caller-"+string(rune('a'+id)))
				if err == nil && res.Acquired {
					winners.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load())
	})
}

func TestManager_WithTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), WithClock(clock.Now), WithTTL(10*time.Second))
	assert.Equal(t, 10*time.Second, m.TTL())

	_, err := m.Acquire(ctx, "res:9", "alice")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	holder, err := m.Check(ctx, "res:9", "bob")
	require.NoError(t, err)
	assert.Empty(t, holder)

	assert.Equal(t, DefaultTTL, NewManager(NewMemoryStore(), WithTTL(0)).TTL())
}

func TestMovieKey(t *testing.T) {
	assert.Equal(t, "movie:42", MovieKey(42))
}

func TestRecord_Live(t *testing.T) {
	now := time.Now()
	var nilRec *Record
	assert.False(t, nilRec.Live(now, time.Minute))

	rec := &Record{AcquiredAt: now.Add(-time.Minute)}
	assert.False(t, rec.Live(now, time.Minute))
	assert.True(t, rec.Live(now, time.Minute+time.Nanosecond))
	assert.Equal(t, now, rec.ExpiresAt(time.Minute))
}
