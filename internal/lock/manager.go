package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/rating-service/internal/metrics"
)

// maxAcquireAttempts bounds how often Acquire re-runs the conditional write
// when the competing record vanished between the write and the read-back.
const maxAcquireAttempts = 3

// Manager implements acquire, check and release over a Store.
// It holds no lock state of its own; every answer comes from the Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL sets how long an unrenewed lock stays live.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a lock manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().
		Str("component", "lock-manager").
		Str("backend", store.Backend()).
		Logger()
	return m
}

// TTL returns the lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire takes the lock on key for holder if it is free, expired, or already
// held by holder. Re-acquiring an own lock renews the lease. When another
// identity holds a live lock the result reports it in HeldBy.
func (m *Manager) Acquire(ctx context.Context, key, holder string) (Result, error) {
	key, holder, err := normalize(key, holder, true)
	if err != nil {
		return Result{}, err
	}

	backend := m.store.Backend()
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		now := m.now()
		start := time.Now()
		rec, acquired, err := m.store.TryAcquire(ctx, key, holder, now, m.ttl)
		metrics.RecordStorageOperation("lock_acquire", time.Since(start).Seconds())
		if err != nil {
			metrics.RecordLockAcquisition(backend, "error")
			return Result{}, fmt.Errorf("acquire %q: %w", key, err)
		}

		if acquired {
			metrics.RecordLockAcquisition(backend, "acquired")
			m.logger.Debug().Str("key", key).Str("holder", holder).Msg("lock acquired")
			return Result{Acquired: true, HeldBy: holder, Record: rec}, nil
		}

		if rec.Live(now, m.ttl) && rec.Holder != holder {
			metrics.RecordLockAcquisition(backend, "contended")
			m.logger.Debug().
				Str("key", key).
				Str("holder", holder).
				Str("heldBy", rec.Holder).
				Msg("lock held by another identity")
			return Result{HeldBy: rec.Holder, Record: rec}, nil
		}
	}

	metrics.RecordLockAcquisition(backend, "error")
	return Result{}, fmt.Errorf("acquire %q: %w", key, ErrAcquireRaced)
}

// ForceAcquire overwrites whatever record exists for key with holder.
// It is an administrative takeover and bypasses contention entirely.
func (m *Manager) ForceAcquire(ctx context.Context, key, holder string) (*Record, error) {
	key, holder, err := normalize(key, holder, true)
	if err != nil {
		return nil, err
	}

	now := m.now()
	previous, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("force acquire %q: %w", key, err)
	}

	rec := Record{Key: key, Holder: holder, AcquiredAt: now}
	if err := m.store.Put(ctx, rec, m.ttl); err != nil {
		metrics.RecordLockAcquisition(m.store.Backend(), "error")
		return nil, fmt.Errorf("force acquire %q: %w", key, err)
	}
	metrics.RecordLockAcquisition(m.store.Backend(), "forced")

	if previous.Live(now, m.ttl) && previous.Holder != holder {
		metrics.RecordForcedTakeover()
		m.logger.Warn().
			Str("key", key).
			Str("holder", holder).
			Str("previousHolder", previous.Holder).
			Msg("lock taken over from live holder")
	}

	return &rec, nil
}

// Check returns the identity blocking requester from key, or "" when the
// lock is absent, expired, or held by requester itself.
func (m *Manager) Check(ctx context.Context, key, requester string) (string, error) {
	key, requester, err := normalize(key, requester, false)
	if err != nil {
		return "", err
	}

	rec, err := m.live(ctx, key)
	if err != nil {
		metrics.RecordLockCheck("error")
		return "", fmt.Errorf("check %q: %w", key, err)
	}

	switch {
	case rec == nil:
		metrics.RecordLockCheck("free")
		return "", nil
	case rec.Holder == requester:
		metrics.RecordLockCheck("self")
		return "", nil
	default:
		metrics.RecordLockCheck("held")
		return rec.Holder, nil
	}
}

// Get returns the live record for key, or nil when there is none.
func (m *Manager) Get(ctx context.Context, key string) (*Record, error) {
	key, _, err := normalize(key, "", false)
	if err != nil {
		return nil, err
	}
	rec, err := m.live(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return rec, nil
}

// Release deletes the lock on key regardless of holder. Releasing an
// unlocked key is a no-op.
func (m *Manager) Release(ctx context.Context, key string) error {
	key, _, err := normalize(key, "", false)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	metrics.RecordLockRelease("unconditional")
	m.logger.Debug().Str("key", key).Msg("lock released")
	return nil
}

// ReleaseIfHeld deletes the lock on key only while holder owns it. It
// reports whether a record was removed.
func (m *Manager) ReleaseIfHeld(ctx context.Context, key, holder string) (bool, error) {
	key, holder, err := normalize(key, holder, true)
	if err != nil {
		return false, err
	}
	released, err := m.store.DeleteIfHolder(ctx, key, holder)
	if err != nil {
		return false, fmt.Errorf("release %q: %w", key, err)
	}
	if released {
		metrics.RecordLockRelease("holder")
		m.logger.Debug().Str("key", key).Str("holder", holder).Msg("lock released by holder")
	}
	return released, nil
}

// Sweep removes expired records from the store. Correctness never depends
// on it; it only bounds storage growth.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.ttl)
	n, err := m.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	metrics.RecordLocksSwept(n)
	return n, nil
}

func (m *Manager) live(ctx context.Context, key string) (*Record, error) {
	start := time.Now()
	rec, err := m.store.Get(ctx, key)
	metrics.RecordStorageOperation("lock_get", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if !rec.Live(m.now(), m.ttl) {
		return nil, nil
	}
	return rec, nil
}
