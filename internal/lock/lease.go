package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLeaseNotHeld is returned when extending a lease this instance does not hold.
var ErrLeaseNotHeld = errors.New("lease not held by this instance")

// DistributedLock is a single named lease owned by one process identity.
// Implementations must be safe for concurrent use.
type DistributedLock interface {
	// Acquire attempts to take the lease. It returns false if another
	// identity holds it.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lease up if this instance holds it.
	Release(ctx context.Context) error

	// Extend renews the lease. It returns ErrLeaseNotHeld if the lease was
	// lost in the meantime.
	Extend(ctx context.Context) error

	// IsHeld reports whether this instance believes it holds the lease.
	IsHeld() bool
}

// Lease adapts one Manager key to DistributedLock, so background jobs can be
// coordinated through the same lock table that guards ratings.
type Lease struct {
	manager *Manager
	key     string
	holder  string

	mu   sync.RWMutex
	held bool
}

// NewLease creates a lease on key for holder.
func NewLease(manager *Manager, key, holder string) *Lease {
	return &Lease{manager: manager, key: key, holder: holder}
}

// Acquire implements DistributedLock.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	res, err := l.manager.Acquire(ctx, l.key, l.holder)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.held = res.Acquired
	l.mu.Unlock()
	return res.Acquired, nil
}

// Release implements DistributedLock. It never removes another holder's record.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	if _, err := l.manager.ReleaseIfHeld(ctx, l.key, l.holder); err != nil {
		return err
	}
	l.held = false
	return nil
}

// Extend implements DistributedLock. Re-acquiring an own lock refreshes its
// acquisition time, which is exactly a renewal.
func (l *Lease) Extend(ctx context.Context) error {
	if !l.IsHeld() {
		return ErrLeaseNotHeld
	}
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseNotHeld
	}
	return nil
}

// IsHeld implements DistributedLock.
func (l *Lease) IsHeld() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// Key returns the lease's lock key.
func (l *Lease) Key() string {
	return l.key
}
