// Package lock implements the cooperative rating-edit lock: lease records kept
// in shared storage, keyed by resource, that expire lazily after a TTL.
package lock

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is how long a lock stays live without renewal.
const DefaultTTL = 300 * time.Second

var (
	// ErrInvalidKey is returned when a resource key is empty or contains '/'.
	ErrInvalidKey = errors.New("resource key must be non-empty and must not contain '/'")
	// ErrInvalidHolder is returned when a holder identity is empty.
	ErrInvalidHolder = errors.New("holder identity is required")
	// ErrAcquireRaced is returned when a conditional acquire kept losing to
	// concurrent releases and never observed a stable holder.
	ErrAcquireRaced = errors.New("lock state changed during acquire")
)

// Record is one stored lock row.
type Record struct {
	Key        string    `json:"key"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Live reports whether the record is still within its TTL at now.
func (r *Record) Live(now time.Time, ttl time.Duration) bool {
	return r != nil && now.Sub(r.AcquiredAt) < ttl
}

// ExpiresAt returns the instant the record stops being live.
func (r *Record) ExpiresAt(ttl time.Duration) time.Time {
	return r.AcquiredAt.Add(ttl)
}

// Result is the outcome of an acquire attempt. A lost attempt is not an
// error: Acquired is false and HeldBy names the live holder.
type Result struct {
	Acquired bool
	HeldBy   string
	Record   *Record
}

// Store is the shared storage behind the lock table.
// Implementations must be safe for concurrent use by many processes.
type Store interface {
	// TryAcquire writes {key, holder, now} when no live record exists for key
	// or the live record already belongs to holder, as one atomic step.
	// It returns the record that is current after the call and whether
	// holder owns it.
	TryAcquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) (*Record, bool, error)

	// Put unconditionally overwrites the record for rec.Key.
	Put(ctx context.Context, rec Record, ttl time.Duration) error

	// Get returns the stored record for key, live or not, or nil when absent.
	Get(ctx context.Context, key string) (*Record, error)

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfHolder removes the record only when it belongs to holder.
	DeleteIfHolder(ctx context.Context, key, holder string) (bool, error)

	// DeleteExpired removes records acquired at or before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Backend names the implementation for metrics and logs.
	Backend() string
}

// MovieKey is the lock key guarding every rating of a movie. Owners are never
// part of the key so two users cannot edit the same movie's rating at once.
func MovieKey(movieID int64) string {
	return "movie:" + strconv.FormatInt(movieID, 10)
}

func normalize(key, holder string, needHolder bool) (string, string, error) {
	key = strings.TrimSpace(key)
	holder = strings.TrimSpace(holder)
	if key == "" || strings.Contains(key, "/") {
		return "", "", ErrInvalidKey
	}
	if needHolder && holder == "" {
		return "", "", ErrInvalidHolder
	}
	return key, holder, nil
}
