package lock

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore is an in-process Store for tests and single-instance
// development. Per-key updates run atomically through xsync's Compute.
type MemoryStore struct {
	records *xsync.MapOf[string, Record]
}

// NewMemoryStore creates an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: xsync.NewMapOf[string, Record]()}
}

// Backend implements Store.
func (s *MemoryStore) Backend() string {
	return "memory"
}

// TryAcquire implements Store.TryAcquire.
func (s *MemoryStore) TryAcquire(_ context.Context, key, holder string, now time.Time, ttl time.Duration) (*Record, bool, error) {
	won := false
	current, _ := s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
		if loaded && old.Holder != holder && old.Live(now, ttl) {
			return old, false
		}
		won = true
		return Record{Key: key, Holder: holder, AcquiredAt: now}, false
	})
	return &current, won, nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, rec Record, _ time.Duration) error {
	s.records.Store(rec.Key, rec)
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	rec, ok := s.records.Load(key)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.records.Delete(key)
	return nil
}

// DeleteIfHolder implements Store.DeleteIfHolder.
func (s *MemoryStore) DeleteIfHolder(_ context.Context, key, holder string) (bool, error) {
	removed := false
	s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
		if !loaded {
			return old, true
		}
		if old.Holder == holder {
			removed = true
			return old, true
		}
		return old, false
	})
	return removed, nil
}

// DeleteExpired implements Store.DeleteExpired.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	var keys []string
	s.records.Range(func(key string, rec Record) bool {
		if !rec.AcquiredAt.After(cutoff) {
			keys = append(keys, key)
		}
		return true
	})

	var removed int64
	for _, key := range keys {
		s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
			if loaded && !old.AcquiredAt.After(cutoff) {
				removed++
				return old, true
			}
			return old, !loaded
		})
	}
	return removed, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	return s.records.Size()
}
