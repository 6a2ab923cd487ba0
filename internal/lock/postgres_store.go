package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kneutral-org/rating-service/internal/storage"
)

// PostgresStore keeps lock records in the rating_locks table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed lock store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Backend implements Store.
func (s *PostgresStore) Backend() string {
	return "postgres"
}

// TryAcquire implements Store.TryAcquire with a single INSERT ... ON CONFLICT
// that only overwrites an expired row or a row already owned by holder.
// When the conditional update is skipped no row is returned and the current
// holder is read back.
func (s *PostgresStore) TryAcquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) (*Record, bool, error) {
	query := `
		INSERT INTO rating_locks (resource_key, holder, acquired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_key) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at
		WHERE rating_locks.acquired_at <= $4 OR rating_locks.holder = EXCLUDED.holder
		RETURNING resource_key, holder, acquired_at
	`

	rec := &Record{}
	err := s.db.QueryRowContext(ctx, query, key, holder, now, now.Add(-ttl)).
		Scan(&rec.Key, &rec.Holder, &rec.AcquiredAt)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, storage.Unavailable("acquire lock", err)
	}

	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// Put implements Store.Put.
func (s *PostgresStore) Put(ctx context.Context, rec Record, _ time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rating_locks (resource_key, holder, acquired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_key) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at
	`, rec.Key, rec.Holder, rec.AcquiredAt)
	return storage.Unavailable("put lock", err)
}

// Get implements Store.Get.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := &Record{}
	err := s.db.QueryRowContext(ctx,
		"SELECT resource_key, holder, acquired_at FROM rating_locks WHERE resource_key = $1",
		key,
	).Scan(&rec.Key, &rec.Holder, &rec.AcquiredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.Unavailable("get lock", err)
	}
	return rec, nil
}

// Delete implements Store.Delete.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rating_locks WHERE resource_key = $1", key)
	return storage.Unavailable("delete lock", err)
}

// DeleteIfHolder implements Store.DeleteIfHolder.
func (s *PostgresStore) DeleteIfHolder(ctx context.Context, key, holder string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM rating_locks WHERE resource_key = $1 AND holder = $2",
		key, holder,
	)
	if err != nil {
		return false, storage.Unavailable("delete lock", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

// DeleteExpired implements Store.DeleteExpired.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rating_locks WHERE acquired_at <= $1", cutoff)
	if err != nil {
		return 0, storage.Unavailable("sweep locks", err)
	}
	return result.RowsAffected()
}
