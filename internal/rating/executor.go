// Package rating performs guarded rating mutations. Each write runs inside a
// single transaction that deletes, inserts, reads back and verifies before
// committing, so readers never observe a partial change.
//
// The executor does not check lock possession. Callers are expected to hold
// the movie's edit lock.
package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/rating-service/internal/events"
	"github.com/kneutral-org/rating-service/internal/metrics"
	"github.com/kneutral-org/rating-service/internal/storage"
)

// DefaultTolerance is the largest read-back difference accepted as equal.
const DefaultTolerance = 1e-6

var (
	// ErrNotFound is returned when no rating exists for the pair.
	ErrNotFound = errors.New("rating not found")
	// ErrInvalidValue is returned when a value is rejected by the policy.
	ErrInvalidValue = errors.New("invalid rating value")
	// ErrVerificationMismatch is returned when the read-back value differs
	// from the written one. The transaction has been rolled back.
	ErrVerificationMismatch = errors.New("rating verification failed")
	// ErrUnexpectedRowCount is returned when a delete touched other than one row.
	ErrUnexpectedRowCount = errors.New("unexpected number of rows affected")
	// ErrUnknownReference is returned when the user or movie does not exist.
	ErrUnknownReference = errors.New("user or movie does not exist")
)

// Rating is the current value one user gave one movie.
type Rating struct {
	OwnerID    int64     `json:"ownerId"`
	ResourceID int64     `json:"resourceId"`
	Value      float64   `json:"value"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Executor runs rating mutations against PostgreSQL.
type Executor struct {
	db        *sql.DB
	tolerance float64
	policy    *Policy
	now       func() time.Time
	publisher events.Publisher
	logger    zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTolerance sets the verification tolerance.
func WithTolerance(tolerance float64) ExecutorOption {
	return func(e *Executor) {
		if tolerance >= 0 {
			e.tolerance = tolerance
		}
	}
}

// WithPolicy replaces the default value policy.
func WithPolicy(policy *Policy) ExecutorOption {
	return func(e *Executor) {
		if policy != nil {
			e.policy = policy
		}
	}
}

// WithClock replaces time.Now for updated_at stamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p events.Publisher) ExecutorOption {
	return func(e *Executor) {
		e.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor over db.
func NewExecutor(db *sql.DB, opts ...ExecutorOption) *Executor {
	e := &Executor{
		db:        db,
		tolerance: DefaultTolerance,
		policy:    MustPolicy(DefaultPolicy),
		now:       time.Now,
		publisher: events.NopPublisher{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "rating-executor").Logger()
	return e
}

// Validate applies the value policy without touching storage.
func (e *Executor) Validate(ownerID, resourceID int64, value float64) error {
	return e.policy.Check(ownerID, resourceID, value)
}

// WriteRating replaces the rating for (ownerID, resourceID) with value.
func (e *Executor) WriteRating(ctx context.Context, ownerID, resourceID int64, value float64) (*Rating, error) {
	if err := e.policy.Check(ownerID, resourceID, value); err != nil {
		metrics.RecordRatingWrite("invalid")
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordStorageOperation("rating_write", time.Since(start).Seconds())
	}()

	r, err := e.writeTx(ctx, ownerID, resourceID, value)
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationMismatch):
			metrics.RecordRatingWrite("mismatch")
		case errors.Is(err, ErrUnknownReference):
			metrics.RecordRatingWrite("invalid")
		default:
			metrics.RecordRatingWrite("error")
		}
		return nil, err
	}

	metrics.RecordRatingWrite("ok")
	e.logger.Info().
		Int64("ownerId", ownerID).
		Int64("resourceId", resourceID).
		Float64("value", value).
		Msg("rating written")
	e.publish(ctx, events.Event{
		Type:       events.TypeRatingWritten,
		OwnerID:    ownerID,
		ResourceID: resourceID,
		Value:      &r.Value,
		OccurredAt: r.UpdatedAt,
	})
	return r, nil
}

func (e *Executor) writeTx(ctx context.Context, ownerID, resourceID int64, value float64) (*Rating, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Unavailable("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM ratings WHERE user_id = $1 AND movie_id = $2",
		ownerID, resourceID,
	); err != nil {
		return nil, storage.Unavailable("delete rating", err)
	}

	now := e.now().UTC()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO ratings (user_id, movie_id, rating, updated_at) VALUES ($1, $2, $3, $4)",
		ownerID, resourceID, value, now,
	); err != nil {
		if storage.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user %d, movie %d", ErrUnknownReference, ownerID, resourceID)
		}
		return nil, storage.Unavailable("insert rating", err)
	}

	r := &Rating{OwnerID: ownerID, ResourceID: resourceID}
	err = tx.QueryRowContext(ctx,
		"SELECT rating, updated_at FROM ratings WHERE user_id = $1 AND movie_id = $2",
		ownerID, resourceID,
	).Scan(&r.Value, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: row missing after insert", ErrVerificationMismatch)
	}
	if err != nil {
		return nil, storage.Unavailable("verify rating", err)
	}

	if math.Abs(r.Value-value) > e.tolerance {
		e.logger.Warn().
			Int64("ownerId", ownerID).
			Int64("resourceId", resourceID).
			Float64("expected", value).
			Float64("stored", r.Value).
			Msg("rating verification mismatch, rolling back")
		return nil, fmt.Errorf("%w: wrote %v, read %v", ErrVerificationMismatch, value, r.Value)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Unavailable("commit rating", err)
	}
	return r, nil
}

// DeleteRating removes the rating for (ownerID, resourceID). It returns
// false without error when there is nothing to delete.
func (e *Executor) DeleteRating(ctx context.Context, ownerID, resourceID int64) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStorageOperation("rating_delete", time.Since(start).Seconds())
	}()

	deleted, err := e.deleteTx(ctx, ownerID, resourceID)
	switch {
	case err != nil:
		metrics.RecordRatingDelete("error")
		return false, err
	case !deleted:
		metrics.RecordRatingDelete("absent")
		return false, nil
	}

	metrics.RecordRatingDelete("ok")
	e.logger.Info().
		Int64("ownerId", ownerID).
		Int64("resourceId", resourceID).
		Msg("rating deleted")
	e.publish(ctx, events.Event{
		Type:       events.TypeRatingDeleted,
		OwnerID:    ownerID,
		ResourceID: resourceID,
		OccurredAt: e.now().UTC(),
	})
	return true, nil
}

func (e *Executor) deleteTx(ctx context.Context, ownerID, resourceID int64) (bool, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storage.Unavailable("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM ratings WHERE user_id = $1 AND movie_id = $2)",
		ownerID, resourceID,
	).Scan(&exists); err != nil {
		return false, storage.Unavailable("find rating", err)
	}
	if !exists {
		return false, nil
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM ratings WHERE user_id = $1 AND movie_id = $2",
		ownerID, resourceID,
	)
	if err != nil {
		return false, storage.Unavailable("delete rating", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storage.Unavailable("delete rating", err)
	}
	if rowsAffected != 1 {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedRowCount, rowsAffected)
	}

	if err := tx.Commit(); err != nil {
		return false, storage.Unavailable("commit delete", err)
	}
	return true, nil
}

// GetRating returns the rating for (ownerID, resourceID).
func (e *Executor) GetRating(ctx context.Context, ownerID, resourceID int64) (*Rating, error) {
	r := &Rating{OwnerID: ownerID, ResourceID: resourceID}
	err := e.db.QueryRowContext(ctx,
		"SELECT rating, updated_at FROM ratings WHERE user_id = $1 AND movie_id = $2",
		ownerID, resourceID,
	).Scan(&r.Value, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storage.Unavailable("get rating", err)
	}
	return r, nil
}

// ListUserRatings returns every rating of ownerID, newest first.
func (e *Executor) ListUserRatings(ctx context.Context, ownerID int64) ([]*Rating, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT movie_id, rating, updated_at
		FROM ratings
		WHERE user_id = $1
		ORDER BY updated_at DESC, movie_id
	`, ownerID)
	if err != nil {
		return nil, storage.Unavailable("list ratings", err)
	}
	defer rows.Close()

	var ratings []*Rating
	for rows.Next() {
		r := &Rating{OwnerID: ownerID}
		if err := rows.Scan(&r.ResourceID, &r.Value, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list ratings", err)
	}
	return ratings, nil
}

func (e *Executor) publish(ctx context.Context, event events.Event) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to publish rating event")
	}
}
