// Package editor sequences rating edits: validate the user and movie, take
// the movie's edit lock, mutate, and release the lock on every exit path.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/rating-service/internal/catalog"
	"github.com/kneutral-org/rating-service/internal/lock"
	"github.com/kneutral-org/rating-service/internal/logging"
	"github.com/kneutral-org/rating-service/internal/metrics"
	"github.com/kneutral-org/rating-service/internal/rating"
)

const releaseTimeout = 5 * time.Second

var (
	// ErrLockContention matches any ContentionError.
	ErrLockContention = errors.New("movie is being edited by someone else")
	// ErrInvalidSession is returned when a session carries no user id.
	ErrInvalidSession = errors.New("session has no user")
)

// ContentionError reports who holds the lock an edit needed.
type ContentionError struct {
	Key    string
	HeldBy string
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("%s is locked by %s", e.Key, e.HeldBy)
}

// Is makes errors.Is(err, ErrLockContention) true.
func (e *ContentionError) Is(target error) bool {
	return target == ErrLockContention
}

// Session identifies the caller. It is passed on every call. DisplayName is
// only used in logs; lock ownership comes from the catalog user.
type Session struct {
	UserID      int64
	DisplayName string
}

// Holder is the identity written into lock records for u, "<username>#<id>".
func Holder(u *catalog.User) string {
	return strings.TrimSpace(u.Username) + "#" + strconv.FormatInt(u.ID, 10)
}

// Locker is the subset of lock.Manager used by the workflow.
type Locker interface {
	Acquire(ctx context.Context, key, holder string) (lock.Result, error)
	Check(ctx context.Context, key, requester string) (string, error)
	ReleaseIfHeld(ctx context.Context, key, holder string) (bool, error)
	TTL() time.Duration
}

// Ratings is the subset of rating.Executor used by the workflow.
type Ratings interface {
	Validate(ownerID, resourceID int64, value float64) error
	WriteRating(ctx context.Context, ownerID, resourceID int64, value float64) (*rating.Rating, error)
	DeleteRating(ctx context.Context, ownerID, resourceID int64) (bool, error)
	GetRating(ctx context.Context, ownerID, resourceID int64) (*rating.Rating, error)
}

// Grant is returned when an interactive edit starts.
type Grant struct {
	Movie     *catalog.Movie `json:"movie"`
	Key       string         `json:"key"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Current   *rating.Rating `json:"current,omitempty"`
}

// Service runs edit workflows.
type Service struct {
	catalog catalog.Catalog
	locks   Locker
	ratings Ratings
	logger  zerolog.Logger
}

// NewService creates an edit workflow service.
func NewService(c catalog.Catalog, locks Locker, ratings Ratings, logger zerolog.Logger) *Service {
	return &Service{
		catalog: c,
		locks:   locks,
		ratings: ratings,
		logger:  logger.With().Str("component", "editor").Logger(),
	}
}

// ResolveMovie turns a movie id or title into a movie.
func (s *Service) ResolveMovie(ctx context.Context, ref string) (*catalog.Movie, error) {
	return catalog.ResolveMovie(ctx, s.catalog, ref)
}

// LockStatus returns who blocks sess from editing the movie, or "".
func (s *Service) LockStatus(ctx context.Context, sess Session, movieRef string) (string, error) {
	user, movie, err := s.validate(ctx, sess, movieRef)
	if err != nil {
		return "", err
	}
	return s.locks.Check(ctx, lock.MovieKey(movie.ID), Holder(user))
}

// SubmitRating writes sess's rating for the movie under its edit lock.
func (s *Service) SubmitRating(ctx context.Context, sess Session, movieRef string, value float64) (r *rating.Rating, err error) {
	defer func() { metrics.RecordEditSession("submit", outcome(err)) }()

	user, movie, err := s.validate(ctx, sess, movieRef)
	if err != nil {
		return nil, err
	}
	key, holder := lock.MovieKey(movie.ID), Holder(user)
	defer s.release(ctx, key, holder)

	if err := s.ratings.Validate(sess.UserID, movie.ID, value); err != nil {
		return nil, err
	}

	if _, err := s.acquire(ctx, key, holder, sess); err != nil {
		return nil, err
	}

	r, err = s.ratings.WriteRating(ctx, sess.UserID, movie.ID, value)
	if err != nil {
		return nil, fmt.Errorf("write rating: %w", err)
	}
	return r, nil
}

// RemoveRating deletes sess's rating for the movie under its edit lock. It
// reports false when there was no rating.
func (s *Service) RemoveRating(ctx context.Context, sess Session, movieRef string) (deleted bool, err error) {
	defer func() { metrics.RecordEditSession("remove", outcome(err)) }()

	user, movie, err := s.validate(ctx, sess, movieRef)
	if err != nil {
		return false, err
	}
	key, holder := lock.MovieKey(movie.ID), Holder(user)
	defer s.release(ctx, key, holder)

	if _, err := s.acquire(ctx, key, holder, sess); err != nil {
		return false, err
	}

	deleted, err = s.ratings.DeleteRating(ctx, sess.UserID, movie.ID)
	if err != nil {
		return false, fmt.Errorf("delete rating: %w", err)
	}
	return deleted, nil
}

// BeginEdit takes the movie's lock for an interactive edit and returns the
// current rating, if any. The lock stays held until EndEdit, a submit or
// remove by the same session, or TTL expiry.
func (s *Service) BeginEdit(ctx context.Context, sess Session, movieRef string) (g *Grant, err error) {
	defer func() { metrics.RecordEditSession("begin", outcome(err)) }()

	user, movie, err := s.validate(ctx, sess, movieRef)
	if err != nil {
		return nil, err
	}
	key, holder := lock.MovieKey(movie.ID), Holder(user)

	rec, err := s.acquire(ctx, key, holder, sess)
	if err != nil {
		return nil, err
	}

	current, err := s.ratings.GetRating(ctx, sess.UserID, movie.ID)
	if err != nil && !errors.Is(err, rating.ErrNotFound) {
		s.release(ctx, key, holder)
		return nil, fmt.Errorf("load current rating: %w", err)
	}

	return &Grant{
		Movie:     movie,
		Key:       key,
		ExpiresAt: rec.ExpiresAt(s.locks.TTL()),
		Current:   current,
	}, nil
}

// EndEdit releases the movie's lock if sess still holds it.
func (s *Service) EndEdit(ctx context.Context, sess Session, movieRef string) (released bool, err error) {
	defer func() { metrics.RecordEditSession("end", outcome(err)) }()

	user, movie, err := s.validate(ctx, sess, movieRef)
	if err != nil {
		return false, err
	}
	return s.locks.ReleaseIfHeld(ctx, lock.MovieKey(movie.ID), Holder(user))
}

// validate rejects unknown users and movies before any lock is touched.
func (s *Service) validate(ctx context.Context, sess Session, movieRef string) (*catalog.User, *catalog.Movie, error) {
	if sess.UserID <= 0 {
		return nil, nil, ErrInvalidSession
	}
	user, err := s.catalog.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("user %d: %w", sess.UserID, err)
	}
	movie, err := s.ResolveMovie(ctx, movieRef)
	if err != nil {
		return nil, nil, err
	}
	return user, movie, nil
}

// acquire returns the lock record now owned by holder.
func (s *Service) acquire(ctx context.Context, key, holder string, sess Session) (*lock.Record, error) {
	res, err := s.locks.Acquire(ctx, key, holder)
	if err != nil {
		return nil, err
	}
	if !res.Acquired {
		log := logging.EditLogger(s.logger, key, holder)
		log.Info().
			Str("displayName", sess.DisplayName).
			Str("heldBy", res.HeldBy).
			Msg("edit blocked by another session")
		return nil, &ContentionError{Key: key, HeldBy: res.HeldBy}
	}
	return res.Record, nil
}

// release runs on a context detached from ctx so a cancelled request still
// gives its lock back.
func (s *Service) release(ctx context.Context, key, holder string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if _, err := s.locks.ReleaseIfHeld(releaseCtx, key, holder); err != nil {
		log := logging.EditLogger(s.logger, key, holder)
		log.Error().Err(err).Msg("failed to release edit lock")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLockContention):
		return "contended"
	default:
		return "error"
	}
}
