// Package catalog looks up the users and movies that ratings refer to.
// Every edit is validated against it before a lock is taken.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrMovieNotFound is returned when a movie id or title does not exist.
	ErrMovieNotFound = errors.New("movie not found")
	// ErrEmptyReference is returned when a movie reference is blank.
	ErrEmptyReference = errors.New("movie reference is required")
)

// User is a rating owner.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Movie is a rated resource.
type Movie struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"releaseDate,omitempty"`
}

// Catalog resolves user and movie identities.
type Catalog interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	GetMovie(ctx context.Context, id int64) (*Movie, error)
	// FindMovieByTitle matches the title case-insensitively and exactly.
	FindMovieByTitle(ctx context.Context, title string) (*Movie, error)
}

// ResolveMovie turns a human-entered reference into a movie. A numeric
// reference is treated as an id, anything else as a title.
func ResolveMovie(ctx context.Context, c Catalog, ref string) (*Movie, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyReference
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		movie, err := c.GetMovie(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve movie %d: %w", id, err)
		}
		return movie, nil
	}

	movie, err := c.FindMovieByTitle(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve movie %q: %w", ref, err)
	}
	return movie, nil
}
