package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kneutral-org/rating-service/internal/storage"
)

// PostgresStore reads users and movies from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetUser implements Catalog.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `SELECT user_id, username, COALESCE(email, '') FROM users WHERE user_id = $1`

	user := &User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storage.Unavailable("get user", err)
	}
	return user, nil
}

// GetMovie implements Catalog.
func (s *PostgresStore) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	query := `SELECT movie_id, title, COALESCE(release_date, '') FROM movies WHERE movie_id = $1`
	return s.scanMovie(s.db.QueryRowContext(ctx, query, id))
}

// FindMovieByTitle implements Catalog. Ties on title resolve to the lowest id.
func (s *PostgresStore) FindMovieByTitle(ctx context.Context, title string) (*Movie, error) {
	query := `
		SELECT movie_id, title, COALESCE(release_date, '')
		FROM movies
		WHERE LOWER(title) = LOWER($1)
		ORDER BY movie_id
		LIMIT 1
	`
	return s.scanMovie(s.db.QueryRowContext(ctx, query, title))
}

func (s *PostgresStore) scanMovie(row *sql.Row) (*Movie, error) {
	movie := &Movie{}
	err := row.Scan(&movie.ID, &movie.Title, &movie.ReleaseDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMovieNotFound
		}
		return nil, storage.Unavailable("get movie", err)
	}
	return movie, nil
}

// UpsertUser inserts or updates a user. Used for seeding.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, email)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username, email = EXCLUDED.email
	`, user.ID, user.Username, user.Email)
	return storage.Unavailable("upsert user", err)
}

// UpsertMovie inserts or updates a movie. Used for seeding.
func (s *PostgresStore) UpsertMovie(ctx context.Context, movie *Movie) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO movies (movie_id, title, release_date)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (movie_id) DO UPDATE
		SET title = EXCLUDED.title, release_date = EXCLUDED.release_date
	`, movie.ID, movie.Title, movie.ReleaseDate)
	return storage.Unavailable("upsert movie", err)
}
