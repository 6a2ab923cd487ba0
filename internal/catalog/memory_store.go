package catalog

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Catalog for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]*User
	movies map[int64]*Movie
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*User),
		movies: make(map[int64]*Movie),
	}
}

// AddUser stores a user.
func (s *MemoryStore) AddUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddMovie stores a movie.
func (s *MemoryStore) AddMovie(m *Movie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies[m.ID] = m
}

// GetUser implements Catalog.
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// GetMovie implements Catalog.
func (s *MemoryStore) GetMovie(_ context.Context, id int64) (*Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, ErrMovieNotFound
	}
	return m, nil
}

// FindMovieByTitle implements Catalog.
func (s *MemoryStore) FindMovieByTitle(_ context.Context, title string) (*Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Movie
	for _, m := range s.movies {
		if !strings.EqualFold(m.Title, title) {
			continue
		}
		if found == nil || m.ID < found.ID {
			found = m
		}
	}
	if found == nil {
		return nil, ErrMovieNotFound
	}
	return found, nil
}
