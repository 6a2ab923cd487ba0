package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/rating-service/internal/api"
	"github.com/kneutral-org/rating-service/internal/catalog"
	"github.com/kneutral-org/rating-service/internal/editor"
	"github.com/kneutral-org/rating-service/internal/lock"
	"github.com/kneutral-org/rating-service/internal/rating"
)

type memRatings struct {
	mu     sync.Mutex
	values map[[2]int64]float64
	policy *rating.Policy
}

func (m *memRatings) Validate(owner, resource int64, value float64) error {
	return m.policy.Check(owner, resource, value)
}

func (m *memRatings) WriteRating(_ context.Context, owner, resource int64, value float64) (*rating.Rating, error) {
	if err := m.Validate(owner, resource, value); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[[2]int64{owner, resource}] = value
	return &rating.Rating{OwnerID: owner, ResourceID: resource, Value: value}, nil
}

func (m *memRatings) DeleteRating(_ context.Context, owner, resource int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]int64{owner, resource}
	_, ok := m.values[k]
	delete(m.values, k)
	return ok, nil
}

func (m *memRatings) GetRating(_ context.Context, owner, resource int64) (*rating.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[[2]int64{owner, resource}]
	if !ok {
		return nil, rating.ErrNotFound
	}
	return &rating.Rating{OwnerID: owner, ResourceID: resource, Value: v}, nil
}

func (m *memRatings) ListUserRatings(_ context.Context, owner int64) ([]*rating.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*rating.Rating
	for k, v := range m.values {
		if k[0] == owner {
			out = append(out, &rating.Rating{OwnerID: k[0], ResourceID: k[1], Value: v})
		}
	}
	return out, nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat := catalog.NewMemoryStore()
	cat.AddUser(&catalog.User{ID: 7, Username: "alice"})
	cat.AddUser(&catalog.User{ID: 8, Username: "bob"})
	cat.AddMovie(&catalog.Movie{ID: 42, Title: "The Matrix"})

	locks := lock.NewManager(lock.NewMemoryStore())
	ratings := &memRatings{values: make(map[[2]int64]float64), policy: rating.MustPolicy(rating.DefaultPolicy)}
	edits := editor.NewService(cat, locks, ratings, zerolog.Nop())
	router := api.NewRouter(api.NewHandler(locks, ratings, edits), api.RouterConfig{MaxPayloadSize: 4096}, zerolog.Nop())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestClient_Locks(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	resp, err := c.AcquireLock(ctx, "res:42", "u1")
	require.NoError(t, err)
	assert.True(t, resp.OK)

	resp, err = c.AcquireLock(ctx, "res:42", "u2")
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "u1", resp.HeldBy)

	holder, err := c.CheckLock(ctx, "res:42", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", holder)

	released, err := c.ReleaseLock(ctx, "res:42", "u2")
	require.NoError(t, err)
	assert.False(t, released)

	resp, err = c.ForceLock(ctx, "res:42", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", resp.HeldBy)

	released, err = c.ReleaseLock(ctx, "res:42", "")
	require.NoError(t, err)
	assert.True(t, released)

	holder, err = c.CheckLock(ctx, "res:42", "u1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestClient_Ratings(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	r, err := c.PutRating(ctx, 7, 42, 4.5)
	require.NoError(t, err)
	assert.Equal(t, 4.5, r.Value)

	r, err = c.GetRating(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, 4.5, r.Value)

	list, err := c.ListRatings(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := c.DeleteRating(ctx, 7, 42)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = c.GetRating(ctx, 7, 42)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "notFound", apiErr.Code)

	_, err = c.PutRating(ctx, 7, 42, 7)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestClient_Edits(t *testing.T) {
	ctx := context.Background()
	alice := newTestClient(t)
	alice.UserID, alice.UserName = 7, "alice"

	bob := New(alice.BaseURL)
	bob.UserID, bob.UserName = 8, "bob"

	grant, err := bob.BeginEdit(ctx, "the matrix")
	require.NoError(t, err)
	assert.Equal(t, "movie:42", grant.Key)

	_, err = alice.SubmitEdit(ctx, "42", 4)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "bob#8", apiErr.HeldBy)

	released, err := bob.EndEdit(ctx, "42")
	require.NoError(t, err)
	assert.True(t, released)

	r, err := alice.SubmitEdit(ctx, "42", 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, r.Value)

	deleted, err := alice.RemoveEdit(ctx, "42")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestClient_Unauthenticated(t *testing.T) {
	c := newTestClient(t)
	_, err := c.SubmitEdit(context.Background(), "42", 4)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
