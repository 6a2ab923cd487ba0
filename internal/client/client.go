// Package client is a small HTTP client for the rating service API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kneutral-org/rating-service/internal/api"
	"github.com/kneutral-org/rating-service/internal/editor"
	"github.com/kneutral-org/rating-service/internal/rating"
)

// APIError is a non-2xx response decoded from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
	HeldBy  string
}

func (e *APIError) Error() string {
	if e.HeldBy != "" {
		return fmt.Sprintf("%s (%d): %s, held by %s", e.Code, e.Status, e.Message, e.HeldBy)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to one rating service instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// UserID and UserName identify the caller on /edits routes.
	UserID   int64
	UserName string
}

// New returns a client with a default HTTP timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// AcquireLock asks for key on behalf of holder. Losing to another holder is
// not an error: the response has OK false and HeldBy set.
func (c *Client) AcquireLock(ctx context.Context, key, holder string) (*api.LockResponse, error) {
	var resp api.LockResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/locks/"+url.PathEscape(key)+"/acquire",
		api.LockRequest{Holder: holder}, &resp, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForceLock overwrites key with holder regardless of its current state.
func (c *Client) ForceLock(ctx context.Context, key, holder string) (*api.LockResponse, error) {
	var resp api.LockResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/locks/"+url.PathEscape(key)+"/force",
		api.LockRequest{Holder: holder}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckLock returns the live holder blocking requester, or "".
func (c *Client) CheckLock(ctx context.Context, key, requester string) (string, error) {
	var resp api.CheckResponse
	path := "/api/v1/locks/" + url.PathEscape(key) + "?requester=" + url.QueryEscape(requester)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.HeldBy == nil {
		return "", nil
	}
	return *resp.HeldBy, nil
}

// ReleaseLock deletes key. With a non-empty holder only that holder's lock
// is released.
func (c *Client) ReleaseLock(ctx context.Context, key, holder string) (bool, error) {
	var resp api.DeleteResponse
	path := "/api/v1/locks/" + url.PathEscape(key)
	if holder != "" {
		path += "?holder=" + url.QueryEscape(holder)
	}
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// PutRating writes a rating directly, without taking the edit lock.
func (c *Client) PutRating(ctx context.Context, ownerID, resourceID int64, value float64) (*rating.Rating, error) {
	var resp api.RatingResponse
	if err := c.doJSON(ctx, http.MethodPut, ratingPath(ownerID, resourceID),
		api.RatingRequest{Value: &value}, &resp); err != nil {
		return nil, err
	}
	return resp.Rating, nil
}

// GetRating reads one rating.
func (c *Client) GetRating(ctx context.Context, ownerID, resourceID int64) (*rating.Rating, error) {
	var r rating.Rating
	if err := c.doJSON(ctx, http.MethodGet, ratingPath(ownerID, resourceID), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRating removes one rating and reports whether it existed.
func (c *Client) DeleteRating(ctx context.Context, ownerID, resourceID int64) (bool, error) {
	var resp api.DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, ratingPath(ownerID, resourceID), nil, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// ListRatings returns every rating by ownerID.
func (c *Client) ListRatings(ctx context.Context, ownerID int64) ([]*rating.Rating, error) {
	var out []*rating.Rating
	path := "/api/v1/users/" + strconv.FormatInt(ownerID, 10) + "/ratings"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitEdit rates movie under the movie's edit lock.
func (c *Client) SubmitEdit(ctx context.Context, movie string, value float64) (*rating.Rating, error) {
	var resp api.RatingResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/edits/submit",
		api.EditRequest{Movie: movie, Value: &value}, &resp); err != nil {
		return nil, err
	}
	return resp.Rating, nil
}

// RemoveEdit deletes the caller's rating of movie under the edit lock.
func (c *Client) RemoveEdit(ctx context.Context, movie string) (bool, error) {
	var resp api.DeleteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/edits/remove", api.EditRequest{Movie: movie}, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// BeginEdit takes the movie's edit lock and keeps it.
func (c *Client) BeginEdit(ctx context.Context, movie string) (*editor.Grant, error) {
	var grant editor.Grant
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/edits/begin", api.EditRequest{Movie: movie}, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// EndEdit releases the caller's edit lock on movie.
func (c *Client) EndEdit(ctx context.Context, movie string) (bool, error) {
	var resp api.DeleteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/edits/end", api.EditRequest{Movie: movie}, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

func ratingPath(ownerID, resourceID int64) string {
	return "/api/v1/ratings/" + strconv.FormatInt(ownerID, 10) + "/" + strconv.FormatInt(resourceID, 10)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// doJSON sends body and decodes the response into out. Statuses listed in
// accept are decoded like a 2xx.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != 0 {
		req.Header.Set(api.HeaderUserID, strconv.FormatInt(c.UserID, 10))
	}
	if c.UserName != "" {
		req.Header.Set(api.HeaderUserName, c.UserName)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode < 200 || resp.StatusCode >= 300) && !slices.Contains(accept, resp.StatusCode) {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Status: resp.StatusCode}

	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.HeldBy = body.HeldBy
		return apiErr
	}

	apiErr.Code = "unexpectedStatus"
	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}
