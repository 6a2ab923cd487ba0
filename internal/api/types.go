// Package api exposes the lock manager, the rating executor and the edit
// workflow over HTTP/JSON.
package api

import (
	"time"

	"github.com/kneutral-org/rating-service/internal/rating"
)

// Headers carrying the caller's identity on /edits routes.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// LockRequest is the body of acquire and force requests.
type LockRequest struct {
	Holder string `json:"holder" binding:"required"`
}

// LockResponse reports the outcome of an acquire. On contention OK is false
// and HeldBy names the live holder.
type LockResponse struct {
	OK         bool       `json:"ok"`
	HeldBy     string     `json:"heldBy,omitempty"`
	AcquiredAt *time.Time `json:"acquiredAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// CheckResponse reports who blocks the requester; HeldBy is null when free.
type CheckResponse struct {
	HeldBy *string `json:"heldBy"`
}

// RatingRequest is the body of a rating write.
type RatingRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

// RatingResponse reports a rating write.
type RatingResponse struct {
	OK     bool           `json:"ok"`
	Rating *rating.Rating `json:"rating,omitempty"`
}

// DeleteResponse reports whether something was deleted or released.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// EditRequest names a movie by id or title, with a value for submits.
type EditRequest struct {
	Movie string   `json:"movie" binding:"required"`
	Value *float64 `json:"value,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
