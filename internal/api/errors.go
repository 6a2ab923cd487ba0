package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kneutral-org/rating-service/internal/catalog"
	"github.com/kneutral-org/rating-service/internal/editor"
	"github.com/kneutral-org/rating-service/internal/lock"
	"github.com/kneutral-org/rating-service/internal/logging"
	"github.com/kneutral-org/rating-service/internal/rating"
	"github.com/kneutral-org/rating-service/internal/storage"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	HeldBy  string `json:"heldBy,omitempty"`
}

// statusFor maps a domain error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "storageUnavailable"
	case errors.Is(err, editor.ErrLockContention):
		return http.StatusConflict, "lockContention"
	case errors.Is(err, rating.ErrVerificationMismatch):
		return http.StatusConflict, "verificationMismatch"
	case errors.Is(err, rating.ErrUnexpectedRowCount):
		return http.StatusConflict, "unexpectedRowCount"
	case errors.Is(err, lock.ErrAcquireRaced):
		return http.StatusConflict, "acquireRaced"
	case errors.Is(err, catalog.ErrUserNotFound),
		errors.Is(err, catalog.ErrMovieNotFound),
		errors.Is(err, rating.ErrNotFound):
		return http.StatusNotFound, "notFound"
	case errors.Is(err, rating.ErrInvalidValue),
		errors.Is(err, rating.ErrUnknownReference):
		return http.StatusUnprocessableEntity, "constraintViolation"
	case errors.Is(err, lock.ErrInvalidKey),
		errors.Is(err, lock.ErrInvalidHolder),
		errors.Is(err, catalog.ErrEmptyReference):
		return http.StatusBadRequest, "invalidRequest"
	case errors.Is(err, editor.ErrInvalidSession):
		return http.StatusUnauthorized, "unauthenticated"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError sends err as JSON. Only server-side failures are logged at
// error level; contention and validation are expected outcomes.
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)

	resp := ErrorResponse{Error: code, Message: err.Error()}
	var contention *editor.ContentionError
	if errors.As(err, &contention) {
		resp.HeldBy = contention.HeldBy
	}

	if status >= http.StatusInternalServerError {
		logger := logging.LoggerFromContext(c.Request.Context())
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalidRequest", Message: message})
}
