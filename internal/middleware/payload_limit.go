// Package middleware provides HTTP middleware for the rating API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxPayloadKey = "maxPayloadBytes"

// PayloadLimitErrorResponse is the JSON body sent for oversized requests.
type PayloadLimitErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	MaxBytes int64  `json:"maxBytes"`
}

// PayloadLimit caps request bodies at maxBytes. Requests that declare a larger
// Content-Length are rejected at once; others get a body reader that fails
// past the limit, which PayloadLimitErrorHandler turns into a 413.
func PayloadLimit(maxBytes int64, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			logOversizedRequest(logger, c, c.Request.ContentLength, maxBytes)
			respondPayloadTooLarge(c, maxBytes)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Set(maxPayloadKey, maxBytes)

		c.Next()
	}
}

// PayloadLimitErrorHandler converts a handler's *http.MaxBytesError, recorded
// with c.Error, into a 413 response. Register it before PayloadLimit.
func PayloadLimitErrorHandler(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			var maxBytesErr *http.MaxBytesError
			if !errors.As(ginErr.Err, &maxBytesErr) {
				continue
			}

			maxBytes := c.GetInt64(maxPayloadKey)
			logOversizedRequest(logger, c, -1, maxBytes)

			c.Errors = c.Errors[:0]
			if !c.Writer.Written() {
				respondPayloadTooLarge(c, maxBytes)
			}
			return
		}
	}
}

func logOversizedRequest(logger zerolog.Logger, c *gin.Context, attemptedSize, maxBytes int64) {
	event := logger.Warn().
		Str("clientIp", c.ClientIP()).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int64("maxBytes", maxBytes)
	if attemptedSize >= 0 {
		event.Int64("attemptedSize", attemptedSize)
	}
	event.Msg("oversized request rejected")
}

func respondPayloadTooLarge(c *gin.Context, maxBytes int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, PayloadLimitErrorResponse{
		Error:    "payloadTooLarge",
		Message:  "request body exceeds the maximum allowed size",
		MaxBytes: maxBytes,
	})
}
