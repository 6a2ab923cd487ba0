package logging

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewLogger_ParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewLogger("test-service", tt.level).GetLevel())
			assert.Equal(t, tt.expected, New("test-service", tt.level, true).GetLevel())
		})
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := ContextWithLogger(context.Background(), logger)

	extracted := LoggerFromContext(ctx)
	extracted.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// No logger stored: writes go nowhere rather than panicking.
	empty := LoggerFromContext(context.Background())
	empty.Info().Msg("dropped")
}

func TestEditLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := EditLogger(zerolog.New(&buf), "movie:42", "alice")

	logger.Info().Msg("edit")

	assert.Contains(t, buf.String(), `"key":"movie:42"`)
	assert.Contains(t, buf.String(), `"holder":"alice"`)
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		level      string
	}{
		{"success", http.StatusOK, "info"},
		{"client_error", http.StatusConflict, "warn"},
		{"server_error", http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			var handlerLogged bool
			router := gin.New()
			router.Use(RequestLogger(logger))
			router.GET("/api/v1/locks/:key", func(c *gin.Context) {
				l := LoggerFromContext(c.Request.Context())
				l.Info().Msg("inside handler")
				handlerLogged = true
				c.Status(tt.statusCode)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/locks/movie:1?requester=bob", nil)
			req.Header.Set("X-Request-ID", "req-123")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.True(t, handlerLogged)
			assert.Equal(t, tt.statusCode, rec.Code)

			out := buf.String()
			assert.Contains(t, out, "inside handler")
			assert.Contains(t, out, `"requestId":"req-123"`)
			assert.Contains(t, out, "http_request")
			assert.Contains(t, out, `"level":"`+tt.level+`"`)
		})
	}
}

func TestGRPCLogger(t *testing.T) {
	var buf bytes.Buffer
	interceptor := GRPCLogger(zerolog.New(&buf))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "storage down")
	})
	assert.Nil(t, resp)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, buf.String(), "Unavailable")
	assert.Contains(t, buf.String(), "/grpc.health.v1.Health/Check")
}

func TestGRPCStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	interceptor := GRPCStreamLogger(zerolog.New(&buf))
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}

	err := interceptor(nil, nil, info, func(srv interface{}, stream grpc.ServerStream) error {
		return errors.New("stream broke")
	})
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "grpc_stream")
	assert.Contains(t, buf.String(), "stream broke")
}
