// Package logging provides structured logging utilities.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "requestId"

// New creates the service logger: JSON on stdout, or console output when pretty.
func New(serviceName, level string, pretty bool) zerolog.Logger {
	if pretty {
		return NewPrettyLogger(serviceName, level)
	}
	return NewLogger(serviceName, level)
}

// NewLogger creates a new zerolog logger configured for the service.
func NewLogger(serviceName string, level string) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// NewPrettyLogger creates a logger with pretty console output (for development).
func NewPrettyLogger(serviceName string, level string) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(consoleWriter).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// RequestLogger returns a Gin middleware for HTTP request logging. It also
// stores a request-scoped logger in the request context for handlers.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		requestID := c.GetString(RequestIDKey)
		if requestID == "" {
			requestID = c.GetHeader("X-Request-ID")
		}

		reqLogger := logger
		if requestID != "" {
			reqLogger = logger.With().Str("requestId", requestID).Logger()
		}
		c.Request = c.Request.WithContext(ContextWithLogger(c.Request.Context(), reqLogger))

		c.Next()

		statusCode := c.Writer.Status()

		event := reqLogger.Info()
		if statusCode >= 400 && statusCode < 500 {
			event = reqLogger.Warn()
		} else if statusCode >= 500 {
			event = reqLogger.Error()
		}

		event.
			Str("type", "http_request").
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", statusCode).
			Str("clientIp", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("bodySize", c.Writer.Size()).
			Str("userAgent", c.Request.UserAgent())

		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}

		event.Msg("HTTP request")
	}
}

// GRPCLogger returns a gRPC unary server interceptor for request logging.
func GRPCLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logGRPC(logger, "grpc_request", info.FullMethod, start, err)
		return resp, err
	}
}

// GRPCStreamLogger returns a gRPC stream server interceptor for request logging.
// Health watches are streams, so this covers them.
func GRPCStreamLogger(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		logGRPC(logger, "grpc_stream", info.FullMethod, start, err)
		return err
	}
}

func logGRPC(logger zerolog.Logger, kind, method string, start time.Time, err error) {
	code := status.Code(err)

	event := logger.Debug()
	if code != codes.OK && code != codes.Canceled {
		event = logger.Error()
	}

	event.
		Str("type", kind).
		Str("method", method).
		Str("code", code.String()).
		Dur("latency", time.Since(start))

	if err != nil {
		event.Err(err)
	}

	event.Msg("gRPC call")
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// LoggerFromContext extracts the logger from context. It returns a disabled
// logger when none was stored.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// EditLogger creates a logger for one edit of one movie by one holder.
func EditLogger(logger zerolog.Logger, key, holder string) zerolog.Logger {
	return logger.With().
		Str("key", key).
		Str("holder", holder).
		Logger()
}
