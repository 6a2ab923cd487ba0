// Package health tracks dependency health for /health and the gRPC health
// service.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "rating.v1.RatingService"

// Pinger checks one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker pings registered dependencies and mirrors the result into a gRPC
// health server.
type Checker struct {
	mu      sync.RWMutex
	pingers map[string]Pinger
	timeout time.Duration
	server  *health.Server
	logger  zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewChecker creates a checker with its own gRPC health server.
func NewChecker(logger zerolog.Logger) *Checker {
	c := &Checker{
		pingers: make(map[string]Pinger),
		timeout: 2 * time.Second,
		server:  health.NewServer(),
		logger:  logger.With().Str("component", "health").Logger(),
	}
	c.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Register adds a named dependency.
func (c *Checker) Register(name string, p Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingers[name] = p
}

// Server returns the gRPC health server to register on a grpc.Server.
func (c *Checker) Server() *health.Server {
	return c.server
}

// Check pings every dependency and returns the failures by name.
func (c *Checker) Check(ctx context.Context) map[string]error {
	c.mu.RLock()
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	failures := make(map[string]error)
	for _, name := range names {
		c.mu.RLock()
		p := c.pingers[name]
		c.mu.RUnlock()

		pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Err is Check folded into one error, nil when everything is healthy.
func (c *Checker) Err(ctx context.Context) error {
	failures := c.Check(ctx)
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failures))
	for name, err := range failures {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Refresh runs one check and updates the gRPC serving status.
func (c *Checker) Refresh(ctx context.Context) {
	failures := c.Check(ctx)
	if len(failures) == 0 {
		c.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	for name, err := range failures {
		c.logger.Warn().Err(err).Str("dependency", name).Msg("dependency unhealthy")
	}
	c.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Start refreshes immediately and then every interval until Stop.
func (c *Checker) Start(interval time.Duration) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)

		c.Refresh(context.Background())

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Refresh(context.Background())
			}
		}
	}()
}

// Stop ends periodic refreshes and marks the service as shutting down.
func (c *Checker) Stop() {
	if c.stopCh != nil {
		close(c.stopCh)
		<-c.doneCh
		c.stopCh = nil
	}
	c.server.Shutdown()
}

func (c *Checker) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
