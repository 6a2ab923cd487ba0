package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LeaderElector keeps trying to hold a DistributedLock and renews it while
// held. Only the elected instance runs singleton jobs such as the sweeper.
type LeaderElector struct {
	lock   DistributedLock
	logger zerolog.Logger

	isLeader     atomic.Bool
	renewalRate  time.Duration
	retryBackoff time.Duration

	onBecomeLeader func()
	onLoseLeader   func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// LeaderElectorOption configures a LeaderElector.
type LeaderElectorOption func(*LeaderElector)

// WithRenewalRate sets how often the leader renews its lease.
// Keep it well under the lock TTL; a third of it is a good default.
func WithRenewalRate(d time.Duration) LeaderElectorOption {
	return func(e *LeaderElector) {
		if d > 0 {
			e.renewalRate = d
		}
	}
}

// WithRetryBackoff sets how long a follower waits between acquire attempts.
func WithRetryBackoff(d time.Duration) LeaderElectorOption {
	return func(e *LeaderElector) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

// WithOnBecomeLeader sets a callback run when this instance becomes leader.
func WithOnBecomeLeader(fn func()) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.onBecomeLeader = fn
	}
}

// WithOnLoseLeader sets a callback run when this instance loses leadership.
func WithOnLoseLeader(fn func()) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.onLoseLeader = fn
	}
}

// NewLeaderElector creates a leader elector over lock.
func NewLeaderElector(lock DistributedLock, logger zerolog.Logger, opts ...LeaderElectorOption) *LeaderElector {
	e := &LeaderElector{
		lock:         lock,
		logger:       logger.With().Str("component", "leader-elector").Logger(),
		renewalRate:  DefaultTTL / 3,
		retryBackoff: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the election loop in the background until Stop or ctx is done.
func (e *LeaderElector) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop ends the loop and gives up leadership if held.
func (e *LeaderElector) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()

	if !e.isLeader.Load() {
		return
	}
	if err := e.lock.Release(ctx); err != nil {
		e.logger.Error().Err(err).Msg("failed to release leadership on shutdown")
	} else {
		e.logger.Info().Msg("released leadership on shutdown")
	}
	e.setLeader(false)
}

// IsLeader reports whether this instance currently leads.
func (e *LeaderElector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *LeaderElector) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		e.tick(ctx)

		wait := e.retryBackoff
		if e.isLeader.Load() {
			wait = e.renewalRate
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (e *LeaderElector) tick(ctx context.Context) {
	if !e.isLeader.Load() {
		e.tryAcquire(ctx)
		return
	}

	if err := e.lock.Extend(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("failed to renew leadership")
		e.setLeader(false)
		e.tryAcquire(ctx)
		return
	}
	e.logger.Debug().Msg("renewed leadership")
}

func (e *LeaderElector) tryAcquire(ctx context.Context) {
	acquired, err := e.lock.Acquire(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to acquire leadership")
		return
	}
	if acquired {
		e.logger.Info().Msg("acquired leadership")
		e.setLeader(true)
		return
	}
	e.logger.Debug().Msg("another instance is leader")
}

func (e *LeaderElector) setLeader(leader bool) {
	if e.isLeader.Swap(leader) == leader {
		return
	}
	if leader && e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
	if !leader && e.onLoseLeader != nil {
		e.onLoseLeader()
	}
}
