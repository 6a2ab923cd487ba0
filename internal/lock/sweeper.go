package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner removes expired records and reports how many were removed.
type Cleaner interface {
	Sweep(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired lock records. Expired rows are
// already ignored by every read, so the sweeper only bounds table growth.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	timeout  time.Duration
	active   func() bool
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithActiveCheck makes the sweeper skip runs while fn returns false,
// typically LeaderElector.IsLeader.
func WithActiveCheck(fn func() bool) SweeperOption {
	return func(s *Sweeper) {
		s.active = fn
	}
}

// WithSweepTimeout bounds each sweep run.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(cleaner Cleaner, interval time.Duration, logger zerolog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		timeout:  30 * time.Second,
		active:   func() bool { return true },
		logger:   logger.With().Str("component", "lock-sweeper").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins sweeping in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the sweeper to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	s.runOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Sweeper) runOnce() {
	if !s.active() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.cleaner.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to sweep expired locks")
		return
	}

	if count > 0 {
		s.logger.Info().
			Int64("removedCount", count).
			Msg("swept expired locks")
	}
}
