package dispatch

import (
	"context"
	"time"

	"service-dispatch/internal/logx"
)

type sweepTarget interface {
	SweepOffers(ctx context.Context, now time.Time) []string
	DetectLost(ctx context.Context, now time.Time) []string
}

// Sweeper periodically expires offers and fails requests of lost drivers.
type Sweeper struct {
	target   sweepTarget
	interval time.Duration
	logger   logx.Logger
	now      func() time.Time
}

// NewSweeper returns a Sweeper ticking every interval.
func NewSweeper(target sweepTarget, interval time.Duration, logger logx.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.logger.Info("dispatch sweeper started", logx.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dispatch sweeper stopped")
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep.
func (s *Sweeper) Tick(ctx context.Context) {
	now := s.now()
	reverted := s.target.SweepOffers(ctx, now)
	failed := s.target.DetectLost(ctx, now)
	if len(reverted) > 0 || len(failed) > 0 {
		s.logger.Info("dispatch sweep",
			logx.Int("searching_again", len(reverted)),
			logx.Int("failed", len(failed)),
		)
	}
}
