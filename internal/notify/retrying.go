package notify

import (
	"context"
	"errors"
	"time"

	"service-dispatch/internal/logx"
)

type counter interface {
	Inc()
}

// RetryConfig describes the backoff of Retrying.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Retrying retries transient delivery failures with capped exponential backoff.
type Retrying struct {
	next    Notifier
	logger  logx.Logger
	retries counter
	cfg     RetryConfig
}

// NewRetrying wraps next; a nil next yields nil.
func NewRetrying(next Notifier, logger logx.Logger, retries counter, cfg RetryConfig) *Retrying {
	if next == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Retrying{next: next, logger: logger, retries: retries, cfg: cfg}
}

// Notify delivers ev, retrying until MaxAttempts or a permanent error.
func (r *Retrying) Notify(ctx context.Context, ev Event) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.next.Notify(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == r.cfg.MaxAttempts || !isRetryable(err) {
			break
		}

		delay := backoff(r.cfg.BaseDelay, r.cfg.MaxDelay, attempt)
		if r.retries != nil {
			r.retries.Inc()
		}
		r.logger.Warn("notify retry",
			logx.String("type", ev.Type),
			logx.String("recipient", ev.Recipient),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if !sleepWithContext(ctx, delay) {
			break
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsPermanent(err)
}

// backoff doubles base per attempt up to max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= max || d <= 0 {
			return max
		}
		d *= 2
	}
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Notifier = (*Retrying)(nil)
