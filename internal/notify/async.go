package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"service-dispatch/internal/logx"
)

// ErrQueueFull is returned when the async queue has no room.
var ErrQueueFull = errors.New("notify queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notifier closed")

// AsyncConfig sizes the delivery queue.
type AsyncConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Async hands events to a bounded queue drained by a fixed worker pool.
// Notify never blocks; on overflow the event is dropped and counted.
type Async struct {
	next    Notifier
	cfg     AsyncConfig
	logger  logx.Logger
	dropped prometheus.Counter

	queue chan Event

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewAsync wraps next. Start must be called before events are delivered.
func NewAsync(next Notifier, cfg AsyncConfig, logger logx.Logger, dropped prometheus.Counter) *Async {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Async{
		next:    next,
		cfg:     cfg,
		logger:  logger,
		dropped: dropped,
		queue:   make(chan Event, cfg.QueueSize),
	}
}

// Start launches the workers. Deliveries use ctx, not the caller's context.
func (a *Async) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx, i)
	}
	a.logger.Info("notify workers started", logx.Int("workers", a.cfg.Workers), logx.Int("queue", a.cfg.QueueSize))
}

// Notify enqueues ev.
func (a *Async) Notify(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		if a.dropped != nil {
			a.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Pending returns the number of queued events.
func (a *Async) Pending() int { return len(a.queue) }

// Close stops accepting events and waits for queued ones to drain.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

func (a *Async) worker(ctx context.Context, n int) {
	defer a.wg.Done()
	for ev := range a.queue {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.SendTimeout)
		err := a.next.Notify(sendCtx, ev)
		cancel()
		if err != nil {
			a.logger.Warn("notification delivery failed",
				logx.Int("worker", n),
				logx.String("type", ev.Type),
				logx.String("recipient", ev.Recipient),
				logx.String("request_id", ev.RequestID),
				logx.Err(err),
			)
		}
	}
}

var _ Notifier = (*Async)(nil)
