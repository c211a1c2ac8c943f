package ledger

import (
	"context"
	"fmt"
	"sync"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
)

// PersistFunc stores an updated trip before it becomes visible.
type PersistFunc func(ctx context.Context, t domain.CompletedTrip) error

// Ledger is the append-only history of completed requests.
type Ledger struct {
	mu        sync.RWMutex
	trips     []domain.CompletedTrip
	byRequest map[string]int
	byDriver  map[string][]int
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{
		byRequest: make(map[string]int),
		byDriver:  make(map[string][]int),
	}
}

// Restore loads trips without persisting them.
func (l *Ledger) Restore(trips []domain.CompletedTrip) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range trips {
		if _, ok := l.byRequest[t.RequestID]; ok {
			continue
		}
		l.add(t)
	}
}

// Append records a completed trip. A request is recorded once.
func (l *Ledger) Append(_ context.Context, t domain.CompletedTrip) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byRequest[t.RequestID]; ok {
		return fmt.Errorf("trip %q already recorded: %w", t.RequestID, apperr.ErrPreconditionFailed)
	}
	l.add(t)
	return nil
}

// Get returns the trip of requestID.
func (l *Ledger) Get(_ context.Context, requestID string) (domain.CompletedTrip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byRequest[requestID]
	if !ok {
		return domain.CompletedTrip{}, fmt.Errorf("trip %q: %w", requestID, apperr.ErrNotFound)
	}
	return l.trips[i], nil
}

// ByDriver returns a copy of the driver's trips in completion order.
func (l *Ledger) ByDriver(_ context.Context, driverID string) ([]domain.CompletedTrip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.byDriver[driverID]
	out := make([]domain.CompletedTrip, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.trips[i])
	}
	return out, nil
}

// Len returns the number of recorded trips.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trips)
}

// Rate records the customer rating (1..5) of a completed trip once.
func (l *Ledger) Rate(ctx context.Context, requestID string, stars int, persist PersistFunc) (domain.CompletedTrip, error) {
	if stars < 1 || stars > 5 {
		return domain.CompletedTrip{}, fmt.Errorf("rating %d: %w", stars, apperr.ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byRequest[requestID]
	if !ok {
		return domain.CompletedTrip{}, fmt.Errorf("trip %q: %w", requestID, apperr.ErrNotFound)
	}
	t := l.trips[i]
	if t.Rated() {
		return domain.CompletedTrip{}, fmt.Errorf("trip %q already rated: %w", requestID, apperr.ErrPreconditionFailed)
	}
	t.Rating = stars
	if persist != nil {
		if err := persist(ctx, t); err != nil {
			return domain.CompletedTrip{}, err
		}
	}
	l.trips[i] = t
	return t, nil
}

func (l *Ledger) add(t domain.CompletedTrip) {
	l.trips = append(l.trips, t)
	i := len(l.trips) - 1
	l.byRequest[t.RequestID] = i
	l.byDriver[t.DriverID] = append(l.byDriver[t.DriverID], i)
}
