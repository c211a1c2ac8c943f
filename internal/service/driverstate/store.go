package driverstate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/ports/dispatchtx"
)

// ErrNotHolding is returned by release when the driver does not hold the given request.
var ErrNotHolding = fmt.Errorf("%w: driver does not hold the request", apperr.ErrPreconditionFailed)

// BindFunc runs while the driver slot is locked and must persist next.
// Returning an error discards next.
type BindFunc func(ctx context.Context, next domain.Driver) error

// EligibilityGate is an external check (documents, vehicle) before a driver goes available.
type EligibilityGate interface {
	Eligible(ctx context.Context, d domain.Driver) error
}

// AllowAll lets every driver through.
type AllowAll struct{}

// Eligible always returns nil.
func (AllowAll) Eligible(context.Context, domain.Driver) error { return nil }

// CommitHook observes every published change of a driver. It runs while the
// driver slot is still locked, so hooks see changes of one driver in order.
type CommitHook func(ctx context.Context, prev, next domain.Driver)

// Store owns the state of every driver. Mutations of one driver are
// serialized by its slot mutex; readers load the last committed copy
// without locking.
type Store struct {
	mu    sync.RWMutex
	slots map[string]*slot

	tx     dispatchtx.Runner
	gate   EligibilityGate
	logger logx.Logger
	now    func() time.Time
	hook   CommitHook
}

type slot struct {
	mu  sync.Mutex
	cur atomic.Pointer[domain.Driver]
}

func (s *slot) load() domain.Driver {
	return s.cur.Load().Clone()
}

// NewStore creates a Store persisting through tx.
func NewStore(tx dispatchtx.Runner, gate EligibilityGate, logger logx.Logger) *Store {
	if tx == nil {
		tx = dispatchtx.NopRunner{}
	}
	if gate == nil {
		gate = AllowAll{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Store{
		slots:  make(map[string]*slot),
		tx:     tx,
		gate:   gate,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OnCommit installs h. It must be called before the store is shared.
func (s *Store) OnCommit(h CommitHook) {
	s.hook = h
}

// Restore loads drivers without persisting them again.
func (s *Store) Restore(drivers []domain.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range drivers {
		d := d.Clone()
		sl := &slot{}
		sl.cur.Store(&d)
		s.slots[d.ID] = sl
	}
}

// Register creates an offline driver. Registering an existing id returns the stored driver.
func (s *Store) Register(ctx context.Context, id string) (domain.Driver, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Driver{}, apperr.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[id]; ok {
		return sl.load(), nil
	}

	d := domain.NewDriver(id, s.now())
	if err := s.save(ctx, d); err != nil {
		return domain.Driver{}, err
	}
	sl := &slot{}
	sl.cur.Store(&d)
	s.slots[id] = sl

	s.logger.Info("driver registered", logx.String("driver_id", id))
	return d.Clone(), nil
}

// Get returns the last committed state of a driver.
func (s *Store) Get(id string) (domain.Driver, error) {
	sl := s.slot(id)
	if sl == nil {
		return domain.Driver{}, fmt.Errorf("driver %q: %w", id, apperr.ErrNotFound)
	}
	return sl.load(), nil
}

// Snapshot returns all drivers ordered by id.
func (s *Store) Snapshot() []domain.Driver {
	s.mu.RLock()
	out := make([]domain.Driver, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl.load())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetOnline switches the driver between offline and online.
func (s *Store) SetOnline(ctx context.Context, id string, online bool) (domain.Driver, error) {
	return s.mutate(ctx, id, s.save, func(cur domain.Driver, now time.Time) (domain.Driver, bool, error) {
		if online {
			if cur.IsOnline() {
				return cur, false, nil
			}
			cur.OnlineStatus = domain.Online
			cur.OnlineSince = now
			return cur, true, nil
		}

		if cur.HasActiveRequest() {
			return cur, false, fmt.Errorf("driver %q holds %q: %w", id, cur.ActiveRequestID, apperr.ErrConflictActiveRequest)
		}
		if !cur.IsOnline() {
			return cur, false, nil
		}
		goOffline(&cur, now)
		return cur, true, nil
	})
}

// SetAvailability toggles whether the driver takes new work.
func (s *Store) SetAvailability(ctx context.Context, id string, available bool) (domain.Driver, error) {
	return s.mutate(ctx, id, s.save, func(cur domain.Driver, _ time.Time) (domain.Driver, bool, error) {
		if !available {
			if cur.Availability == domain.Unavailable {
				return cur, false, nil
			}
			cur.Availability = domain.Unavailable
			return cur, true, nil
		}

		switch {
		case !cur.IsOnline():
			return cur, false, fmt.Errorf("driver %q is offline: %w", id, apperr.ErrPreconditionFailed)
		case cur.HasActiveRequest():
			return cur, false, fmt.Errorf("driver %q holds %q: %w", id, cur.ActiveRequestID, apperr.ErrPreconditionFailed)
		}
		if err := s.gate.Eligible(ctx, cur); err != nil {
			return cur, false, fmt.Errorf("driver %q not eligible (%v): %w", id, err, apperr.ErrPreconditionFailed)
		}
		if cur.IsAvailable() {
			return cur, false, nil
		}
		cur.Availability = domain.Available
		return cur, true, nil
	})
}

// UpdateLocation stores the latest position report.
func (s *Store) UpdateLocation(ctx context.Context, id string, sample domain.LocationSample) (domain.Driver, error) {
	if !sample.Point().Valid() {
		return domain.Driver{}, fmt.Errorf("location (%f, %f): %w", sample.Lat, sample.Lng, apperr.ErrInvalid)
	}
	return s.mutate(ctx, id, s.save, func(cur domain.Driver, now time.Time) (domain.Driver, bool, error) {
		if sample.Timestamp.IsZero() {
			sample.Timestamp = now
		}
		if cur.Location != nil && sample.Timestamp.Before(cur.Location.Timestamp) {
			// out-of-order report
			return cur, false, nil
		}
		loc := sample
		cur.Location = &loc
		return cur, true, nil
	})
}

// RecordOffered increments TotalOffered for every driver in ids.
func (s *Store) RecordOffered(ctx context.Context, ids []string) error {
	for _, id := range ids {
		_, err := s.mutate(ctx, id, s.save, func(cur domain.Driver, _ time.Time) (domain.Driver, bool, error) {
			cur.TotalOffered++
			return cur, true, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ClaimForRequest binds the driver to requestID. bind runs with the driver
// locked and decides, together with the request side, whether the claim
// commits. The driver copy is published only if bind succeeds.
func (s *Store) ClaimForRequest(ctx context.Context, id, requestID string, bind BindFunc) (domain.Driver, error) {
	return s.mutate(ctx, id, bind, func(cur domain.Driver, _ time.Time) (domain.Driver, bool, error) {
		if !cur.Claimable() {
			return cur, false, fmt.Errorf("driver %q cannot take %q (status=%s availability=%s active=%q): %w",
				id, requestID, cur.OnlineStatus, cur.Availability, cur.ActiveRequestID, apperr.ErrPreconditionFailed)
		}
		cur.ActiveRequestID = requestID
		cur.Availability = domain.Unavailable
		cur.TotalAccepted++
		return cur, true, nil
	})
}

// ReleaseFromRequest frees a driver holding requestID. The driver becomes
// available again only while online.
func (s *Store) ReleaseFromRequest(ctx context.Context, id, requestID string, bind BindFunc) (domain.Driver, error) {
	return s.release(ctx, id, requestID, false, bind)
}

// ReleaseAndDisconnect frees the driver and marks it offline.
func (s *Store) ReleaseAndDisconnect(ctx context.Context, id, requestID string, bind BindFunc) (domain.Driver, error) {
	return s.release(ctx, id, requestID, true, bind)
}

func (s *Store) release(ctx context.Context, id, requestID string, disconnect bool, bind BindFunc) (domain.Driver, error) {
	return s.mutate(ctx, id, bind, func(cur domain.Driver, now time.Time) (domain.Driver, bool, error) {
		if cur.ActiveRequestID != requestID {
			return cur, false, fmt.Errorf("driver %q, request %q: %w", id, requestID, ErrNotHolding)
		}
		cur.ActiveRequestID = ""
		if disconnect {
			goOffline(&cur, now)
		} else if cur.IsOnline() {
			cur.Availability = domain.Available
		} else {
			cur.Availability = domain.Unavailable
		}
		return cur, true, nil
	})
}

type mutation func(cur domain.Driver, now time.Time) (next domain.Driver, changed bool, err error)

// mutate applies fn to a copy of the driver and publishes it after persist succeeds.
func (s *Store) mutate(ctx context.Context, id string, persist BindFunc, fn mutation) (domain.Driver, error) {
	sl := s.slot(id)
	if sl == nil {
		return domain.Driver{}, fmt.Errorf("driver %q: %w", id, apperr.ErrNotFound)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := s.now()
	prev := sl.load()
	next, changed, err := fn(prev.Clone(), now)
	if err != nil {
		return domain.Driver{}, err
	}
	if !changed {
		return next, nil
	}
	next.UpdatedAt = now
	if !next.Consistent() {
		return domain.Driver{}, fmt.Errorf("driver %q: inconsistent state %s/%s active=%q",
			id, next.OnlineStatus, next.Availability, next.ActiveRequestID)
	}

	if persist != nil {
		if err := persist(ctx, next.Clone()); err != nil {
			return domain.Driver{}, err
		}
	}
	committed := next.Clone()
	sl.cur.Store(&committed)
	if s.hook != nil {
		s.hook(ctx, prev, committed.Clone())
	}
	return next, nil
}

func (s *Store) save(ctx context.Context, d domain.Driver) error {
	return s.tx.WithTx(ctx, func(tx dispatchtx.Repository) error {
		return tx.SaveDriver(ctx, d)
	})
}

func (s *Store) slot(id string) *slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[id]
}

func goOffline(d *domain.Driver, now time.Time) {
	d.CumulativeOnlineSeconds = d.OnlineSecondsAt(now)
	d.OnlineSince = time.Time{}
	d.OnlineStatus = domain.Offline
	d.Availability = domain.Unavailable
}
