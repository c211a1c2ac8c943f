package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/notify"
	"service-dispatch/internal/service/driverstate"
)

const maxLockRetries = 3

var errRequestMoved = errors.New("request changed while acquiring locks")

// Advance moves a request one step along assigned -> picked_up ->
// in_transit -> completed. Only the assigned driver may advance it.
// Completing releases the driver and records the trip in the ledger.
func (c *Coordinator) Advance(ctx context.Context, requestID string, next domain.RequestStatus, actorDriverID string) (domain.Request, error) {
	cur, err := c.Get(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := advanceable(cur, next, actorDriverID); err != nil {
		return domain.Request{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if next == domain.StatusCompleted {
		return c.complete(ctx, requestID, actorDriverID)
	}

	var (
		res  domain.Request
		from domain.RequestStatus
	)
	err = c.withRequest(requestID, func(s *requestSlot) error {
		cur := s.r
		if err := advanceable(cur, next, actorDriverID); err != nil {
			return err
		}
		upd := cur.Clone()
		upd.Status = next
		upd.UpdatedAt = c.now()
		if err := c.saveRequest(ctx, upd); err != nil {
			return err
		}
		s.r = upd
		res, from = upd.Clone(), cur.Status
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	c.transitioned(res, from)
	c.notify(ctx, res.CustomerID, notify.EventRequestStatus, requestID, StatusPayload{
		RequestID: requestID, From: from, To: res.Status, ActorID: actorDriverID,
	})
	return res, nil
}

func (c *Coordinator) complete(ctx context.Context, requestID, driverID string) (domain.Request, error) {
	var (
		res  domain.Request
		trip domain.CompletedTrip
		from domain.RequestStatus
	)
	_, err := c.drivers.ReleaseFromRequest(ctx, driverID, requestID, func(ctx context.Context, nextDriver domain.Driver) error {
		return c.withRequest(requestID, func(s *requestSlot) error {
			cur := s.r
			if err := advanceable(cur, domain.StatusCompleted, driverID); err != nil {
				return err
			}
			now := c.now()
			upd := cur.Clone()
			upd.Status = domain.StatusCompleted
			upd.CompletedAt = now
			upd.UpdatedAt = now
			t := domain.CompletedTrip{
				RequestID:   upd.ID,
				DriverID:    driverID,
				CustomerID:  upd.CustomerID,
				Fare:        upd.Fare,
				DistanceKm:  tripDistanceKm(upd),
				CompletedAt: now,
			}
			if err := c.saveDriverAndRequest(ctx, nextDriver, upd, &t); err != nil {
				return err
			}
			s.r = upd
			res, trip, from = upd.Clone(), t, cur.Status
			return nil
		})
	})
	if err != nil {
		return domain.Request{}, err
	}

	if err := c.ledger.Append(ctx, trip); err != nil {
		c.logger.Warn("ledger append failed", logx.String("request_id", requestID), logx.Err(err))
	}
	c.transitioned(res, from, logx.Int64("fare", trip.Fare), logx.Float64("distance_km", trip.DistanceKm))
	c.notify(ctx, res.CustomerID, notify.EventRequestStatus, requestID, StatusPayload{
		RequestID: requestID, From: from, To: res.Status, ActorID: driverID,
	})
	return res, nil
}

// Cancel moves a non-terminal request to cancelled and frees its driver.
// Cancelling an already cancelled request is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < maxLockRetries; attempt++ {
		cur, err := c.Get(ctx, requestID)
		if err != nil {
			return domain.Request{}, err
		}
		switch {
		case cur.Status == domain.StatusCancelled:
			return cur, nil
		case cur.Status.IsTerminal():
			return domain.Request{}, fmt.Errorf("cancel request %q in %s: %w", requestID, cur.Status, apperr.ErrInvalidTransition)
		}

		if cur.DriverID == "" {
			res, err := c.cancelUnassigned(ctx, requestID, actorID)
			if errors.Is(err, errRequestMoved) {
				continue
			}
			return res, err
		}

		res, err := c.failOrCancelAssigned(ctx, requestID, cur.DriverID, domain.StatusCancelled, false, actorID)
		if errors.Is(err, driverstate.ErrNotHolding) || errors.Is(err, errRequestMoved) {
			continue
		}
		return res, err
	}
	return domain.Request{}, fmt.Errorf("cancel request %q: %w", requestID, errRequestMoved)
}

func (c *Coordinator) cancelUnassigned(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	var (
		res  domain.Request
		from domain.RequestStatus
	)
	err := c.withRequest(requestID, func(s *requestSlot) error {
		cur := s.r
		if cur.DriverID != "" || cur.Status.IsTerminal() {
			return errRequestMoved
		}
		upd := cur.Clone()
		upd.Status = domain.StatusCancelled
		upd.UpdatedAt = c.now()
		if err := c.saveRequest(ctx, upd); err != nil {
			return err
		}
		s.r = upd
		res, from = upd.Clone(), cur.Status
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	revoked := c.offers.Invalidate(requestID, c.now())
	c.transitioned(res, from, logx.String("actor_id", actorID), logx.Int("revoked_offers", len(revoked)))
	for _, o := range revoked {
		c.notify(ctx, o.DriverID, notify.EventOfferRevoked, requestID, nil)
	}
	c.notify(ctx, res.CustomerID, notify.EventRequestCancelled, requestID, StatusPayload{
		RequestID: requestID, From: from, To: res.Status, ActorID: actorID,
	})
	return res, nil
}

// failOrCancelAssigned ends an assigned request and frees its driver in one
// step. disconnect also takes the driver offline.
func (c *Coordinator) failOrCancelAssigned(ctx context.Context, requestID, driverID string, to domain.RequestStatus, disconnect bool, actorID string) (domain.Request, error) {
	var (
		res  domain.Request
		from domain.RequestStatus
	)
	bind := func(ctx context.Context, nextDriver domain.Driver) error {
		return c.withRequest(requestID, func(s *requestSlot) error {
			cur := s.r
			if cur.DriverID != driverID || cur.Status.IsTerminal() {
				return errRequestMoved
			}
			if !domain.CanTransition(cur.Status, to) {
				return fmt.Errorf("request %q %s -> %s: %w", requestID, cur.Status, to, apperr.ErrInvalidTransition)
			}
			upd := cur.Clone()
			upd.Status = to
			upd.UpdatedAt = c.now()
			if err := c.saveDriverAndRequest(ctx, nextDriver, upd, nil); err != nil {
				return err
			}
			s.r = upd
			res, from = upd.Clone(), cur.Status
			return nil
		})
	}

	var err error
	if disconnect {
		_, err = c.drivers.ReleaseAndDisconnect(ctx, driverID, requestID, bind)
	} else {
		_, err = c.drivers.ReleaseFromRequest(ctx, driverID, requestID, bind)
	}
	if err != nil {
		return domain.Request{}, err
	}

	c.transitioned(res, from, logx.String("actor_id", actorID))
	eventType := notify.EventRequestCancelled
	if to == domain.StatusFailed {
		eventType = notify.EventRequestFailed
	}
	payload := StatusPayload{RequestID: requestID, From: from, To: to, ActorID: actorID}
	c.notify(ctx, res.CustomerID, eventType, requestID, payload)
	if actorID != driverID {
		c.notify(ctx, driverID, eventType, requestID, payload)
	}
	return res, nil
}

// ReportDriverLost fails the request held by a driver that vanished and
// takes the driver offline. It is the only transition the system starts
// on its own.
func (c *Coordinator) ReportDriverLost(ctx context.Context, driverID string) (domain.Request, error) {
	d, err := c.drivers.Get(driverID)
	if err != nil {
		return domain.Request{}, err
	}
	if !d.HasActiveRequest() {
		return domain.Request{}, fmt.Errorf("driver %q holds no request: %w", driverID, apperr.ErrPreconditionFailed)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.failOrCancelAssigned(ctx, d.ActiveRequestID, driverID, domain.StatusFailed, true, "system")
	if err != nil {
		return domain.Request{}, err
	}
	c.logger.Warn("driver lost",
		logx.String("event", "driver_lost"),
		logx.String("driver_id", driverID),
		logx.String("request_id", res.ID),
		logx.Time("last_seen", d.LastSeen()),
	)
	return res, nil
}

// ForceRelease is the operator path: the driver's request fails and the
// driver keeps its online status.
func (c *Coordinator) ForceRelease(ctx context.Context, driverID, operatorID string) (domain.Request, error) {
	d, err := c.drivers.Get(driverID)
	if err != nil {
		return domain.Request{}, err
	}
	if !d.HasActiveRequest() {
		return domain.Request{}, fmt.Errorf("driver %q holds no request: %w", driverID, apperr.ErrPreconditionFailed)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if operatorID == "" {
		operatorID = "operator"
	}
	return c.failOrCancelAssigned(ctx, d.ActiveRequestID, driverID, domain.StatusFailed, false, operatorID)
}

// SweepOffers drops expired offers and puts every offered request left
// without a live offer back into searching so the scheduler can broadcast
// it again. Offers dropped lazily by lookups are caught here as well.
func (c *Coordinator) SweepOffers(ctx context.Context, now time.Time) []string {
	ids := make(map[string]struct{})
	for _, id := range c.offers.Sweep(now) {
		ids[id] = struct{}{}
	}
	for _, r := range c.Requests() {
		if r.Status == domain.StatusOffered {
			ids[r.ID] = struct{}{}
		}
	}

	var reverted []string
	for id := range ids {
		ok, err := c.revertExhausted(ctx, id, now, "offers_expired")
		if err != nil {
			c.logger.Warn("offer sweep failed", logx.String("request_id", id), logx.Err(err))
			continue
		}
		if ok {
			reverted = append(reverted, id)
		}
	}
	sort.Strings(reverted)
	return reverted
}

// revertExhausted moves an offered request without live offers back to
// searching. It reports whether the request was reverted.
func (c *Coordinator) revertExhausted(ctx context.Context, requestID string, now time.Time, reason string) (bool, error) {
	var res domain.Request
	err := c.withRequest(requestID, func(s *requestSlot) error {
		cur := s.r
		if cur.Status != domain.StatusOffered || c.offers.HasActive(requestID, now) {
			return nil
		}
		upd := cur.Clone()
		upd.Status = domain.StatusSearching
		upd.UpdatedAt = now
		if err := c.saveRequest(ctx, upd); err != nil {
			return err
		}
		s.r = upd
		res = upd.Clone()
		return nil
	})
	if err != nil || res.ID == "" {
		return false, err
	}
	c.transitioned(res, domain.StatusOffered, logx.String("reason", reason))
	c.notify(ctx, res.CustomerID, notify.EventSearchTimeout, requestID, StatusPayload{
		RequestID: requestID, From: domain.StatusOffered, To: domain.StatusSearching,
	})
	return true, nil
}

// DetectLost fails requests whose driver has not reported for StaleAfter.
func (c *Coordinator) DetectLost(ctx context.Context, now time.Time) []string {
	var failed []string
	for _, d := range c.drivers.Snapshot() {
		if !d.HasActiveRequest() || now.Sub(d.LastSeen()) <= c.cfg.StaleAfter {
			continue
		}
		res, err := c.ReportDriverLost(ctx, d.ID)
		if err != nil {
			c.logger.Warn("lost driver handling failed", logx.String("driver_id", d.ID), logx.Err(err))
			continue
		}
		failed = append(failed, res.ID)
	}
	return failed
}

func advanceable(r domain.Request, next domain.RequestStatus, actorDriverID string) error {
	if r.Status == domain.StatusCancelled {
		return fmt.Errorf("request %q: %w", r.ID, apperr.ErrAlreadyCancelled)
	}
	want, ok := domain.NextDriverStep(r.Status)
	if !ok || next != want {
		return fmt.Errorf("request %q %s -> %s: %w", r.ID, r.Status, next, apperr.ErrInvalidTransition)
	}
	if r.DriverID != actorDriverID {
		return fmt.Errorf("driver %q is not assigned to %q: %w", actorDriverID, r.ID, apperr.ErrPreconditionFailed)
	}
	return nil
}

// tripDistanceKm is the length of the tracked path, or the straight line
// from pickup to dropoff when too few samples were recorded.
func tripDistanceKm(r domain.Request) float64 {
	if len(r.Trail) < 2 {
		return geo.DistanceKm(r.Pickup, r.Dropoff)
	}
	total := 0.0
	for i := 1; i < len(r.Trail); i++ {
		total += geo.DistanceKm(r.Trail[i-1].Point(), r.Trail[i].Point())
	}
	return total
}
