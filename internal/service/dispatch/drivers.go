package dispatch

import (
	"context"
	"fmt"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/ledger"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/ports/dispatchtx"
)

// RegisterDriver onboards a driver in offline state.
func (c *Coordinator) RegisterDriver(ctx context.Context, id string) (domain.Driver, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.drivers.Register(ctx, id)
}

// Driver returns the current state of a driver.
func (c *Coordinator) Driver(_ context.Context, id string) (domain.Driver, error) {
	return c.drivers.Get(id)
}

// Drivers returns every known driver ordered by id.
func (c *Coordinator) Drivers() []domain.Driver {
	return c.drivers.Snapshot()
}

// SetOnline switches a driver on or off shift.
func (c *Coordinator) SetOnline(ctx context.Context, id string, online bool) (domain.Driver, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	d, err := c.drivers.SetOnline(ctx, id, online)
	if err != nil {
		return domain.Driver{}, err
	}
	c.logger.Info("driver online status changed",
		logx.String("driver_id", id),
		logx.String("status", string(d.OnlineStatus)),
	)
	return d, nil
}

// SetAvailability toggles whether the driver takes new work.
func (c *Coordinator) SetAvailability(ctx context.Context, id string, available bool) (domain.Driver, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.drivers.SetAvailability(ctx, id, available)
}

// UpdateLocation stores the driver's position. While the driver carries its
// request the sample is also appended to the request's tracking trail.
func (c *Coordinator) UpdateLocation(ctx context.Context, id string, sample domain.LocationSample) (domain.Driver, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	d, err := c.drivers.UpdateLocation(ctx, id, sample)
	if err != nil {
		return domain.Driver{}, err
	}
	if !d.HasActiveRequest() || d.Location == nil {
		return d, nil
	}

	loc := *d.Location
	err = c.withRequest(d.ActiveRequestID, func(s *requestSlot) error {
		cur := s.r
		if cur.DriverID != id || !cur.Status.IsMoving() {
			return nil
		}
		if last, ok := cur.LatestSample(); ok && !loc.Timestamp.After(last.Timestamp) {
			return nil
		}
		upd := cur.Clone()
		upd.AppendTrail(loc, c.cfg.TrailCapacity)
		upd.UpdatedAt = c.now()
		if err := c.saveRequest(ctx, upd); err != nil {
			return err
		}
		s.r = upd
		return nil
	})
	if err != nil {
		return domain.Driver{}, err
	}
	return d, nil
}

// ActiveOffers lists the driver's live offers, newest first.
func (c *Coordinator) ActiveOffers(_ context.Context, driverID string) ([]domain.Offer, error) {
	if _, err := c.drivers.Get(driverID); err != nil {
		return nil, err
	}
	return c.offers.ActiveOffersFor(driverID, c.now()), nil
}

// Nearby lists drivers around center from the geo index. The listing may
// lag behind the dispatch state.
func (c *Coordinator) Nearby(ctx context.Context, center domain.Point, radiusKm float64) ([]domain.NearbyDriver, error) {
	if !center.Valid() || radiusKm < 0 {
		return nil, fmt.Errorf("nearby query: %w", apperr.ErrInvalid)
	}
	if radiusKm == 0 {
		radiusKm = c.cfg.RadiusKm
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.index.Nearby(ctx, center, radiusKm, c.cfg.NearbyLimit)
}

// ETA estimates arrival on demand: to pickup while assigned, to dropoff
// once the driver carries the request. The latest trail sample is used
// when present, else the driver's last location.
func (c *Coordinator) ETA(ctx context.Context, requestID string) (domain.ETAEstimate, error) {
	r, err := c.Get(ctx, requestID)
	if err != nil {
		return domain.ETAEstimate{}, err
	}

	est := domain.ETAEstimate{RequestID: requestID, ComputedAt: c.now()}
	switch {
	case r.Status == domain.StatusAssigned:
		est.Target, est.To = domain.ETATargetPickup, r.Pickup
	case r.Status.IsMoving():
		est.Target, est.To = domain.ETATargetDropoff, r.Dropoff
	default:
		return domain.ETAEstimate{}, fmt.Errorf("eta for request %q in %s: %w", requestID, r.Status, apperr.ErrPreconditionFailed)
	}

	if s, ok := r.LatestSample(); ok && r.Status.IsMoving() {
		est.From = s.Point()
	} else {
		d, err := c.drivers.Get(r.DriverID)
		if err != nil {
			return domain.ETAEstimate{}, err
		}
		if d.Location == nil {
			return domain.ETAEstimate{}, fmt.Errorf("driver %q has no location: %w", d.ID, apperr.ErrPreconditionFailed)
		}
		est.From = d.Location.Point()
	}
	est.DistanceKm, est.Minutes = c.geo.Estimate(est.From, est.To)
	return est, nil
}

// Rate records the customer rating of a completed request.
func (c *Coordinator) Rate(ctx context.Context, requestID string, stars int) (domain.CompletedTrip, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var persist ledger.PersistFunc = func(ctx context.Context, t domain.CompletedTrip) error {
		return c.tx.WithTx(ctx, func(tx dispatchtx.Repository) error {
			return tx.SaveTrip(ctx, t)
		})
	}
	t, err := c.ledger.Rate(ctx, requestID, stars, persist)
	if err != nil {
		return domain.CompletedTrip{}, err
	}
	c.logger.Info("trip rated",
		logx.String("event", "trip_rated"),
		logx.String("request_id", requestID),
		logx.String("driver_id", t.DriverID),
		logx.Int("rating", stars),
	)
	return t, nil
}
