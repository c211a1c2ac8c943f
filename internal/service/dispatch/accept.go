package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/notify"
)

// AssignmentPayload is sent to the customer and the winning driver.
type AssignmentPayload struct {
	RequestID  string  `json:"request_id"`
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
}

// StatusPayload accompanies status change notifications.
type StatusPayload struct {
	RequestID string               `json:"request_id"`
	From      domain.RequestStatus `json:"from"`
	To        domain.RequestStatus `json:"to"`
	ActorID   string               `json:"actor_id,omitempty"`
}

// AcceptOffer binds driverID to requestID. The driver claim and the request
// flip to assigned commit together or not at all; the first accept wins and
// later ones fail with AlreadyClaimed.
func (c *Coordinator) AcceptOffer(ctx context.Context, requestID, driverID string) (domain.Request, error) {
	res, err := c.acceptOffer(ctx, requestID, driverID)
	outcome := "accepted"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		c.logger.Debug("accept rejected",
			logx.String("request_id", requestID),
			logx.String("driver_id", driverID),
			logx.String("kind", outcome),
			logx.Err(err),
		)
	}
	if c.metrics.AcceptOutcomes != nil {
		c.metrics.AcceptOutcomes.WithLabelValues(outcome).Inc()
	}
	return res, err
}

func (c *Coordinator) acceptOffer(ctx context.Context, requestID, driverID string) (domain.Request, error) {
	if _, err := c.drivers.Get(driverID); err != nil {
		return domain.Request{}, err
	}
	now := c.now()
	offer, err := c.offers.Lookup(requestID, driverID, now)
	if err != nil {
		c.revertQuietly(ctx, requestID, now)
		return domain.Request{}, c.explainMissingOffer(ctx, requestID, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		assigned domain.Request
		from     domain.RequestStatus
	)
	_, err = c.drivers.ClaimForRequest(ctx, driverID, requestID, func(ctx context.Context, next domain.Driver) error {
		return c.withRequest(requestID, func(s *requestSlot) error {
			cur := s.r
			if err := claimable(cur); err != nil {
				return err
			}
			// the offer may have lapsed while we waited for the locks
			if _, err := c.offers.Lookup(requestID, driverID, c.now()); err != nil {
				return err
			}

			upd := cur.Clone()
			upd.Status = domain.StatusAssigned
			upd.DriverID = driverID
			upd.AssignedAt = now
			upd.UpdatedAt = now
			if err := c.saveDriverAndRequest(ctx, next, upd, nil); err != nil {
				return err
			}
			s.r = upd
			assigned, from = upd.Clone(), cur.Status
			return nil
		})
	})
	if err != nil {
		return domain.Request{}, err
	}

	revoked := c.offers.Invalidate(requestID, now)
	c.transitioned(assigned, from,
		logx.Float64("distance_km", offer.DistanceKm),
		logx.Int("revoked_offers", len(revoked)),
	)

	payload := AssignmentPayload{
		RequestID:  requestID,
		DriverID:   driverID,
		DistanceKm: offer.DistanceKm,
		ETAMinutes: offer.ETAMinutes,
	}
	c.notify(ctx, assigned.CustomerID, notify.EventRequestAssigned, requestID, payload)
	c.notify(ctx, driverID, notify.EventRequestAssigned, requestID, payload)
	for _, o := range revoked {
		if o.DriverID != driverID {
			c.notify(ctx, o.DriverID, notify.EventOfferRevoked, requestID, nil)
		}
	}
	return assigned, nil
}

// RejectOffer withdraws a single driver's offer. The request returns to
// searching once no live offer is left.
func (c *Coordinator) RejectOffer(ctx context.Context, requestID, driverID string) (domain.Request, error) {
	now := c.now()
	if !c.offers.Remove(requestID, driverID, now) {
		c.revertQuietly(ctx, requestID, now)
		return domain.Request{}, c.explainMissingOffer(ctx, requestID,
			fmt.Errorf("no offer of %q to %q: %w", requestID, driverID, apperr.ErrOfferExpired))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		res      domain.Request
		reverted bool
	)
	err := c.withRequest(requestID, func(s *requestSlot) error {
		cur := s.r
		res = cur.Clone()
		if cur.Status != domain.StatusOffered || c.offers.HasActive(requestID, now) {
			return nil
		}
		next := cur.Clone()
		next.Status = domain.StatusSearching
		next.UpdatedAt = now
		if err := c.saveRequest(ctx, next); err != nil {
			return err
		}
		s.r = next
		res, reverted = next.Clone(), true
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	c.logger.Info("offer rejected",
		logx.String("event", "offer_rejected"),
		logx.String("request_id", requestID),
		logx.String("driver_id", driverID),
	)
	if reverted {
		c.transitioned(res, domain.StatusOffered, logx.String("reason", "all_offers_rejected"))
		c.notify(ctx, res.CustomerID, notify.EventRequestStatus, requestID, StatusPayload{
			RequestID: requestID, From: domain.StatusOffered, To: domain.StatusSearching,
		})
	}
	return res, nil
}

// revertQuietly returns the request to searching when the offer just
// dropped was its last one. Failures are left to the sweeper.
func (c *Coordinator) revertQuietly(ctx context.Context, requestID string, now time.Time) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.revertExhausted(ctx, requestID, now, "offers_expired"); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		c.logger.Warn("revert exhausted request failed", logx.String("request_id", requestID), logx.Err(err))
	}
}

// explainMissingOffer turns a missing offer into the error that tells the
// caller why: someone else won, the request was cancelled, or it timed out.
func (c *Coordinator) explainMissingOffer(ctx context.Context, requestID string, cause error) error {
	r, err := c.Get(ctx, requestID)
	if err != nil {
		return err
	}
	switch {
	case r.Status == domain.StatusCancelled:
		return fmt.Errorf("request %q: %w", requestID, apperr.ErrAlreadyCancelled)
	case r.DriverID != "":
		return fmt.Errorf("request %q taken by another driver: %w", requestID, apperr.ErrAlreadyClaimed)
	}
	if errors.Is(cause, apperr.ErrOfferExpired) {
		return cause
	}
	return fmt.Errorf("%v: %w", cause, apperr.ErrOfferExpired)
}

func claimable(r domain.Request) error {
	switch {
	case r.Status.IsClaimable():
		return nil
	case r.Status == domain.StatusCancelled:
		return fmt.Errorf("request %q: %w", r.ID, apperr.ErrAlreadyCancelled)
	case r.DriverID != "":
		return fmt.Errorf("request %q taken by another driver: %w", r.ID, apperr.ErrAlreadyClaimed)
	default:
		return fmt.Errorf("request %q in %s: %w", r.ID, r.Status, apperr.ErrInvalidTransition)
	}
}
