package dispatch

import (
	"context"
	"sort"
	"time"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/notify"
)

// OfferPayload is what a driver receives with offer.created.
type OfferPayload struct {
	RequestID  string       `json:"request_id"`
	Pickup     domain.Point `json:"pickup"`
	Dropoff    domain.Point `json:"dropoff"`
	DistanceKm float64      `json:"distance_km"`
	ETAMinutes int          `json:"eta_minutes"`
	Fare       int64        `json:"fare"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Broadcast offers the request to every eligible driver within the radius
// that does not already hold a live offer for it, nearest first. The request
// moves to offered when at least one offer is live. With no candidates the
// request stays in searching and no offers are returned.
func (c *Coordinator) Broadcast(ctx context.Context, requestID string) ([]domain.Offer, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := c.now()
	var (
		created []domain.Offer
		req     domain.Request
		from    domain.RequestStatus
	)
	err := c.withRequest(requestID, func(s *requestSlot) error {
		cur := s.r
		if err := claimable(cur); err != nil {
			return err
		}
		req, from = cur.Clone(), cur.Status

		cands := c.candidates(ctx, cur.Pickup, c.offers.OfferedDrivers(requestID, now))
		if len(cands) == 0 {
			return nil
		}
		created = c.offers.PublishOffers(requestID, cands, c.cfg.OfferTTL, now)
		if cur.Status == domain.StatusOffered || len(created) == 0 {
			return nil
		}

		next := cur.Clone()
		next.Status = domain.StatusOffered
		next.UpdatedAt = now
		if err := c.saveRequest(ctx, next); err != nil {
			for _, o := range created {
				c.offers.Remove(requestID, o.DriverID, now)
			}
			created = nil
			return err
		}
		s.r = next
		req = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Status != from {
		c.transitioned(req, from, logx.Int("offers", len(created)))
	}
	if len(created) == 0 {
		c.logger.Debug("broadcast found no new candidates",
			logx.String("request_id", requestID),
			logx.Float64("radius_km", c.cfg.RadiusKm),
		)
		return created, nil
	}

	ids := make([]string, 0, len(created))
	for _, o := range created {
		ids = append(ids, o.DriverID)
	}
	if err := c.drivers.RecordOffered(ctx, ids); err != nil {
		c.logger.Warn("record offered failed", logx.String("request_id", requestID), logx.Err(err))
	}
	if c.metrics.OffersPublished != nil {
		c.metrics.OffersPublished.Add(float64(len(created)))
	}
	for _, o := range created {
		c.notify(ctx, o.DriverID, notify.EventOfferCreated, requestID, OfferPayload{
			RequestID:  requestID,
			Pickup:     req.Pickup,
			Dropoff:    req.Dropoff,
			DistanceKm: o.DistanceKm,
			ETAMinutes: o.ETAMinutes,
			Fare:       req.Fare,
			ExpiresAt:  o.ExpiresAt,
		})
	}
	return created, nil
}

// indexSlackKm widens the index query so rounding in the index never hides
// a driver sitting on the radius.
const indexSlackKm = 0.1

// candidates lists claimable drivers within the radius of pickup, nearest
// first. The geo index narrows the search; every hit is checked again
// against the driver store, which is authoritative. When the index fails
// all drivers are scanned.
func (c *Coordinator) candidates(ctx context.Context, pickup domain.Point, exclude map[string]struct{}) []domain.Candidate {
	var pool []domain.Driver
	hits, err := c.index.Nearby(ctx, pickup, c.cfg.RadiusKm+indexSlackKm, 0)
	if err != nil {
		c.logger.Warn("geo index query failed, scanning all drivers", logx.Err(err))
		pool = c.drivers.Snapshot()
	} else {
		pool = make([]domain.Driver, 0, len(hits))
		for _, h := range hits {
			d, err := c.drivers.Get(h.DriverID)
			if err != nil {
				continue
			}
			pool = append(pool, d)
		}
	}

	var out []domain.Candidate
	for _, d := range pool {
		if !d.Claimable() || d.Location == nil {
			continue
		}
		if _, skip := exclude[d.ID]; skip {
			continue
		}
		dist, eta := c.geo.Estimate(d.Location.Point(), pickup)
		if dist > c.cfg.RadiusKm {
			continue
		}
		out = append(out, domain.Candidate{DriverID: d.ID, DistanceKm: dist, ETAMinutes: eta})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm == out[j].DistanceKm {
			return out[i].DriverID < out[j].DriverID
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}
