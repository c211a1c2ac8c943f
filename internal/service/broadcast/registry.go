package broadcast

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
)

// DefaultTTL is how long an offer stays acceptable.
const DefaultTTL = 60 * time.Second

// Registry tracks which requests were offered to which drivers.
// Expired offers are dropped lazily when they are looked at, or by Sweep.
type Registry struct {
	mu        sync.Mutex
	byRequest map[string]map[string]domain.Offer
	byDriver  map[string]map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byRequest: make(map[string]map[string]domain.Offer),
		byDriver:  make(map[string]map[string]struct{}),
	}
}

// PublishOffers records one offer per candidate and returns the ones created.
// A candidate that already holds a live offer for the request is skipped.
func (r *Registry) PublishOffers(requestID string, candidates []domain.Candidate, ttl time.Duration, now time.Time) []domain.Offer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	offers := r.byRequest[requestID]
	if offers == nil {
		offers = make(map[string]domain.Offer, len(candidates))
		r.byRequest[requestID] = offers
	}

	created := make([]domain.Offer, 0, len(candidates))
	for _, c := range candidates {
		if o, ok := offers[c.DriverID]; ok && !o.Expired(now) {
			continue
		}
		o := domain.Offer{
			RequestID:  requestID,
			DriverID:   c.DriverID,
			DistanceKm: c.DistanceKm,
			ETAMinutes: c.ETAMinutes,
			OfferedAt:  now,
			ExpiresAt:  now.Add(ttl),
		}
		offers[c.DriverID] = o
		r.index(c.DriverID, requestID)
		created = append(created, o)
	}
	if len(offers) == 0 {
		delete(r.byRequest, requestID)
	}
	return created
}

// ActiveOffersFor returns the driver's live offers, newest first.
func (r *Registry) ActiveOffersFor(driverID string, now time.Time) []domain.Offer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Offer, 0, len(r.byDriver[driverID]))
	for requestID := range r.byDriver[driverID] {
		o, ok := r.byRequest[requestID][driverID]
		if !ok {
			r.unindex(driverID, requestID)
			continue
		}
		if o.Expired(now) {
			r.drop(requestID, driverID)
			continue
		}
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OfferedAt.Equal(out[j].OfferedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].OfferedAt.After(out[j].OfferedAt)
	})
	return out
}

// Lookup returns the live offer of requestID to driverID.
func (r *Registry) Lookup(requestID, driverID string, now time.Time) (domain.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byRequest[requestID][driverID]
	if !ok {
		return domain.Offer{}, fmt.Errorf("no offer of %q to %q: %w", requestID, driverID, apperr.ErrOfferExpired)
	}
	if o.Expired(now) {
		r.drop(requestID, driverID)
		return domain.Offer{}, fmt.Errorf("offer of %q to %q expired at %s: %w",
			requestID, driverID, o.ExpiresAt.Format(time.RFC3339), apperr.ErrOfferExpired)
	}
	return o, nil
}

// Remove deletes a single offer and reports whether a live one existed.
func (r *Registry) Remove(requestID, driverID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byRequest[requestID][driverID]
	if !ok {
		return false
	}
	r.drop(requestID, driverID)
	return !o.Expired(now)
}

// Invalidate removes every offer of a request and returns the ones still live.
func (r *Registry) Invalidate(requestID string, now time.Time) []domain.Offer {
	r.mu.Lock()
	defer r.mu.Unlock()

	offers := r.byRequest[requestID]
	live := make([]domain.Offer, 0, len(offers))
	for driverID, o := range offers {
		if !o.Expired(now) {
			live = append(live, o)
		}
		r.unindex(driverID, requestID)
	}
	delete(r.byRequest, requestID)

	sort.Slice(live, func(i, j int) bool { return live[i].DriverID < live[j].DriverID })
	return live
}

// OfferedDrivers returns the drivers holding a live offer for requestID.
func (r *Registry) OfferedDrivers(requestID string, now time.Time) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]struct{}, len(r.byRequest[requestID]))
	for driverID, o := range r.byRequest[requestID] {
		if !o.Expired(now) {
			out[driverID] = struct{}{}
		}
	}
	return out
}

// HasActive reports whether requestID has at least one live offer.
func (r *Registry) HasActive(requestID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.byRequest[requestID] {
		if !o.Expired(now) {
			return true
		}
	}
	return false
}

// Sweep drops expired offers and returns the requests left with none.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exhausted []string
	for requestID, offers := range r.byRequest {
		for driverID, o := range offers {
			if o.Expired(now) {
				r.drop(requestID, driverID)
			}
		}
		if _, ok := r.byRequest[requestID]; !ok {
			exhausted = append(exhausted, requestID)
		}
	}
	sort.Strings(exhausted)
	return exhausted
}

// Len returns the number of stored offers, expired ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, offers := range r.byRequest {
		n += len(offers)
	}
	return n
}

func (r *Registry) drop(requestID, driverID string) {
	if offers, ok := r.byRequest[requestID]; ok {
		delete(offers, driverID)
		if len(offers) == 0 {
			delete(r.byRequest, requestID)
		}
	}
	r.unindex(driverID, requestID)
}

func (r *Registry) index(driverID, requestID string) {
	reqs := r.byDriver[driverID]
	if reqs == nil {
		reqs = make(map[string]struct{})
		r.byDriver[driverID] = reqs
	}
	reqs[requestID] = struct{}{}
}

func (r *Registry) unindex(driverID, requestID string) {
	if reqs, ok := r.byDriver[driverID]; ok {
		delete(reqs, requestID)
		if len(reqs) == 0 {
			delete(r.byDriver, driverID)
		}
	}
}
