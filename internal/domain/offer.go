package domain

import "time"

// Offer is a time-bounded proposal of a request to one driver.
type Offer struct {
	RequestID  string
	DriverID   string
	DistanceKm float64
	ETAMinutes int
	OfferedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the offer can no longer be accepted at now.
func (o Offer) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Candidate is a driver eligible for an offer, with its distance to pickup.
type Candidate struct {
	DriverID   string
	DistanceKm float64
	ETAMinutes int
}

// CompletedTrip is a ledger entry written when a request completes.
type CompletedTrip struct {
	RequestID   string
	DriverID    string
	CustomerID  string
	Fare        int64
	DistanceKm  float64
	CompletedAt time.Time
	Rating      int
}

// Rated reports whether a customer rating was recorded.
func (t CompletedTrip) Rated() bool { return t.Rating > 0 }

// ETAEstimate is an on-demand arrival estimate.
type ETAEstimate struct {
	RequestID  string
	Target     string
	From       Point
	To         Point
	DistanceKm float64
	Minutes    int
	ComputedAt time.Time
}

const (
	ETATargetPickup  = "pickup"
	ETATargetDropoff = "dropoff"
)
