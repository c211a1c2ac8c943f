package domain

import "time"

// RequestStatus is a state of the delivery lifecycle.
type RequestStatus string

const (
	StatusSearching RequestStatus = "searching"
	StatusOffered   RequestStatus = "offered"
	StatusAssigned  RequestStatus = "assigned"
	StatusPickedUp  RequestStatus = "picked_up"
	StatusInTransit RequestStatus = "in_transit"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
	StatusFailed    RequestStatus = "failed"
)

// AllowedTransitions lists every legal status change.
var AllowedTransitions = map[RequestStatus][]RequestStatus{
	StatusSearching: {StatusOffered, StatusAssigned, StatusCancelled},
	StatusOffered:   {StatusAssigned, StatusSearching, StatusCancelled, StatusFailed},
	StatusAssigned:  {StatusPickedUp, StatusCancelled, StatusFailed},
	StatusPickedUp:  {StatusInTransit, StatusCancelled, StatusFailed},
	StatusInTransit: {StatusCompleted, StatusCancelled, StatusFailed},
}

// driverSteps is the forward chain a driver may walk.
var driverSteps = map[RequestStatus]RequestStatus{
	StatusAssigned:  StatusPickedUp,
	StatusPickedUp:  StatusInTransit,
	StatusInTransit: StatusCompleted,
}

// ParseRequestStatus validates a raw status string.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	st := RequestStatus(s)
	switch st {
	case StatusSearching, StatusOffered, StatusAssigned, StatusPickedUp,
		StatusInTransit, StatusCompleted, StatusCancelled, StatusFailed:
		return st, true
	}
	return "", false
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextDriverStep returns the only status a driver may advance to from s.
func NextDriverStep(s RequestStatus) (RequestStatus, bool) {
	next, ok := driverSteps[s]
	return next, ok
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// IsClaimable reports whether an accept may still bind a driver.
func (s RequestStatus) IsClaimable() bool {
	return s == StatusSearching || s == StatusOffered
}

// IsMoving reports whether the driver carries the request.
func (s RequestStatus) IsMoving() bool {
	return s == StatusPickedUp || s == StatusInTransit
}

// Request is a delivery or ride order.
type Request struct {
	ID         string
	CustomerID string
	Status     RequestStatus
	Pickup     Point
	Dropoff    Point
	DriverID   string
	Fare       int64
	Trail      []LocationSample

	CreatedAt   time.Time
	UpdatedAt   time.Time
	AssignedAt  time.Time
	CompletedAt time.Time
}

// Clone returns a deep copy.
func (r Request) Clone() Request {
	out := r
	if r.Trail != nil {
		out.Trail = append([]LocationSample(nil), r.Trail...)
	}
	return out
}

// AppendTrail adds a sample and evicts the oldest ones above capacity.
func (r *Request) AppendTrail(s LocationSample, capacity int) {
	if capacity <= 0 {
		return
	}
	r.Trail = append(r.Trail, s)
	if over := len(r.Trail) - capacity; over > 0 {
		r.Trail = append([]LocationSample(nil), r.Trail[over:]...)
	}
}

// LatestSample returns the most recent trail sample.
func (r Request) LatestSample() (LocationSample, bool) {
	if len(r.Trail) == 0 {
		return LocationSample{}, false
	}
	return r.Trail[len(r.Trail)-1], true
}
