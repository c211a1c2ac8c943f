package domain

import "time"

// OnlineStatus is the driver's connection state.
type OnlineStatus string

// Availability says whether a driver accepts new work.
type Availability string

const (
	Offline OnlineStatus = "offline"
	Online  OnlineStatus = "online"

	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside the lat/lng ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// LocationSample is a single position report from a driver device.
type LocationSample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the coordinate part of the sample.
func (s LocationSample) Point() Point {
	return Point{Lat: s.Lat, Lng: s.Lng}
}

// Driver is the dispatch view of a driver.
type Driver struct {
	ID              string
	OnlineStatus    OnlineStatus
	Availability    Availability
	Location        *LocationSample
	ActiveRequestID string

	TotalOffered            int64
	TotalAccepted           int64
	CumulativeOnlineSeconds int64
	OnlineSince             time.Time
	UpdatedAt               time.Time
}

// NewDriver returns an offline, unavailable driver.
func NewDriver(id string, now time.Time) Driver {
	return Driver{
		ID:           id,
		OnlineStatus: Offline,
		Availability: Unavailable,
		UpdatedAt:    now,
	}
}

// IsOnline reports whether the driver is connected.
func (d Driver) IsOnline() bool { return d.OnlineStatus == Online }

// IsAvailable reports whether the driver accepts new work.
func (d Driver) IsAvailable() bool { return d.Availability == Available }

// HasActiveRequest reports whether the driver holds a request.
func (d Driver) HasActiveRequest() bool { return d.ActiveRequestID != "" }

// Claimable reports whether the driver can be bound to a new request.
func (d Driver) Claimable() bool {
	return d.IsOnline() && d.IsAvailable() && !d.HasActiveRequest()
}

// Consistent checks that a driver holding a request is never available.
func (d Driver) Consistent() bool {
	if d.HasActiveRequest() && d.IsAvailable() {
		return false
	}
	if !d.IsOnline() && d.IsAvailable() {
		return false
	}
	return true
}

// Clone returns a deep copy.
func (d Driver) Clone() Driver {
	out := d
	if d.Location != nil {
		loc := *d.Location
		out.Location = &loc
	}
	return out
}

// LastSeen is the time of the latest location report, or the last update.
func (d Driver) LastSeen() time.Time {
	if d.Location != nil && d.Location.Timestamp.After(d.UpdatedAt) {
		return d.Location.Timestamp
	}
	return d.UpdatedAt
}

// OnlineSecondsAt returns accumulated online time including the open session.
func (d Driver) OnlineSecondsAt(now time.Time) int64 {
	total := d.CumulativeOnlineSeconds
	if d.IsOnline() && !d.OnlineSince.IsZero() && now.After(d.OnlineSince) {
		total += int64(now.Sub(d.OnlineSince) / time.Second)
	}
	return total
}
