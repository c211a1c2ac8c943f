package kafka

import (
	"fmt"
	"strings"
	"time"

	"service-dispatch/internal/domain"
)

// Intake event types.
const (
	TypeRequestCreated = "request.created"
	TypeDriverLocation = "driver.location"
)

// PointDTO is a coordinate pair on the wire.
type PointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationDTO is a driver position report on the wire.
type LocationDTO struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// EventDTO is a data transfer object for intake events
type EventDTO struct {
	Type       string       `json:"type"`
	RequestID  string       `json:"request_id,omitempty"`
	CustomerID string       `json:"customer_id,omitempty"`
	Pickup     *PointDTO    `json:"pickup,omitempty"`
	Dropoff    *PointDTO    `json:"dropoff,omitempty"`
	Fare       int64        `json:"fare,omitempty"`
	DriverID   string       `json:"driver_id,omitempty"`
	Location   *LocationDTO `json:"location,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Event is a decoded intake event. Exactly one of Request and Location is set.
type Event struct {
	Type     string
	Request  *domain.Request
	DriverID string
	Location *domain.LocationSample
}

// ToDomain converts EventDTO to Event
func ToDomain(dto EventDTO) (Event, error) {
	typ := strings.TrimSpace(dto.Type)
	switch typ {
	case TypeRequestCreated:
		if dto.Pickup == nil || dto.Dropoff == nil {
			return Event{}, fmt.Errorf("%s: pickup and dropoff are required", typ)
		}
		return Event{
			Type: typ,
			Request: &domain.Request{
				ID:         strings.TrimSpace(dto.RequestID),
				CustomerID: strings.TrimSpace(dto.CustomerID),
				Pickup:     domain.Point{Lat: dto.Pickup.Lat, Lng: dto.Pickup.Lng},
				Dropoff:    domain.Point{Lat: dto.Dropoff.Lat, Lng: dto.Dropoff.Lng},
				Fare:       dto.Fare,
				CreatedAt:  dto.CreatedAt,
			},
		}, nil
	case TypeDriverLocation:
		id := strings.TrimSpace(dto.DriverID)
		if id == "" || dto.Location == nil {
			return Event{}, fmt.Errorf("%s: driver_id and location are required", typ)
		}
		l := dto.Location
		return Event{
			Type:     typ,
			DriverID: id,
			Location: &domain.LocationSample{
				Lat:       l.Lat,
				Lng:       l.Lng,
				Accuracy:  l.Accuracy,
				Heading:   l.Heading,
				Speed:     l.Speed,
				Timestamp: l.Timestamp,
			},
		}, nil
	default:
		return Event{}, fmt.Errorf("unknown event type %q", dto.Type)
	}
}
