package handlers

import (
	"strconv"
	"time"

	"service-dispatch/internal/domain"
)

func toPoint(p domain.Point) pointDTO { return pointDTO{Lat: p.Lat, Lng: p.Lng} }

func (p pointDTO) toModel() domain.Point { return domain.Point{Lat: p.Lat, Lng: p.Lng} }

func toLocation(s domain.LocationSample) locationDTO {
	return locationDTO{
		Lat:       s.Lat,
		Lng:       s.Lng,
		Accuracy:  s.Accuracy,
		Heading:   s.Heading,
		Speed:     s.Speed,
		Timestamp: s.Timestamp,
	}
}

func (l locationDTO) toModel() domain.LocationSample {
	return domain.LocationSample{
		Lat:       l.Lat,
		Lng:       l.Lng,
		Accuracy:  l.Accuracy,
		Heading:   l.Heading,
		Speed:     l.Speed,
		Timestamp: l.Timestamp,
	}
}

func toDriver(d domain.Driver) driverDTO {
	out := driverDTO{
		ID:                      d.ID,
		OnlineStatus:            string(d.OnlineStatus),
		Availability:            string(d.Availability),
		ActiveRequestID:         d.ActiveRequestID,
		TotalOffered:            d.TotalOffered,
		TotalAccepted:           d.TotalAccepted,
		CumulativeOnlineSeconds: d.CumulativeOnlineSeconds,
		UpdatedAt:               d.UpdatedAt,
	}
	if d.Location != nil {
		loc := toLocation(*d.Location)
		out.Location = &loc
	}
	return out
}

func toRequest(r domain.Request) requestDTO {
	trail := make([]locationDTO, 0, len(r.Trail))
	for _, s := range r.Trail {
		trail = append(trail, toLocation(s))
	}
	return requestDTO{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		Status:      string(r.Status),
		Pickup:      toPoint(r.Pickup),
		Dropoff:     toPoint(r.Dropoff),
		DriverID:    r.DriverID,
		Fare:        r.Fare,
		Trail:       trail,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		AssignedAt:  optionalTime(r.AssignedAt),
		CompletedAt: optionalTime(r.CompletedAt),
	}
}

func toOffers(list []domain.Offer) []offerDTO {
	out := make([]offerDTO, 0, len(list))
	for _, o := range list {
		out = append(out, offerDTO{
			RequestID:  o.RequestID,
			DriverID:   o.DriverID,
			DistanceKm: o.DistanceKm,
			ETAMinutes: o.ETAMinutes,
			OfferedAt:  o.OfferedAt,
			ExpiresAt:  o.ExpiresAt,
		})
	}
	return out
}

func toNearby(list []domain.NearbyDriver) []nearbyDTO {
	out := make([]nearbyDTO, 0, len(list))
	for _, n := range list {
		out = append(out, nearbyDTO{DriverID: n.DriverID, Location: toPoint(n.Point), DistanceKm: n.DistanceKm})
	}
	return out
}

func toETA(e domain.ETAEstimate) etaDTO {
	return etaDTO{
		RequestID:  e.RequestID,
		Target:     e.Target,
		From:       toPoint(e.From),
		To:         toPoint(e.To),
		DistanceKm: e.DistanceKm,
		Minutes:    e.Minutes,
		ComputedAt: e.ComputedAt,
	}
}

func toTrip(t domain.CompletedTrip) tripDTO {
	return tripDTO{
		RequestID:   t.RequestID,
		DriverID:    t.DriverID,
		Fare:        t.Fare,
		DistanceKm:  t.DistanceKm,
		CompletedAt: t.CompletedAt,
		Rating:      t.Rating,
	}
}

func toStats(s domain.DriverStats) statsDTO {
	windows := make([]windowDTO, 0, len(s.Windows))
	for _, w := range s.Windows {
		ratings := make(map[string]int, len(w.Ratings))
		for stars, n := range w.Ratings {
			ratings[strconv.Itoa(stars)] = n
		}
		windows = append(windows, windowDTO{
			Window:     string(w.Window),
			Since:      optionalTime(w.Since),
			Earnings:   w.Earnings,
			DistanceKm: w.DistanceKm,
			Trips:      w.Trips,
			Ratings:    ratings,
		})
	}
	return statsDTO{
		DriverID:       s.DriverID,
		Windows:        windows,
		TotalOffered:   s.TotalOffered,
		TotalAccepted:  s.TotalAccepted,
		AcceptanceRate: s.AcceptanceRate,
		OnlineHours:    s.OnlineHours,
		ComputedAt:     s.ComputedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
