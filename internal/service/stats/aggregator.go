package stats

import (
	"context"
	"time"

	"service-dispatch/internal/domain"
)

// TripSource reads the completed-trip ledger.
type TripSource interface {
	ByDriver(ctx context.Context, driverID string) ([]domain.CompletedTrip, error)
}

// DriverSource reads the current driver snapshot.
type DriverSource interface {
	Driver(ctx context.Context, id string) (domain.Driver, error)
}

// Aggregator computes driver statistics from the ledger. It never mutates
// driver or request state.
type Aggregator struct {
	trips   TripSource
	drivers DriverSource
	loc     *time.Location
	now     func() time.Time
}

// NewAggregator builds an Aggregator whose day boundaries are taken in loc
// (UTC when nil).
func NewAggregator(trips TripSource, drivers DriverSource, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		trips:   trips,
		drivers: drivers,
		loc:     loc,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (a *Aggregator) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// DriverStats returns windowed earnings, distance, trip count and rating
// distribution, plus acceptance rate and online hours.
func (a *Aggregator) DriverStats(ctx context.Context, driverID string) (domain.DriverStats, error) {
	d, err := a.drivers.Driver(ctx, driverID)
	if err != nil {
		return domain.DriverStats{}, err
	}
	trips, err := a.trips.ByDriver(ctx, driverID)
	if err != nil {
		return domain.DriverStats{}, err
	}

	now := a.now().In(a.loc)
	windows := Windows(now)
	for i := range windows {
		windows[i].Ratings = make(map[int]int)
	}
	for _, t := range trips {
		for i := range windows {
			w := &windows[i]
			if t.CompletedAt.Before(w.Since) {
				continue
			}
			w.Trips++
			w.Earnings += t.Fare
			w.DistanceKm += t.DistanceKm
			if t.Rated() {
				w.Ratings[t.Rating]++
			}
		}
	}

	return domain.DriverStats{
		DriverID:       driverID,
		Windows:        windows,
		TotalOffered:   d.TotalOffered,
		TotalAccepted:  d.TotalAccepted,
		AcceptanceRate: AcceptanceRate(d.TotalAccepted, d.TotalOffered),
		OnlineHours:    float64(d.OnlineSecondsAt(now)) / 3600,
		ComputedAt:     now,
	}, nil
}

// Windows returns empty stats for today, this week (from Monday), this month
// and all time, anchored at now's location.
func Windows(now time.Time) []domain.WindowStats {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	// Monday = 0
	offset := (int(day.Weekday()) + 6) % 7
	return []domain.WindowStats{
		{Window: domain.WindowToday, Since: day},
		{Window: domain.WindowWeek, Since: day.AddDate(0, 0, -offset)},
		{Window: domain.WindowMonth, Since: time.Date(y, m, 1, 0, 0, 0, 0, now.Location())},
		{Window: domain.WindowAll},
	}
}

// AcceptanceRate is accepted/offered, 0 when nothing was offered.
func AcceptanceRate(accepted, offered int64) float64 {
	if offered <= 0 {
		return 0
	}
	return float64(accepted) / float64(offered)
}
