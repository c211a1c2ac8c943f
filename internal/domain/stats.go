package domain

import "time"

// Window names a reporting period.
type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowAll   Window = "all_time"
)

// WindowStats are sums over completed trips in one window.
type WindowStats struct {
	Window     Window
	Since      time.Time
	Earnings   int64
	DistanceKm float64
	Trips      int
	Ratings    map[int]int
}

// DriverStats is the aggregated view for a single driver.
type DriverStats struct {
	DriverID       string
	Windows        []WindowStats
	TotalOffered   int64
	TotalAccepted  int64
	AcceptanceRate float64
	OnlineHours    float64
	ComputedAt     time.Time
}

// NearbyDriver is an entry of the nearby listing.
type NearbyDriver struct {
	DriverID   string
	Point      Point
	DistanceKm float64
}
