package geo

import (
	"math"

	"service-dispatch/internal/domain"
)

const earthRadiusKm = 6371.0

// DefaultMinutesPerKm is the linear ETA constant.
const DefaultMinutesPerKm = 3.0

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b domain.Point) float64 {
	if a == b {
		return 0
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair over 1 for antipodal points
	if h > 1 {
		h = 1
	}
	d := 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Calculator estimates travel time with a linear model.
type Calculator struct {
	MinutesPerKm float64
}

// NewCalculator returns a Calculator; non-positive values fall back to the default.
func NewCalculator(minutesPerKm float64) Calculator {
	if minutesPerKm <= 0 {
		minutesPerKm = DefaultMinutesPerKm
	}
	return Calculator{MinutesPerKm: minutesPerKm}
}

// DistanceKm is DistanceKm bound to the calculator.
func (c Calculator) DistanceKm(a, b domain.Point) float64 {
	return DistanceKm(a, b)
}

// ETAMinutes returns ceil(distanceKm * MinutesPerKm).
func (c Calculator) ETAMinutes(distanceKm float64) int {
	if distanceKm <= 0 {
		return 0
	}
	mpk := c.MinutesPerKm
	if mpk <= 0 {
		mpk = DefaultMinutesPerKm
	}
	return int(math.Ceil(distanceKm * mpk))
}

// Estimate returns the distance and ETA between two points.
func (c Calculator) Estimate(from, to domain.Point) (float64, int) {
	d := DistanceKm(from, to)
	return d, c.ETAMinutes(d)
}
