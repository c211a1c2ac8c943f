package geo

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-dispatch/internal/domain"
)

var (
	lagosA = domain.Point{Lat: 6.5, Lng: 3.3}
	lagosB = domain.Point{Lat: 6.6, Lng: 3.4}
	lagosC = domain.Point{Lat: 6.51, Lng: 3.31}
)

func TestDistanceKm_Properties(t *testing.T) {
	t.Parallel()

	require.Zero(t, DistanceKm(lagosA, lagosA))
	require.InDelta(t, DistanceKm(lagosA, lagosB), DistanceKm(lagosB, lagosA), 1e-9)

	ab := DistanceKm(lagosA, lagosB)
	bc := DistanceKm(lagosB, lagosC)
	ac := DistanceKm(lagosA, lagosC)
	assert.LessOrEqual(t, ac, ab+bc+1e-9)
	assert.LessOrEqual(t, ab, ac+bc+1e-9)
}

func TestDistanceKm_KnownValues(t *testing.T) {
	t.Parallel()

	// one degree of latitude is ~111.19 km
	d := DistanceKm(domain.Point{Lat: 0, Lng: 0}, domain.Point{Lat: 1, Lng: 0})
	require.InDelta(t, 111.19, d, 0.01)

	anti := DistanceKm(domain.Point{Lat: 0, Lng: 0}, domain.Point{Lat: 0, Lng: 180})
	require.False(t, math.IsNaN(anti))
	require.InDelta(t, math.Pi*earthRadiusKm, anti, 0.5)

	require.InDelta(t, 15.6, DistanceKm(lagosA, lagosB), 0.2)
}

func TestCalculator_ETAMinutes(t *testing.T) {
	t.Parallel()

	c := NewCalculator(0)
	require.Equal(t, DefaultMinutesPerKm, c.MinutesPerKm)

	require.Equal(t, 0, c.ETAMinutes(0))
	require.Equal(t, 3, c.ETAMinutes(1))
	require.Equal(t, 4, c.ETAMinutes(1.01))
	require.Equal(t, 30, c.ETAMinutes(10))

	fast := NewCalculator(1.5)
	require.Equal(t, 2, fast.ETAMinutes(1))
}

func TestCalculator_Estimate(t *testing.T) {
	t.Parallel()

	c := NewCalculator(3)
	km, min := c.Estimate(lagosA, lagosC)
	require.InDelta(t, DistanceKm(lagosA, lagosC), km, 1e-12)
	require.Equal(t, int(math.Ceil(km*3)), min)
}

func TestMemoryIndex_Nearby(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "d1", lagosA))
	require.NoError(t, idx.Upsert(ctx, "d2", lagosB))
	require.NoError(t, idx.Upsert(ctx, "far", domain.Point{Lat: 9.0, Lng: 7.4}))

	got, err := idx.Nearby(ctx, lagosC, 20, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "d1", got[0].DriverID)
	require.Equal(t, "d2", got[1].DriverID)

	got, err = idx.Nearby(ctx, lagosC, 20, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, idx.Remove(ctx, "d1"))
	got, err = idx.Nearby(ctx, lagosC, 20, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "d2", got[0].DriverID)
}
