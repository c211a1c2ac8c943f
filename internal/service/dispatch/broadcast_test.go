package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
	"service-dispatch/internal/service/dispatch"
)

// stubIndex is a memory index whose Nearby answer can be forced.
type stubIndex struct {
	*geo.MemoryIndex

	mu      sync.Mutex
	queries int
	hits    []domain.NearbyDriver
	err     error
}

func (s *stubIndex) Nearby(ctx context.Context, center domain.Point, radiusKm float64, limit int) ([]domain.NearbyDriver, error) {
	s.mu.Lock()
	s.queries++
	hits, err := s.hits, s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hits != nil {
		return hits, nil
	}
	return s.MemoryIndex.Nearby(ctx, center, radiusKm, limit)
}

func newIndexedHarness(t *testing.T, idx geo.Index) *harness {
	t.Helper()
	h := &harness{
		clock:  &clock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
		events: &recordingNotifier{},
	}
	h.c = dispatch.New(dispatch.Config{}, dispatch.Deps{Index: idx, Notifier: h.events})
	h.c.SetClock(h.clock.Now)
	return h
}

func TestBroadcast_UsesGeoIndexAndRechecksStore(t *testing.T) {
	t.Parallel()
	idx := &stubIndex{MemoryIndex: geo.NewMemoryIndex()}
	h := newIndexedHarness(t, idx)
	ctx := context.Background()

	h.readyDriver(t, "near", domain.Point{Lat: 6.5, Lng: 3.3})
	h.readyDriver(t, "busy", domain.Point{Lat: 6.5, Lng: 3.3})
	h.readyDriver(t, "far", domain.Point{Lat: 9.0, Lng: 7.4})
	_, err := h.c.SetAvailability(ctx, "busy", false)
	require.NoError(t, err)
	h.submit(t, "R")

	// a stale index may still report far drivers, unavailable ones and unknown ids
	idx.mu.Lock()
	idx.hits = []domain.NearbyDriver{
		{DriverID: "busy", DistanceKm: 1},
		{DriverID: "ghost", DistanceKm: 1},
		{DriverID: "far", DistanceKm: 2},
		{DriverID: "near", DistanceKm: 1.5},
	}
	idx.mu.Unlock()

	offers, err := h.c.Broadcast(ctx, "R")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, "near", offers[0].DriverID)
	require.InDelta(t, geo.DistanceKm(domain.Point{Lat: 6.5, Lng: 3.3}, lagosPickup), offers[0].DistanceKm, 1e-9)
	require.Equal(t, 1, idx.queries)
}

func TestBroadcast_DriverMissingFromIndexIsNotOffered(t *testing.T) {
	t.Parallel()
	idx := &stubIndex{MemoryIndex: geo.NewMemoryIndex()}
	h := newIndexedHarness(t, idx)
	ctx := context.Background()

	h.readyDriver(t, "D1", domain.Point{Lat: 6.5, Lng: 3.3})
	h.submit(t, "R")
	require.NoError(t, idx.Remove(ctx, "D1"))

	offers, err := h.c.Broadcast(ctx, "R")
	require.NoError(t, err)
	require.Empty(t, offers)
}

func TestBroadcast_IndexFailureScansAllDrivers(t *testing.T) {
	t.Parallel()
	idx := &stubIndex{MemoryIndex: geo.NewMemoryIndex(), err: errors.New("redis down")}
	h := newIndexedHarness(t, idx)
	ctx := context.Background()

	h.readyDriver(t, "D1", domain.Point{Lat: 6.5, Lng: 3.3})
	h.readyDriver(t, "D2", domain.Point{Lat: 6.6, Lng: 3.4})
	h.submit(t, "R")

	offers, err := h.c.Broadcast(ctx, "R")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, "D1", offers[0].DriverID)
}
