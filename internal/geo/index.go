package geo

import (
	"context"
	"sort"
	"sync"

	"service-dispatch/internal/domain"
)

// Index answers "who is near this point" for the nearby listing.
// Results may lag behind the authoritative driver state.
type Index interface {
	Upsert(ctx context.Context, driverID string, p domain.Point) error
	Remove(ctx context.Context, driverID string) error
	Nearby(ctx context.Context, center domain.Point, radiusKm float64, limit int) ([]domain.NearbyDriver, error)
}

// MemoryIndex is an in-process Index doing a linear scan.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]domain.Point
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]domain.Point)}
}

// Upsert stores the latest point of a driver.
func (m *MemoryIndex) Upsert(_ context.Context, driverID string, p domain.Point) error {
	m.mu.Lock()
	m.points[driverID] = p
	m.mu.Unlock()
	return nil
}

// Remove drops a driver from the index.
func (m *MemoryIndex) Remove(_ context.Context, driverID string) error {
	m.mu.Lock()
	delete(m.points, driverID)
	m.mu.Unlock()
	return nil
}

// Nearby returns drivers within radiusKm sorted by distance.
func (m *MemoryIndex) Nearby(_ context.Context, center domain.Point, radiusKm float64, limit int) ([]domain.NearbyDriver, error) {
	m.mu.RLock()
	out := make([]domain.NearbyDriver, 0)
	for id, p := range m.points {
		d := DistanceKm(center, p)
		if d <= radiusKm {
			out = append(out, domain.NearbyDriver{DriverID: id, Point: p, DistanceKm: d})
		}
	}
	m.mu.RUnlock()

	sortNearby(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNearby(in []domain.NearbyDriver) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].DistanceKm == in[j].DistanceKm {
			return in[i].DriverID < in[j].DriverID
		}
		return in[i].DistanceKm < in[j].DistanceKm
	})
}

var _ Index = (*MemoryIndex)(nil)
