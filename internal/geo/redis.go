package geo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"service-dispatch/internal/domain"
)

// DefaultRedisKey is the sorted set holding driver positions.
const DefaultRedisKey = "drivers_geo"

// RedisIndex keeps driver positions in a Redis GEO set.
type RedisIndex struct {
	client redis.Cmdable
	key    string
}

// NewRedisIndex returns an Index backed by client.
func NewRedisIndex(client redis.Cmdable, key string) *RedisIndex {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisIndex{client: client, key: key}
}

// Upsert runs GEOADD for the driver.
func (r *RedisIndex) Upsert(ctx context.Context, driverID string, p domain.Point) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("geoadd %s: %w", driverID, err)
	}
	return nil
}

// Remove deletes the driver from the GEO set.
func (r *RedisIndex) Remove(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", driverID, err)
	}
	return nil
}

// Nearby runs GEOSEARCH around center, nearest first.
func (r *RedisIndex) Nearby(ctx context.Context, center domain.Point, radiusKm float64, limit int) ([]domain.NearbyDriver, error) {
	q := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}
	locs, err := r.client.GeoSearchLocation(ctx, r.key, q).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch: %w", err)
	}

	out := make([]domain.NearbyDriver, 0, len(locs))
	for _, l := range locs {
		out = append(out, domain.NearbyDriver{
			DriverID:   l.Name,
			Point:      domain.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceKm: l.Dist,
		})
	}
	return out, nil
}

var _ Index = (*RedisIndex)(nil)
