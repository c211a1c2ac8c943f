package handlers

import (
	"context"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/service/dispatch"
	"service-dispatch/internal/service/stats"
)

type driverUsecase interface {
	RegisterDriver(ctx context.Context, id string) (domain.Driver, error)
	Driver(ctx context.Context, id string) (domain.Driver, error)
	SetOnline(ctx context.Context, id string, online bool) (domain.Driver, error)
	SetAvailability(ctx context.Context, id string, available bool) (domain.Driver, error)
	UpdateLocation(ctx context.Context, id string, s domain.LocationSample) (domain.Driver, error)
	ForceRelease(ctx context.Context, driverID, operatorID string) (domain.Request, error)
	ActiveOffers(ctx context.Context, driverID string) ([]domain.Offer, error)
	Nearby(ctx context.Context, center domain.Point, radiusKm float64) ([]domain.NearbyDriver, error)
}

type requestUsecase interface {
	Submit(ctx context.Context, r domain.Request) (domain.Request, error)
	Get(ctx context.Context, id string) (domain.Request, error)
	Broadcast(ctx context.Context, requestID string) ([]domain.Offer, error)
	AcceptOffer(ctx context.Context, requestID, driverID string) (domain.Request, error)
	RejectOffer(ctx context.Context, requestID, driverID string) (domain.Request, error)
	Advance(ctx context.Context, requestID string, next domain.RequestStatus, driverID string) (domain.Request, error)
	Cancel(ctx context.Context, requestID, actorID string) (domain.Request, error)
	ETA(ctx context.Context, requestID string) (domain.ETAEstimate, error)
	Rate(ctx context.Context, requestID string, stars int) (domain.CompletedTrip, error)
}

type statsUsecase interface {
	DriverStats(ctx context.Context, driverID string) (domain.DriverStats, error)
}

var (
	_ driverUsecase  = (*dispatch.Coordinator)(nil)
	_ requestUsecase = (*dispatch.Coordinator)(nil)
	_ statsUsecase   = (*stats.Aggregator)(nil)
)
