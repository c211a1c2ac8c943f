//go:generate mockgen -source=contracts.go -destination=../../service/dispatch/dispatchtx_mocks_test.go -package=dispatch_test

package dispatchtx

import (
	"context"

	"service-dispatch/internal/domain"
)

// Repository writes dispatch state inside one transaction.
type Repository interface {
	SaveDriver(ctx context.Context, d domain.Driver) error
	SaveRequest(ctx context.Context, r domain.Request) error
	SaveTrip(ctx context.Context, t domain.CompletedTrip) error
}

// Runner is a transaction runner
type Runner interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}
