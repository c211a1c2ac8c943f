package dispatchtx

import (
	"context"

	"service-dispatch/internal/domain"
)

// NopRunner runs fn against a repository that stores nothing.
// It is used when the engine keeps state in memory only.
type NopRunner struct{}

// WithTx calls fn with a no-op repository.
func (NopRunner) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return fn(nopRepository{})
}

type nopRepository struct{}

func (nopRepository) SaveDriver(context.Context, domain.Driver) error      { return nil }
func (nopRepository) SaveRequest(context.Context, domain.Request) error    { return nil }
func (nopRepository) SaveTrip(context.Context, domain.CompletedTrip) error { return nil }

var _ Runner = NopRunner{}
