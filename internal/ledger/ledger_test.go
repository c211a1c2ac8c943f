package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
)

func trip(req, driver string, fare int64) domain.CompletedTrip {
	return domain.CompletedTrip{
		RequestID:   req,
		DriverID:    driver,
		Fare:        fare,
		DistanceKm:  2,
		CompletedAt: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestAppendAndByDriver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	require.NoError(t, l.Append(ctx, trip("r1", "d1", 100)))
	require.NoError(t, l.Append(ctx, trip("r2", "d2", 200)))
	require.NoError(t, l.Append(ctx, trip("r3", "d1", 300)))
	require.ErrorIs(t, l.Append(ctx, trip("r1", "d1", 1)), apperr.ErrPreconditionFailed)

	got, err := l.ByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "r1", got[0].RequestID)
	require.Equal(t, "r3", got[1].RequestID)

	got[0].Fare = 0
	again, err := l.ByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, int64(100), again[0].Fare)
	require.Equal(t, 3, l.Len())
}

func TestRate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Append(ctx, trip("r1", "d1", 100)))

	_, err := l.Rate(ctx, "r1", 6, nil)
	require.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = l.Rate(ctx, "nope", 5, nil)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	persistErr := errors.New("db down")
	_, err = l.Rate(ctx, "r1", 4, func(context.Context, domain.CompletedTrip) error { return persistErr })
	require.ErrorIs(t, err, persistErr)
	tr, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	require.False(t, tr.Rated())

	tr, err = l.Rate(ctx, "r1", 4, nil)
	require.NoError(t, err)
	require.Equal(t, 4, tr.Rating)

	_, err = l.Rate(ctx, "r1", 5, nil)
	require.ErrorIs(t, err, apperr.ErrPreconditionFailed)
}

func TestRestore_SkipsDuplicates(t *testing.T) {
	t.Parallel()
	l := New()
	l.Restore([]domain.CompletedTrip{trip("r1", "d1", 1), trip("r1", "d1", 2), trip("r2", "d1", 3)})
	require.Equal(t, 2, l.Len())
}
