package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/service/dispatch"
	testlog "service-dispatch/internal/testutil"
)

func TestGracefulShutdown_DoesNotPanic(t *testing.T) {
	t.Parallel()

	srv := &http.Server{
		Addr:    "127.0.0.1:0",
		Handler: http.NewServeMux(),
	}
	require.NotPanics(t, func() {
		gracefulShutdown(srv, logx.Nop(), 100*time.Millisecond)
	})
}

func TestMustRun_ShutdownRequested(t *testing.T) {
	t.Parallel()

	rec := testlog.New()
	container := dig.New()
	require.NoError(t, container.Provide(func() logx.Logger { return rec.Logger() }))

	r := &Runner{runFn: func(*dig.Container) error { return context.Canceled }}
	r.MustRun(container)
	require.True(t, rec.Has("shutdown requested, exiting"))
}

func TestRunner_MustRun_StartupTimeout(t *testing.T) {
	t.Parallel()

	rec := testlog.New()
	container := dig.New()
	require.NoError(t, container.Provide(func() logx.Logger { return rec.Logger() }))

	r := &Runner{runFn: func(*dig.Container) error { return context.DeadlineExceeded }}
	r.MustRun(container)
	require.True(t, rec.Has("startup aborted: startup timeout exceeded"))
}

func TestRunner_MustRun_PanicsOnFailure(t *testing.T) {
	t.Parallel()

	r := &Runner{runFn: func(*dig.Container) error { return errors.New("boom") }}
	require.Panics(t, func() { r.MustRun(dig.New()) })
}

func TestNewRunner_DefaultFields(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	require.NotNil(t, r.runFn)
	require.Equal(t, fmt.Sprintf("%p", run), fmt.Sprintf("%p", r.runFn))
}

type fakeLoader struct {
	drivers  []domain.Driver
	requests []domain.Request
	trips    []domain.CompletedTrip
	err      error
}

func (f fakeLoader) LoadDrivers(context.Context) ([]domain.Driver, error)   { return f.drivers, f.err }
func (f fakeLoader) LoadRequests(context.Context) ([]domain.Request, error) { return f.requests, nil }
func (f fakeLoader) LoadTrips(context.Context) ([]domain.CompletedTrip, error) {
	return f.trips, nil
}

func TestRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	c := dispatch.New(dispatch.Config{}, dispatch.Deps{})
	require.NoError(t, restore(ctx, nil, c), "memory mode has nothing to load")

	loader := fakeLoader{
		drivers: []domain.Driver{domain.NewDriver("d1", now)},
		requests: []domain.Request{{
			ID: "r1", Status: domain.StatusOffered, CreatedAt: now,
			Pickup: domain.Point{Lat: 6.5, Lng: 3.3}, Dropoff: domain.Point{Lat: 6.4, Lng: 3.4},
		}},
	}
	require.NoError(t, restore(ctx, loader, c))

	_, err := c.Driver(ctx, "d1")
	require.NoError(t, err)
	r, err := c.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSearching, r.Status)

	boom := errors.New("boom")
	require.ErrorIs(t, restore(ctx, fakeLoader{err: boom}, c), boom)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := NewContainerBuilder().WithConfig(memoryConfig()).build(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- run(container) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
