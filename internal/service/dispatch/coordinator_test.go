package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/notify"
	"service-dispatch/internal/service/dispatch"
	testlog "service-dispatch/internal/testutil"
)

var lagosPickup = domain.Point{Lat: 6.51, Lng: 3.31}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) Of(eventType string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	c      *dispatch.Coordinator
	clock  *clock
	events *recordingNotifier
	logs   *testlog.Recorder
}

func newHarness(t *testing.T, cfg dispatch.Config) *harness {
	t.Helper()
	h := &harness{
		clock:  &clock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
		events: &recordingNotifier{},
		logs:   testlog.New(),
	}
	h.c = dispatch.New(cfg, dispatch.Deps{Notifier: h.events, Logger: h.logs.Logger()})
	h.c.SetClock(h.clock.Now)
	return h
}

// readyDriver registers a driver that is online, available and located at p.
func (h *harness) readyDriver(t *testing.T, id string, p domain.Point) {
	t.Helper()
	ctx := context.Background()
	_, err := h.c.RegisterDriver(ctx, id)
	require.NoError(t, err)
	_, err = h.c.SetOnline(ctx, id, true)
	require.NoError(t, err)
	_, err = h.c.SetAvailability(ctx, id, true)
	require.NoError(t, err)
	_, err = h.c.UpdateLocation(ctx, id, domain.LocationSample{Lat: p.Lat, Lng: p.Lng, Timestamp: h.clock.Now()})
	require.NoError(t, err)
}

func (h *harness) submit(t *testing.T, id string) domain.Request {
	t.Helper()
	r, err := h.c.Submit(context.Background(), domain.Request{
		ID:         id,
		CustomerID: "cust-" + id,
		Pickup:     lagosPickup,
		Dropoff:    domain.Point{Lat: 6.45, Lng: 3.39},
		Fare:       2500,
	})
	require.NoError(t, err)
	return r
}

// assigned returns a harness with driver d1 assigned to request r1.
func assigned(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, dispatch.Config{})
	h.readyDriver(t, "d1", domain.Point{Lat: 6.5, Lng: 3.3})
	h.submit(t, "r1")
	offers, err := h.c.Broadcast(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	_, err = h.c.AcceptOffer(context.Background(), "r1", "d1")
	require.NoError(t, err)
	return h
}

// requireConsistent checks that driver and request views agree.
func requireConsistent(t *testing.T, c *dispatch.Coordinator) {
	t.Helper()
	requests := make(map[string]domain.Request)
	for _, r := range c.Requests() {
		requests[r.ID] = r
	}
	for _, d := range c.Drivers() {
		require.True(t, d.Consistent(), "driver %s inconsistent: %+v", d.ID, d)
		if !d.HasActiveRequest() {
			continue
		}
		r, ok := requests[d.ActiveRequestID]
		require.True(t, ok, "driver %s holds unknown request", d.ID)
		require.Equal(t, d.ID, r.DriverID)
		require.False(t, r.Status.IsTerminal(), "driver %s holds finished request %s", d.ID, r.ID)
	}
	for _, r := range requests {
		if r.DriverID == "" || r.Status.IsTerminal() {
			continue
		}
		d, err := c.Driver(context.Background(), r.DriverID)
		require.NoError(t, err)
		require.Equal(t, r.ID, d.ActiveRequestID)
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dispatch.Config{})
	ctx := context.Background()

	r := h.submit(t, "r1")
	require.Equal(t, domain.StatusSearching, r.Status)
	require.Equal(t, "cust-r1", r.CustomerID)

	again, err := h.c.Submit(ctx, domain.Request{ID: "r1", Pickup: lagosPickup, Dropoff: lagosPickup, Fare: 1})
	require.NoError(t, err)
	require.Equal(t, r, again)

	generated, err := h.c.Submit(ctx, domain.Request{Pickup: lagosPickup, Dropoff: lagosPickup})
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID)

	_, err = h.c.Submit(ctx, domain.Request{Pickup: domain.Point{Lat: 91}, Dropoff: lagosPickup})
	require.Error(t, err)
	_, err = h.c.Submit(ctx, domain.Request{Pickup: lagosPickup, Dropoff: lagosPickup, Fare: -1})
	require.Error(t, err)

	require.True(t, h.logs.Has("request submitted"))
	require.Len(t, h.c.Requests(), 2)
}

func TestRestore(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dispatch.Config{})
	now := h.clock.Now()

	d := domain.NewDriver("d1", now)
	d.OnlineStatus = domain.Online
	d.OnlineSince = now
	d.Location = &domain.LocationSample{Lat: 6.5, Lng: 3.3, Timestamp: now}
	r := domain.Request{ID: "r1", Status: domain.StatusSearching, Pickup: lagosPickup, Dropoff: lagosPickup, CreatedAt: now}
	trip := domain.CompletedTrip{RequestID: "r0", DriverID: "d1", Fare: 100, CompletedAt: now}

	h.c.Restore(context.Background(), []domain.Driver{d}, []domain.Request{r}, []domain.CompletedTrip{trip})

	got, err := h.c.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSearching, got.Status)

	near, err := h.c.Nearby(context.Background(), lagosPickup, 5)
	require.NoError(t, err)
	require.Len(t, near, 1)
	require.Equal(t, "d1", near[0].DriverID)
}

func TestNearby_FollowsOnlineStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dispatch.Config{})
	ctx := context.Background()
	h.readyDriver(t, "d1", domain.Point{Lat: 6.5, Lng: 3.3})

	_, err := h.c.SetOnline(ctx, "d1", false)
	require.NoError(t, err)
	near, err := h.c.Nearby(ctx, lagosPickup, 10)
	require.NoError(t, err)
	require.Empty(t, near)

	// an offline position is stored but not listed
	_, err = h.c.UpdateLocation(ctx, "d1", domain.LocationSample{Lat: 6.51, Lng: 3.31, Timestamp: h.clock.Now().Add(time.Second)})
	require.NoError(t, err)
	near, err = h.c.Nearby(ctx, lagosPickup, 10)
	require.NoError(t, err)
	require.Empty(t, near)

	_, err = h.c.SetOnline(ctx, "d1", true)
	require.NoError(t, err)
	near, err = h.c.Nearby(ctx, lagosPickup, 10)
	require.NoError(t, err)
	require.Len(t, near, 1)
	require.Equal(t, "d1", near[0].DriverID)
}

func TestNearby_ConcurrentLocationAndOffline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dispatch.Config{})
	ctx := context.Background()
	h.readyDriver(t, "d1", domain.Point{Lat: 6.5, Lng: 3.3})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = h.c.UpdateLocation(ctx, "d1", domain.LocationSample{
				Lat: 6.5 + float64(i)*1e-4, Lng: 3.3, Timestamp: h.clock.Now().Add(time.Duration(i+1) * time.Millisecond),
			})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = h.c.SetOnline(ctx, "d1", false)
		}()
	}
	wg.Wait()

	d, err := h.c.Driver(ctx, "d1")
	require.NoError(t, err)
	require.False(t, d.IsOnline())
	near, err := h.c.Nearby(ctx, lagosPickup, 10)
	require.NoError(t, err)
	require.Empty(t, near)
}
