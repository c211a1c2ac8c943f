package driverstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type denyGate struct{ err error }

func (g denyGate) Eligible(context.Context, domain.Driver) error { return g.err }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	s := NewStore(nil, nil, logx.Nop())
	s.SetClock(clock.Now)
	return s, clock
}

func readyDriver(t *testing.T, s *Store, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Register(ctx, id)
	require.NoError(t, err)
	_, err = s.SetOnline(ctx, id, true)
	require.NoError(t, err)
	_, err = s.SetAvailability(ctx, id, true)
	require.NoError(t, err)
}

func okBind(context.Context, domain.Driver) error { return nil }

func TestRegister(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	d, err := s.Register(ctx, " d1 ")
	require.NoError(t, err)
	require.Equal(t, "d1", d.ID)
	require.Equal(t, domain.Offline, d.OnlineStatus)
	require.Equal(t, domain.Unavailable, d.Availability)

	again, err := s.Register(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, d, again)

	_, err = s.Register(ctx, "  ")
	require.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = s.Get("nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetOnline_AccumulatesOnlineSeconds(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "d1")

	clock.Advance(90 * time.Minute)
	d, err := s.SetOnline(ctx, "d1", false)
	require.NoError(t, err)
	require.Equal(t, domain.Offline, d.OnlineStatus)
	require.Equal(t, domain.Unavailable, d.Availability)
	require.Equal(t, int64(90*60), d.CumulativeOnlineSeconds)
	require.True(t, d.OnlineSince.IsZero())

	_, err = s.SetOnline(ctx, "d1", true)
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	d, err = s.SetOnline(ctx, "d1", false)
	require.NoError(t, err)
	require.Equal(t, int64(120*60), d.CumulativeOnlineSeconds)
}

func TestSetOnline_OfflineWithActiveRequestIsRejected(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "d1")

	_, err := s.ClaimForRequest(ctx, "d1", "r1", okBind)
	require.NoError(t, err)
	before, err := s.Get("d1")
	require.NoError(t, err)

	_, err = s.SetOnline(ctx, "d1", false)
	require.ErrorIs(t, err, apperr.ErrConflictActiveRequest)

	after, err := s.Get("d1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSetAvailability_Preconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("offline", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		_, err := s.Register(ctx, "d1")
		require.NoError(t, err)
		_, err = s.SetAvailability(ctx, "d1", true)
		require.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	})

	t.Run("holding a request", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		readyDriver(t, s, "d1")
		_, err := s.ClaimForRequest(ctx, "d1", "r1", okBind)
		require.NoError(t, err)
		_, err = s.SetAvailability(ctx, "d1", true)
		require.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	})

	t.Run("gate denies", func(t *testing.T) {
		t.Parallel()
		s := NewStore(nil, denyGate{err: errors.New("license expired")}, logx.Nop())
		_, err := s.Register(ctx, "d1")
		require.NoError(t, err)
		_, err = s.SetOnline(ctx, "d1", true)
		require.NoError(t, err)
		_, err = s.SetAvailability(ctx, "d1", true)
		require.ErrorIs(t, err, apperr.ErrPreconditionFailed)
		require.Contains(t, err.Error(), "license expired")
	})

	t.Run("unavailable is always allowed", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		readyDriver(t, s, "d1")
		d, err := s.SetAvailability(ctx, "d1", false)
		require.NoError(t, err)
		require.Equal(t, domain.Unavailable, d.Availability)
	})
}

func TestUpdateLocation(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()
	_, err := s.Register(ctx, "d1")
	require.NoError(t, err)

	_, err = s.UpdateLocation(ctx, "d1", domain.LocationSample{Lat: 91})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	d, err := s.UpdateLocation(ctx, "d1", domain.LocationSample{Lat: 6.5, Lng: 3.3, Speed: 4})
	require.NoError(t, err)
	require.NotNil(t, d.Location)
	require.Equal(t, clock.Now(), d.Location.Timestamp)

	old := domain.LocationSample{Lat: 1, Lng: 1, Timestamp: clock.Now().Add(-time.Minute)}
	d, err = s.UpdateLocation(ctx, "d1", old)
	require.NoError(t, err)
	require.Equal(t, 6.5, d.Location.Lat)
}

func TestClaimForRequest_BindFailureRollsBack(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "d1")
	before, err := s.Get("d1")
	require.NoError(t, err)

	bindErr := errors.New("request gone")
	_, err = s.ClaimForRequest(ctx, "d1", "r1", func(_ context.Context, next domain.Driver) error {
		require.Equal(t, "r1", next.ActiveRequestID)
		require.Equal(t, domain.Unavailable, next.Availability)
		return bindErr
	})
	require.ErrorIs(t, err, bindErr)

	after, err := s.Get("d1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestClaimForRequest_ConcurrentClaimsOneWinner(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "d1")

	const n = 32
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		start   = make(chan struct{})
		winners = make(chan string, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			reqID := fmt.Sprintf("r%d", i)
			if _, err := s.ClaimForRequest(ctx, "d1", reqID, okBind); err == nil {
				wins.Add(1)
				winners <- reqID
			} else {
				assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(winners)

	require.Equal(t, int32(1), wins.Load())
	d, err := s.Get("d1")
	require.NoError(t, err)
	require.Equal(t, <-winners, d.ActiveRequestID)
	require.True(t, d.Consistent())
	require.Equal(t, int64(1), d.TotalAccepted)
}

func TestRelease(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "d1")
	_, err := s.ClaimForRequest(ctx, "d1", "r1", okBind)
	require.NoError(t, err)

	_, err = s.ReleaseFromRequest(ctx, "d1", "other", okBind)
	require.ErrorIs(t, err, ErrNotHolding)
	require.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	d, err := s.ReleaseFromRequest(ctx, "d1", "r1", okBind)
	require.NoError(t, err)
	require.Empty(t, d.ActiveRequestID)
	require.Equal(t, domain.Available, d.Availability)
}

func TestReleaseAndDisconnect(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "d1")
	_, err := s.ClaimForRequest(ctx, "d1", "r1", okBind)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	d, err := s.ReleaseAndDisconnect(ctx, "d1", "r1", okBind)
	require.NoError(t, err)
	require.Empty(t, d.ActiveRequestID)
	require.Equal(t, domain.Offline, d.OnlineStatus)
	require.Equal(t, domain.Unavailable, d.Availability)
	require.Equal(t, int64(3600), d.CumulativeOnlineSeconds)
}

func TestRecordOfferedAndSnapshot(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	readyDriver(t, s, "b")
	readyDriver(t, s, "a")

	require.NoError(t, s.RecordOffered(ctx, []string{"a", "b", "a"}))
	require.ErrorIs(t, s.RecordOffered(ctx, []string{"zzz"}), apperr.ErrNotFound)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "a", snap[0].ID)
	require.Equal(t, int64(2), snap[0].TotalOffered)
	require.Equal(t, int64(1), snap[1].TotalOffered)
}

func TestRestore(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Restore([]domain.Driver{{ID: "d9", OnlineStatus: domain.Online, Availability: domain.Available}})

	d, err := s.Get("d9")
	require.NoError(t, err)
	require.True(t, d.Claimable())
}

func TestOnCommit_SeesPublishedChangesOnly(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	type change struct{ prev, next domain.Driver }
	var seen []change
	s.OnCommit(func(_ context.Context, prev, next domain.Driver) {
		seen = append(seen, change{prev, next})
	})

	readyDriver(t, s, "d1")
	require.Len(t, seen, 2)
	require.False(t, seen[0].prev.IsOnline())
	require.True(t, seen[0].next.IsOnline())
	require.Equal(t, domain.Available, seen[1].next.Availability)

	// repeating the current state publishes nothing
	_, err := s.SetOnline(ctx, "d1", true)
	require.NoError(t, err)
	require.Len(t, seen, 2)

	_, err = s.ClaimForRequest(ctx, "d1", "r1", func(context.Context, domain.Driver) error {
		return errors.New("request gone")
	})
	require.Error(t, err)
	require.Len(t, seen, 2)

	_, err = s.UpdateLocation(ctx, "d1", domain.LocationSample{Lat: 6.5, Lng: 3.3})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	require.Nil(t, seen[2].prev.Location)
	require.NotNil(t, seen[2].next.Location)

	cur, err := s.Get("d1")
	require.NoError(t, err)
	require.Equal(t, cur, seen[2].next)
}
