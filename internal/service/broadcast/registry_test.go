package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
)

var t0 = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.Candidate{DriverID: id, DistanceKm: float64(i + 1), ETAMinutes: 3 * (i + 1)})
	}
	return out
}

func TestPublishOffers_IdempotentWithinTTL(t *testing.T) {
	t.Parallel()
	r := New()

	created := r.PublishOffers("r1", candidates("d1", "d2"), time.Minute, t0)
	require.Len(t, created, 2)
	require.Equal(t, t0.Add(time.Minute), created[0].ExpiresAt)

	again := r.PublishOffers("r1", candidates("d1", "d3"), time.Minute, t0.Add(10*time.Second))
	require.Len(t, again, 1)
	require.Equal(t, "d3", again[0].DriverID)

	o, err := r.Lookup("r1", "d1", t0.Add(20*time.Second))
	require.NoError(t, err)
	require.Equal(t, t0, o.OfferedAt)
	require.Equal(t, 3, r.Len())
}

func TestPublishOffers_RepublishAfterExpiry(t *testing.T) {
	t.Parallel()
	r := New()

	r.PublishOffers("r1", candidates("d1"), time.Minute, t0)
	later := t0.Add(2 * time.Minute)
	created := r.PublishOffers("r1", candidates("d1"), time.Minute, later)
	require.Len(t, created, 1)
	require.Equal(t, later, created[0].OfferedAt)
}

func TestPublishOffers_DefaultTTL(t *testing.T) {
	t.Parallel()
	r := New()

	created := r.PublishOffers("r1", candidates("d1"), 0, t0)
	require.Equal(t, t0.Add(DefaultTTL), created[0].ExpiresAt)
}

func TestActiveOffersFor_NewestFirstAndLazyGC(t *testing.T) {
	t.Parallel()
	r := New()

	r.PublishOffers("old", candidates("d1"), time.Minute, t0)
	r.PublishOffers("mid", candidates("d1"), time.Minute, t0.Add(30*time.Second))
	r.PublishOffers("new", candidates("d1"), time.Minute, t0.Add(50*time.Second))

	got := r.ActiveOffersFor("d1", t0.Add(55*time.Second))
	require.Len(t, got, 3)
	assert.Equal(t, "new", got[0].RequestID)
	assert.Equal(t, "mid", got[1].RequestID)
	assert.Equal(t, "old", got[2].RequestID)

	got = r.ActiveOffersFor("d1", t0.Add(65*time.Second))
	require.Len(t, got, 2)
	require.Equal(t, 2, r.Len())
	require.Empty(t, r.ActiveOffersFor("nobody", t0))
}

func TestLookup_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	r := New()
	r.PublishOffers("r1", candidates("d1"), 60*time.Second, t0)

	_, err := r.Lookup("r1", "d1", t0.Add(59*time.Second))
	require.NoError(t, err)

	_, err = r.Lookup("r1", "d1", t0.Add(61*time.Second))
	require.ErrorIs(t, err, apperr.ErrOfferExpired)

	_, err = r.Lookup("r1", "d1", t0)
	require.ErrorIs(t, err, apperr.ErrOfferExpired, "expired offer must be collected")
}

func TestRemove(t *testing.T) {
	t.Parallel()
	r := New()
	r.PublishOffers("r1", candidates("d1", "d2"), time.Minute, t0)

	require.True(t, r.Remove("r1", "d1", t0))
	require.False(t, r.Remove("r1", "d1", t0))
	require.True(t, r.HasActive("r1", t0))

	require.True(t, r.Remove("r1", "d2", t0))
	require.False(t, r.HasActive("r1", t0))
}

func TestInvalidate(t *testing.T) {
	t.Parallel()
	r := New()
	r.PublishOffers("r1", candidates("d2", "d1"), time.Minute, t0)
	r.PublishOffers("r2", candidates("d1"), time.Minute, t0)

	live := r.Invalidate("r1", t0.Add(time.Second))
	require.Len(t, live, 2)
	require.Equal(t, "d1", live[0].DriverID)

	_, err := r.Lookup("r1", "d2", t0.Add(time.Second))
	require.ErrorIs(t, err, apperr.ErrOfferExpired)

	got := r.ActiveOffersFor("d1", t0.Add(time.Second))
	require.Len(t, got, 1)
	require.Equal(t, "r2", got[0].RequestID)
}

func TestOfferedDrivers(t *testing.T) {
	t.Parallel()
	r := New()
	r.PublishOffers("r1", candidates("d1"), time.Minute, t0)
	r.PublishOffers("r1", candidates("d2"), time.Minute, t0.Add(30*time.Second))

	got := r.OfferedDrivers("r1", t0.Add(70*time.Second))
	require.Len(t, got, 1)
	_, ok := got["d2"]
	require.True(t, ok)
}

func TestSweep(t *testing.T) {
	t.Parallel()
	r := New()
	r.PublishOffers("r1", candidates("d1"), time.Minute, t0)
	r.PublishOffers("r2", candidates("d1"), time.Minute, t0)
	r.PublishOffers("r2", candidates("d2"), 5*time.Minute, t0)

	exhausted := r.Sweep(t0.Add(2 * time.Minute))
	require.Equal(t, []string{"r1"}, exhausted)
	require.Equal(t, 1, r.Len())
	require.True(t, r.HasActive("r2", t0.Add(2*time.Minute)))
}
