package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
	"service-dispatch/internal/ledger"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/notify"
	"service-dispatch/internal/ports/dispatchtx"
	"service-dispatch/internal/service/broadcast"
	"service-dispatch/internal/service/driverstate"
)

// Config holds dispatch tunables.
type Config struct {
	RadiusKm         float64
	OfferTTL         time.Duration
	MinutesPerKm     float64
	TrailCapacity    int
	StaleAfter       time.Duration
	OperationTimeout time.Duration
	NearbyLimit      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RadiusKm:         10,
		OfferTTL:         broadcast.DefaultTTL,
		MinutesPerKm:     geo.DefaultMinutesPerKm,
		TrailCapacity:    100,
		StaleAfter:       2 * time.Minute,
		OperationTimeout: 3 * time.Second,
		NearbyLimit:      50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RadiusKm <= 0 {
		c.RadiusKm = def.RadiusKm
	}
	if c.OfferTTL <= 0 {
		c.OfferTTL = def.OfferTTL
	}
	if c.MinutesPerKm <= 0 {
		c.MinutesPerKm = def.MinutesPerKm
	}
	if c.TrailCapacity <= 0 {
		c.TrailCapacity = def.TrailCapacity
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	if c.NearbyLimit <= 0 {
		c.NearbyLimit = def.NearbyLimit
	}
	return c
}

// Metrics are optional collectors updated by the coordinator.
type Metrics struct {
	OffersPublished prometheus.Counter
	AcceptOutcomes  *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
}

// Deps are the collaborators of the coordinator.
type Deps struct {
	Drivers  *driverstate.Store
	Offers   *broadcast.Registry
	Ledger   *ledger.Ledger
	Index    geo.Index
	Tx       dispatchtx.Runner
	Notifier notify.Notifier
	Logger   logx.Logger
	Metrics  Metrics
}

// Coordinator drives requests through broadcast, claim and delivery.
//
// Lock order is driver slot, then request slot. Paths touching both
// resources enter through the driver store and take the request lock
// inside the store's bind callback.
type Coordinator struct {
	cfg      Config
	drivers  *driverstate.Store
	offers   *broadcast.Registry
	ledger   *ledger.Ledger
	index    geo.Index
	geo      geo.Calculator
	tx       dispatchtx.Runner
	notifier notify.Notifier
	logger   logx.Logger
	metrics  Metrics
	now      func() time.Time

	mu       sync.RWMutex
	requests map[string]*requestSlot
}

type requestSlot struct {
	mu sync.Mutex
	r  domain.Request
}

// New wires a Coordinator; nil collaborators get in-memory defaults.
func New(cfg Config, deps Deps) *Coordinator {
	cfg = cfg.withDefaults()
	if deps.Tx == nil {
		deps.Tx = dispatchtx.NopRunner{}
	}
	if deps.Logger == nil {
		deps.Logger = logx.Nop()
	}
	if deps.Drivers == nil {
		deps.Drivers = driverstate.NewStore(deps.Tx, nil, deps.Logger)
	}
	if deps.Offers == nil {
		deps.Offers = broadcast.New()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New()
	}
	if deps.Index == nil {
		deps.Index = geo.NewMemoryIndex()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	c := &Coordinator{
		cfg:      cfg,
		drivers:  deps.Drivers,
		offers:   deps.Offers,
		ledger:   deps.Ledger,
		index:    deps.Index,
		geo:      geo.NewCalculator(cfg.MinutesPerKm),
		tx:       deps.Tx,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
		requests: make(map[string]*requestSlot),
	}
	deps.Drivers.OnCommit(c.syncIndex)
	return c
}

// SetClock overrides the time source of the coordinator and its driver store.
func (c *Coordinator) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	c.now = now
	c.drivers.SetClock(now)
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OperationTimeout)
}

// Restore loads persisted state at startup.
func (c *Coordinator) Restore(ctx context.Context, drivers []domain.Driver, requests []domain.Request, trips []domain.CompletedTrip) {
	c.drivers.Restore(drivers)
	c.ledger.Restore(trips)

	c.mu.Lock()
	for _, r := range requests {
		r = r.Clone()
		// offers do not survive a restart
		if r.Status == domain.StatusOffered {
			r.Status = domain.StatusSearching
		}
		c.requests[r.ID] = &requestSlot{r: r}
	}
	c.mu.Unlock()

	for _, d := range drivers {
		if d.IsOnline() && d.Location != nil {
			c.indexUpsert(ctx, d.ID, d.Location.Point())
		}
	}
	c.logger.Info("dispatch state restored",
		logx.Int("drivers", len(drivers)),
		logx.Int("requests", len(requests)),
		logx.Int("trips", len(trips)),
	)
}

// Submit stores a new request in searching. Submitting an id that already
// exists returns the stored request, so intake redeliveries are harmless.
func (c *Coordinator) Submit(ctx context.Context, in domain.Request) (domain.Request, error) {
	in.ID = strings.TrimSpace(in.ID)
	if !in.Pickup.Valid() || !in.Dropoff.Valid() {
		return domain.Request{}, fmt.Errorf("coordinates: %w", apperr.ErrInvalid)
	}
	if in.Fare < 0 {
		return domain.Request{}, fmt.Errorf("fare %d: %w", in.Fare, apperr.ErrInvalid)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if existing, err := c.Get(ctx, in.ID); err == nil {
		return existing, nil
	}

	now := c.now()
	r := domain.Request{
		ID:         in.ID,
		CustomerID: strings.TrimSpace(in.CustomerID),
		Status:     domain.StatusSearching,
		Pickup:     in.Pickup,
		Dropoff:    in.Dropoff,
		Fare:       in.Fare,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.saveRequest(ctx, r); err != nil {
		return domain.Request{}, err
	}

	c.mu.Lock()
	if _, ok := c.requests[r.ID]; ok {
		c.mu.Unlock()
		return c.Get(ctx, r.ID)
	}
	c.requests[r.ID] = &requestSlot{r: r}
	c.mu.Unlock()

	c.logger.Info("request submitted",
		logx.String("event", "request_submitted"),
		logx.String("request_id", r.ID),
		logx.String("customer_id", r.CustomerID),
	)
	return r.Clone(), nil
}

// Get returns a request by id.
func (c *Coordinator) Get(_ context.Context, id string) (domain.Request, error) {
	s, err := c.slot(id)
	if err != nil {
		return domain.Request{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Clone(), nil
}

// Requests returns every request ordered by creation.
func (c *Coordinator) Requests() []domain.Request {
	c.mu.RLock()
	slots := make([]*requestSlot, 0, len(c.requests))
	for _, s := range c.requests {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	out := make([]domain.Request, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.r.Clone())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (c *Coordinator) slot(id string) (*requestSlot, error) {
	c.mu.RLock()
	s, ok := c.requests[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("request %q: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// withRequest runs fn with the request slot locked.
func (c *Coordinator) withRequest(id string, fn func(s *requestSlot) error) error {
	s, err := c.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (c *Coordinator) saveRequest(ctx context.Context, r domain.Request) error {
	return c.tx.WithTx(ctx, func(tx dispatchtx.Repository) error {
		return tx.SaveRequest(ctx, r)
	})
}

func (c *Coordinator) saveDriverAndRequest(ctx context.Context, d domain.Driver, r domain.Request, trip *domain.CompletedTrip) error {
	return c.tx.WithTx(ctx, func(tx dispatchtx.Repository) error {
		if err := tx.SaveDriver(ctx, d); err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, r); err != nil {
			return err
		}
		if trip != nil {
			return tx.SaveTrip(ctx, *trip)
		}
		return nil
	})
}

func (c *Coordinator) transitioned(r domain.Request, from domain.RequestStatus, fields ...logx.Field) {
	if c.metrics.Transitions != nil {
		c.metrics.Transitions.WithLabelValues(string(from), string(r.Status)).Inc()
	}
	base := []logx.Field{
		logx.String("event", "request_"+string(r.Status)),
		logx.String("request_id", r.ID),
		logx.String("driver_id", r.DriverID),
		logx.String("from", string(from)),
		logx.String("to", string(r.Status)),
	}
	c.logger.Info("request transitioned", append(base, fields...)...)
}

func (c *Coordinator) notify(ctx context.Context, recipient, eventType, requestID string, payload any) {
	if recipient == "" {
		return
	}
	ev := notify.Event{
		Type:      eventType,
		Recipient: recipient,
		RequestID: requestID,
		Payload:   payload,
		At:        c.now(),
	}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		c.logger.Warn("notify failed",
			logx.String("type", eventType),
			logx.String("recipient", recipient),
			logx.String("request_id", requestID),
			logx.Err(err),
		)
	}
}

func (c *Coordinator) indexUpsert(ctx context.Context, driverID string, p domain.Point) {
	if err := c.index.Upsert(ctx, driverID, p); err != nil {
		c.logger.Warn("geo index upsert failed", logx.String("driver_id", driverID), logx.Err(err))
	}
}

// syncIndex mirrors a committed driver change into the geo index. It runs
// under the driver lock, so index writes follow the order of commits.
func (c *Coordinator) syncIndex(ctx context.Context, prev, next domain.Driver) {
	switch {
	case !next.IsOnline():
		if prev.IsOnline() {
			c.indexRemove(ctx, next.ID)
		}
	case next.Location == nil:
	case !prev.IsOnline() || prev.Location == nil || *prev.Location != *next.Location:
		c.indexUpsert(ctx, next.ID, next.Location.Point())
	}
}

func (c *Coordinator) indexRemove(ctx context.Context, driverID string) {
	if err := c.index.Remove(ctx, driverID); err != nil {
		c.logger.Warn("geo index remove failed", logx.String("driver_id", driverID), logx.Err(err))
	}
}
