package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"service-dispatch/internal/config"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
	"service-dispatch/internal/http/handlers"
	"service-dispatch/internal/http/middleware"
	"service-dispatch/internal/http/middleware/ratelimit"
	"service-dispatch/internal/http/pprofserver"
	"service-dispatch/internal/http/router"
	"service-dispatch/internal/ledger"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/metrics"
	"service-dispatch/internal/notify"
	"service-dispatch/internal/ports/dispatchtx"
	"service-dispatch/internal/repository"
	"service-dispatch/internal/service/broadcast"
	"service-dispatch/internal/service/dispatch"
	"service-dispatch/internal/service/driverstate"
	"service-dispatch/internal/service/stats"
	"service-dispatch/internal/transport/kafka"
)

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	dbConnect dbConnectFunc
	loadCfg   func() (*config.Config, error)
	logFatalf func(string, ...interface{})
}

// NewContainerBuilder returns a new dig container builder
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		dbConnect: connectDbWithRetry,
		loadCfg:   config.Load,
		logFatalf: log.Fatalf,
	}
}

// WithDBConnect sets the database connection function
func (b *ContainerBuilder) WithDBConnect(fn dbConnectFunc) *ContainerBuilder {
	if fn != nil {
		b.dbConnect = fn
	}
	return b
}

// WithConfig replaces config loading with a fixed config.
func (b *ContainerBuilder) WithConfig(cfg *config.Config) *ContainerBuilder {
	if cfg != nil {
		b.loadCfg = func() (*config.Config, error) { return cfg, nil }
	}
	return b
}

// WithLogFatalf sets the log.Fatalf function
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...interface{})) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// MustBuild builds and returns a new dig container
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx, b.loadCfg); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerStorage(container, b.dbConnect); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := registerNotify(container); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if err := registerDomainServices(container); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if err := registerIntake(container); err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	if err := registerHTTP(container); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return container, nil
}

// MustBuildContainer builds and returns a new dig container
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

func registerCore(container *dig.Container, ctx context.Context, loadCfg func() (*config.Config, error)) error {
	return provideAll(container,
		func() context.Context { return ctx },
		loadCfg,
		func(cfg *config.Config) logx.Logger { return NewLogger(cfg.LogLevel) },
		provideMetrics,
	)
}

// stateLoader hydrates the in-memory state on startup.
type stateLoader interface {
	LoadDrivers(ctx context.Context) ([]domain.Driver, error)
	LoadRequests(ctx context.Context) ([]domain.Request, error)
	LoadTrips(ctx context.Context) ([]domain.CompletedTrip, error)
}

// storage is the persistence backend chosen by STORAGE_DRIVER.
type storage struct {
	Tx     dispatchtx.Runner
	Loader stateLoader   // nil in memory mode
	Pool   *pgxpool.Pool // nil in memory mode
}

func (s *storage) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

type geoOut struct {
	dig.Out

	Index geo.Index
	Redis *redis.Client
}

func registerStorage(container *dig.Container, dbConnect dbConnectFunc) error {
	storageProvider := func(ctx context.Context, cfg *config.Config, logger logx.Logger) (*storage, error) {
		if cfg.Storage != config.StoragePostgres {
			logger.Info("storage: memory")
			return &storage{Tx: dispatchtx.NopRunner{}}, nil
		}
		pool, err := dbConnect(ctx, logger, cfg.DB.DSN(), 10, time.Second)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("schema: %w", err)
		}
		repo := repository.NewDispatchRepo(pool)
		logger.Info("storage: postgres", logx.String("host", cfg.DB.Host), logx.String("db", cfg.DB.Name))
		return &storage{Tx: repo, Loader: repo, Pool: pool}, nil
	}

	geoProvider := func(ctx context.Context, cfg *config.Config, logger logx.Logger) (geoOut, error) {
		if cfg.Redis.Addr == "" {
			return geoOut{Index: geo.NewMemoryIndex()}, nil
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := pingRedis(ctx, client); err != nil {
			_ = client.Close()
			return geoOut{}, err
		}
		logger.Info("geo index: redis", logx.String("addr", cfg.Redis.Addr), logx.String("key", cfg.Redis.GeoKey))
		return geoOut{Index: geo.NewRedisIndex(client, cfg.Redis.GeoKey), Redis: client}, nil
	}

	return provideAll(container, storageProvider, geoProvider)
}

type notifyIn struct {
	dig.In

	Config    *config.Config
	Logger    logx.Logger
	Hub       *notify.Hub
	Publisher *notify.KafkaPublisher `optional:"true"`
	Retries   prometheus.Counter     `name:"notify_retries_total"`
	Dropped   prometheus.Counter     `name:"notify_dropped_total"`
}

func registerNotify(container *dig.Container) error {
	return provideAll(container,
		func(logger logx.Logger) *notify.Hub {
			return notify.NewHub(logger, 5*time.Second)
		},
		func(cfg *config.Config) (*notify.KafkaPublisher, error) {
			return notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		},
		func(in notifyIn) *notify.Async {
			targets := notify.Multi{in.Hub}
			if in.Publisher != nil {
				targets = append(targets, in.Publisher)
			}
			n := in.Config.Notify
			retrying := notify.NewRetrying(targets, in.Logger, in.Retries, notify.RetryConfig{
				MaxAttempts: n.MaxAttempts,
				BaseDelay:   n.BaseDelay,
				MaxDelay:    n.MaxDelay,
			})
			return notify.NewAsync(retrying, notify.AsyncConfig{
				QueueSize: n.QueueSize,
				Workers:   n.Workers,
			}, in.Logger, in.Dropped)
		},
	)
}

type coordinatorIn struct {
	dig.In

	Config   *config.Config
	Logger   logx.Logger
	Storage  *storage
	Index    geo.Index
	Drivers  *driverstate.Store
	Offers   *broadcast.Registry
	Ledger   *ledger.Ledger
	Notifier *notify.Async
	Metrics  dispatch.Metrics
}

func newCoordinator(in coordinatorIn) *dispatch.Coordinator {
	d := in.Config.Dispatch
	return dispatch.New(dispatch.Config{
		RadiusKm:         d.RadiusKm,
		OfferTTL:         d.OfferTTL,
		MinutesPerKm:     d.MinutesPerKm,
		TrailCapacity:    d.TrailCapacity,
		StaleAfter:       d.StaleAfter,
		OperationTimeout: d.OperationTimeout,
	}, dispatch.Deps{
		Drivers:  in.Drivers,
		Offers:   in.Offers,
		Ledger:   in.Ledger,
		Index:    in.Index,
		Tx:       in.Storage.Tx,
		Notifier: in.Notifier,
		Logger:   in.Logger,
		Metrics:  in.Metrics,
	})
}

func registerDomainServices(container *dig.Container) error {
	return provideAll(container,
		func(st *storage, logger logx.Logger) *driverstate.Store {
			return driverstate.NewStore(st.Tx, nil, logger)
		},
		broadcast.New,
		ledger.New,
		newCoordinator,
		func(trips *ledger.Ledger, c *dispatch.Coordinator) *stats.Aggregator {
			return stats.NewAggregator(trips, c, time.UTC)
		},
		func(cfg *config.Config, c *dispatch.Coordinator, logger logx.Logger) *dispatch.Sweeper {
			return dispatch.NewSweeper(c, cfg.Dispatch.SweepInterval, logger)
		},
	)
}

func registerIntake(container *dig.Container) error {
	return provideAll(container,
		func(cfg *config.Config, c *dispatch.Coordinator, logger logx.Logger) (*kafka.Consumer, error) {
			k := cfg.Kafka
			return kafka.NewConsumer(logger, k.Brokers, k.GroupID, k.IntakeTopic, kafka.NewIntakeHandler(c))
		},
	)
}

type routerIn struct {
	dig.In

	Logger      logx.Logger
	Base        *handlers.Handlers
	Drivers     *handlers.DriverHandler
	Requests    *handlers.RequestHandler
	Stream      *handlers.StreamHandler
	HTTPMetrics *metrics.HTTP
	RateLimit   *ratelimit.Middleware
}

func newRouter(in routerIn) http.Handler {
	return router.New(router.Deps{
		Base:     in.Base,
		Drivers:  in.Drivers,
		Requests: in.Requests,
		Stream:   in.Stream,
		Metrics:  promhttp.Handler(),
		Middlewares: []func(http.Handler) http.Handler{
			middleware.Observability(in.Logger, in.HTTPMetrics),
			in.RateLimit.Handler(),
		},
	})
}

type serversOut struct {
	dig.Out

	Main  *http.Server
	Pprof *http.Server `name:"pprof_server"`
}

func newServers(cfg *config.Config, mux http.Handler) serversOut {
	out := serversOut{
		Main: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	if cfg.Pprof.Enabled {
		out.Pprof = pprofserver.NewServer(pprofserver.Config{
			Addr: cfg.Pprof.Addr,
			User: cfg.Pprof.User,
			Pass: cfg.Pprof.Pass,
		})
	}
	return out
}

func registerHTTP(container *dig.Container) error {
	return provideAll(container,
		handlers.New,
		func(c *dispatch.Coordinator, agg *stats.Aggregator, logger logx.Logger) *handlers.DriverHandler {
			return handlers.NewDriverHandler(c, agg, logger)
		},
		func(c *dispatch.Coordinator, logger logx.Logger) *handlers.RequestHandler {
			return handlers.NewRequestHandler(c, logger)
		},
		func(c *dispatch.Coordinator, hub *notify.Hub, logger logx.Logger) *handlers.StreamHandler {
			return handlers.NewStreamHandler(c, hub, logger)
		},
		newRateLimitClock,
		newRateLimiter,
		newRateLimitMiddleware,
		newRouter,
		newServers,
	)
}
