package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"service-dispatch/internal/logx"
	"service-dispatch/internal/notify"
	"service-dispatch/internal/service/dispatch"
	"service-dispatch/internal/transport/kafka"
)

const shutdownTimeout = 15 * time.Second

// Runner runs the dispatch service
type Runner struct {
	runFn func(*dig.Container) error
}

// NewRunner returns a new Runner
func NewRunner() *Runner {
	return &Runner{runFn: run}
}

// MustRun starts the service using the provided DI container and blocks
// until its context is cancelled.
func (r *Runner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	if err == nil {
		return
	}
	logger := logx.Nop()
	_ = container.Invoke(func(l logx.Logger) { logger = l })

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("shutdown requested, exiting")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("startup aborted: startup timeout exceeded")
	default:
		logger.Error("run error", logx.Err(err))
		panic(err)
	}
}

type runIn struct {
	dig.In

	Ctx         context.Context
	Logger      logx.Logger
	Main        *http.Server
	Pprof       *http.Server `name:"pprof_server" optional:"true"`
	Storage     *storage
	Coordinator *dispatch.Coordinator
	Sweeper     *dispatch.Sweeper
	Notifier    *notify.Async
	Hub         *notify.Hub
	Publisher   *notify.KafkaPublisher `optional:"true"`
	Consumer    *kafka.Consumer        `optional:"true"`
	Redis       *redis.Client          `optional:"true"`
}

func run(container *dig.Container) error {
	return container.Invoke(appRun)
}

func appRun(in runIn) error {
	ctx, logger := in.Ctx, in.Logger
	defer closeResources(in)

	if err := restore(ctx, in.Storage.Loader, in.Coordinator); err != nil {
		return err
	}
	in.Notifier.Start(ctx)

	errCh := make(chan error, 2)
	startServer(in.Main, "http", logger, errCh)
	if in.Pprof != nil {
		startServer(in.Pprof, "pprof", logger, errCh)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := in.Sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", logx.Err(err))
		}
	}()
	if in.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := in.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka intake stopped", logx.Err(err))
			}
		}()
	}

	logger.Info("service-dispatch started", logx.String("addr", in.Main.Addr))

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
		logger.Info("shutting down service-dispatch...")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", logx.Err(runErr))
	}

	gracefulShutdown(in.Main, logger, shutdownTimeout)
	if in.Pprof != nil {
		gracefulShutdown(in.Pprof, logger, shutdownTimeout)
	}
	wg.Wait()
	return runErr
}

// restore hydrates drivers, requests and the ledger from persistent storage.
func restore(ctx context.Context, loader stateLoader, c *dispatch.Coordinator) error {
	if loader == nil {
		return nil
	}
	drivers, err := loader.LoadDrivers(ctx)
	if err != nil {
		return fmt.Errorf("restore drivers: %w", err)
	}
	requests, err := loader.LoadRequests(ctx)
	if err != nil {
		return fmt.Errorf("restore requests: %w", err)
	}
	trips, err := loader.LoadTrips(ctx)
	if err != nil {
		return fmt.Errorf("restore trips: %w", err)
	}
	c.Restore(ctx, drivers, requests, trips)
	return nil
}

func startServer(server *http.Server, name string, logger logx.Logger, errCh chan<- error) {
	go func() {
		logger.Info("listening", logx.String("server", name), logx.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

func gracefulShutdown(srv *http.Server, logger logx.Logger, timeout time.Duration) {
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn("graceful shutdown error", logx.Err(err))
	}
}

// closeResources releases everything in reverse start order. The notifier
// drains before its targets are closed.
func closeResources(in runIn) {
	logger := in.Logger
	if in.Consumer != nil {
		if err := in.Consumer.Close(); err != nil {
			logger.Error("kafka close error", logx.Err(err))
		}
	}
	if err := in.Notifier.Close(); err != nil {
		logger.Error("notifier close error", logx.Err(err))
	}
	if err := in.Hub.Close(); err != nil {
		logger.Error("hub close error", logx.Err(err))
	}
	if err := in.Publisher.Close(); err != nil {
		logger.Error("kafka publisher close error", logx.Err(err))
	}
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			logger.Error("redis close error", logx.Err(err))
		}
	}
	in.Storage.Close()
}
