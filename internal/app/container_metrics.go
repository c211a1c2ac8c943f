package app

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"service-dispatch/internal/metrics"
	"service-dispatch/internal/service/dispatch"
)

type metricsOut struct {
	dig.Out

	RateLimitExceededTotal prometheus.Counter `name:"rate_limit_exceeded_total"`
	NotifyRetriesTotal     prometheus.Counter `name:"notify_retries_total"`
	NotifyDroppedTotal     prometheus.Counter `name:"notify_dropped_total"`
	Dispatch               dispatch.Metrics
	HTTP                   *metrics.HTTP
}

// provideMetrics registers collectors on the default registerer. A collector
// that is already registered is reused.
func provideMetrics() (metricsOut, error) {
	var out metricsOut
	var err error

	if out.RateLimitExceededTotal, err = register(metrics.NewRateLimitExceededTotal(), "rate_limit_exceeded_total"); err != nil {
		return metricsOut{}, err
	}
	if out.NotifyRetriesTotal, err = register(metrics.NewNotifyRetriesTotal(), "notify_retries_total"); err != nil {
		return metricsOut{}, err
	}
	if out.NotifyDroppedTotal, err = register(metrics.NewNotifyDroppedTotal(), "notify_dropped_total"); err != nil {
		return metricsOut{}, err
	}
	if out.Dispatch.OffersPublished, err = register(metrics.NewOffersPublishedTotal(), "dispatch_offers_published_total"); err != nil {
		return metricsOut{}, err
	}
	if out.Dispatch.AcceptOutcomes, err = register(metrics.NewAcceptOutcomesTotal(), "dispatch_accept_outcomes_total"); err != nil {
		return metricsOut{}, err
	}
	if out.Dispatch.Transitions, err = register(metrics.NewTransitionsTotal(), "dispatch_transitions_total"); err != nil {
		return metricsOut{}, err
	}

	h := metrics.NewHTTP()
	if h.Requests, err = register(h.Requests, "http_requests_total"); err != nil {
		return metricsOut{}, err
	}
	if h.Duration, err = register(h.Duration, "http_request_duration_seconds"); err != nil {
		return metricsOut{}, err
	}
	out.HTTP = h

	return out, nil
}

func register[T prometheus.Collector](c T, name string) (T, error) {
	if err := prometheus.DefaultRegisterer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register %s: %w", name, err)
	}
	return c, nil
}
