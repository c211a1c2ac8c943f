package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewRateLimitExceededTotal returns a Prometheus counter for the number of rejected HTTP requests due to rate limiting
func NewRateLimitExceededTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_exceeded_total",
		Help: "Total number of rejected HTTP requests due to rate limiting",
	})
}

// NewNotifyRetriesTotal returns a counter of notification redelivery attempts
func NewNotifyRetriesTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_retries_total",
		Help: "Total number of notification redelivery attempts",
	})
}

// NewNotifyDroppedTotal returns a counter of notifications dropped on a full queue
func NewNotifyDroppedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_dropped_total",
		Help: "Total number of notifications dropped because the queue was full",
	})
}

// NewOffersPublishedTotal returns a counter of offers sent to drivers
func NewOffersPublishedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offers_published_total",
		Help: "Total number of offers published to drivers",
	})
}

// NewAcceptOutcomesTotal returns a counter of accept attempts by outcome
func NewAcceptOutcomesTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_accept_outcomes_total",
		Help: "Accept attempts by outcome (accepted or error kind)",
	}, []string{"outcome"})
}

// NewTransitionsTotal returns a counter of committed request status changes
func NewTransitionsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_transitions_total",
		Help: "Committed request status transitions",
	}, []string{"from", "to"})
}

// HTTP holds request metrics of the HTTP surface.
type HTTP struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTP returns HTTP request collectors labeled by method, route pattern and status
func NewHTTP() *HTTP {
	return &HTTP{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Collectors returns the collectors for registration.
func (h *HTTP) Collectors() []prometheus.Collector {
	return []prometheus.Collector{h.Requests, h.Duration}
}
