package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"service-dispatch/internal/http/handlers"
)

// DefaultTimeout bounds request handling on the API routes.
const DefaultTimeout = 5 * time.Second

// Deps are the handlers and middlewares mounted by New.
type Deps struct {
	Base     *handlers.Handlers
	Drivers  *handlers.DriverHandler
	Requests *handlers.RequestHandler
	Stream   *handlers.StreamHandler
	Metrics  http.Handler

	// Middlewares run after the base chain, on every route.
	Middlewares []func(http.Handler) http.Handler
	Timeout     time.Duration
}

// New constructs a chi-based http.Handler with base middleware and routes.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range d.Middlewares {
		r.Use(mw)
	}

	base := d.Base
	if base == nil {
		base = handlers.New(nil)
	}
	r.Get("/ping", base.Ping)
	r.Method(http.MethodHead, "/healthcheck", http.HandlerFunc(base.HealthcheckHead))
	r.NotFound(http.HandlerFunc(base.NotFound))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// websocket живет дольше любого таймаута
	if d.Stream != nil {
		r.Get("/ws/drivers/{id}", d.Stream.Serve)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		if dh := d.Drivers; dh != nil {
			r.Route("/drivers", func(r chi.Router) {
				r.Post("/", dh.Register)
				r.Get("/nearby", dh.Nearby)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", dh.Get)
					r.Post("/online", dh.SetOnline)
					r.Post("/availability", dh.SetAvailability)
					r.Post("/location", dh.UpdateLocation)
					r.Post("/release", dh.Release)
					r.Get("/offers", dh.Offers)
					r.Get("/stats", dh.Stats)
				})
			})
		}

		if rh := d.Requests; rh != nil {
			r.Route("/requests", func(r chi.Router) {
				r.Post("/", rh.Submit)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", rh.Get)
					r.Post("/broadcast", rh.Broadcast)
					r.Post("/accept", rh.Accept)
					r.Post("/reject", rh.Reject)
					r.Post("/advance", rh.Advance)
					r.Post("/cancel", rh.Cancel)
					r.Get("/eta", rh.ETA)
					r.Post("/rating", rh.Rate)
				})
			})
		}
	})

	return r
}
