package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"service-dispatch/internal/logx"
	"service-dispatch/internal/metrics"
)

// Observability - middleware for prometheus and access logging
func Observability(logger logx.Logger, m *metrics.HTTP) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logx.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor) // через прокси читаем ответ
			next.ServeHTTP(ww, r)                              // пропускаем дальше
			path := pathPattern(r)                             // что бы не взорвать прометеус))
			tm := time.Since(start)
			status := strconv.Itoa(ww.Status())

			if m != nil {
				m.Requests.WithLabelValues(r.Method, path, status).Inc()
				m.Duration.WithLabelValues(r.Method, path, status).Observe(tm.Seconds())
			}

			logger.Info("http request",
				logx.String("method", r.Method),
				logx.String("path", path),
				logx.Int("status", ww.Status()),
				logx.Duration("duration", tm),
				logx.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}

func pathPattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
