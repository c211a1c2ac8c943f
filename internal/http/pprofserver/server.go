package pprofserver

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr is the listen address of the debug server.
const DefaultAddr = ":6060"

// Config stores pprof server settings.
type Config struct {
	Addr string
	User string
	Pass string
}

// Handler returns the profiling routes under /debug, guarded by basic auth
// unless the caller is on loopback.
func Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(guard(cfg))
	r.Mount("/debug", chimw.Profiler())
	return r
}

// NewServer builds the debug http.Server; it is started by the app runner.
func NewServer(cfg Config) *http.Server {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func guard(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isLoopback(r.RemoteAddr) || authorized(r, cfg) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

// authorized is false when no credentials are configured.
func authorized(r *http.Request, cfg Config) bool {
	if cfg.User == "" || cfg.Pass == "" {
		return false
	}
	u, p, ok := r.BasicAuth()
	return ok && secureEq(u, cfg.User) && secureEq(p, cfg.Pass)
}

func secureEq(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isLoopback(remoteAddr string) bool {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
