package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config stores service settings.
type Config struct {
	Port      int
	LogLevel  string
	Storage   string
	DB        DB
	Redis     Redis
	Kafka     Kafka
	Dispatch  Dispatch
	Notify    Notify
	RateLimit RateLimit
	Pprof     Pprof
}

// DB stores postgres connection settings.
type DB struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN returns a pgx connection string.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Pass, d.Host, d.Port, d.Name)
}

// Redis stores the geo index settings. Empty Addr keeps the index in memory.
type Redis struct {
	Addr     string
	Password string
	GeoKey   string
}

// Kafka stores broker settings. Empty Brokers disables Kafka entirely.
type Kafka struct {
	Brokers     []string
	GroupID     string
	IntakeTopic string
	EventsTopic string
}

// Enabled reports whether brokers are configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Dispatch stores coordinator tunables.
type Dispatch struct {
	RadiusKm         float64
	OfferTTL         time.Duration
	MinutesPerKm     float64
	TrailCapacity    int
	SweepInterval    time.Duration
	StaleAfter       time.Duration
	OperationTimeout time.Duration
}

// Notify stores notification pipeline settings.
type Notify struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RateLimit stores HTTP rate limiter settings.
type RateLimit struct {
	Enabled bool
	RPS     float64
	Burst   int
	TTL     time.Duration
	MaxKeys int
}

// Pprof stores debug server settings.
type Pprof struct {
	Enabled bool
	Addr    string
	User    string
	Pass    string
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	e := envReader{}
	cfg := &Config{
		Port:     e.getInt("PORT", defaultPort),
		LogLevel: e.getString("LOG_LEVEL", defaultLogLevel),
		Storage:  strings.ToLower(e.getString("STORAGE_DRIVER", StorageMemory)),
		DB: DB{
			Host: e.getString("POSTGRES_HOST", defaultDB.Host),
			Port: e.getString("POSTGRES_PORT", defaultDB.Port),
			User: e.getString("POSTGRES_USER", defaultDB.User),
			Pass: e.getString("POSTGRES_PASSWORD", defaultDB.Pass),
			Name: e.getString("POSTGRES_DB", defaultDB.Name),
		},
		Redis: Redis{
			Addr:     e.getString("REDIS_ADDR", ""),
			Password: e.getString("REDIS_PASSWORD", ""),
			GeoKey:   e.getString("REDIS_GEO_KEY", defaultRedis.GeoKey),
		},
		Kafka: Kafka{
			Brokers:     e.getList("KAFKA_BROKERS"),
			GroupID:     e.getString("KAFKA_GROUP_ID", ""),
			IntakeTopic: e.getString("KAFKA_INTAKE_TOPIC", ""),
			EventsTopic: e.getString("KAFKA_EVENTS_TOPIC", ""),
		},
		Dispatch: Dispatch{
			RadiusKm:         e.getFloat("DISPATCH_RADIUS_KM", defaultDispatch.RadiusKm),
			OfferTTL:         e.getDuration("DISPATCH_OFFER_TTL", defaultDispatch.OfferTTL),
			MinutesPerKm:     e.getFloat("DISPATCH_MINUTES_PER_KM", defaultDispatch.MinutesPerKm),
			TrailCapacity:    e.getInt("DISPATCH_TRAIL_CAPACITY", defaultDispatch.TrailCapacity),
			SweepInterval:    e.getDuration("DISPATCH_SWEEP_INTERVAL", defaultDispatch.SweepInterval),
			StaleAfter:       e.getDuration("DISPATCH_STALE_AFTER", defaultDispatch.StaleAfter),
			OperationTimeout: e.getDuration("DISPATCH_OPERATION_TIMEOUT", defaultDispatch.OperationTimeout),
		},
		Notify: Notify{
			QueueSize:   e.getInt("NOTIFY_QUEUE_SIZE", defaultNotify.QueueSize),
			Workers:     e.getInt("NOTIFY_WORKERS", defaultNotify.Workers),
			MaxAttempts: e.getInt("NOTIFY_MAX_ATTEMPTS", defaultNotify.MaxAttempts),
			BaseDelay:   e.getDuration("NOTIFY_BASE_DELAY", defaultNotify.BaseDelay),
			MaxDelay:    e.getDuration("NOTIFY_MAX_DELAY", defaultNotify.MaxDelay),
		},
		RateLimit: RateLimit{
			Enabled: e.getBool("RATE_LIMIT_ENABLED", defaultRateLimit.Enabled),
			RPS:     e.getFloat("RATE_LIMIT_RPS", defaultRateLimit.RPS),
			Burst:   e.getInt("RATE_LIMIT_BURST", defaultRateLimit.Burst),
			TTL:     e.getDuration("RATE_LIMIT_TTL", defaultRateLimit.TTL),
			MaxKeys: e.getInt("RATE_LIMIT_MAX_KEYS", defaultRateLimit.MaxKeys),
		},
		Pprof: Pprof{
			Enabled: e.getBool("PPROF_ENABLED", false),
			Addr:    e.getString("PPROF_ADDR", defaultPprofAddr),
			User:    e.getString("PPROF_USER", ""),
			Pass:    e.getString("PPROF_PASS", ""),
		},
	}
	if e.err != nil {
		return nil, e.err
	}

	fs := pflag.CommandLine
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage driver (memory|postgres)")
	fs.Float64Var(&cfg.Dispatch.RadiusKm, "radius-km", cfg.Dispatch.RadiusKm, "broadcast radius in km")
	fs.DurationVar(&cfg.Dispatch.OfferTTL, "offer-ttl", cfg.Dispatch.OfferTTL, "offer lifetime")
	fs.BoolVar(&cfg.Pprof.Enabled, "pprof", cfg.Pprof.Enabled, "start the pprof debug server")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if p, err := strconv.Atoi(c.DB.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid postgres port: %q", c.DB.Port)
	}
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("invalid storage driver: %q", c.Storage)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if c.Dispatch.RadiusKm <= 0 {
		return fmt.Errorf("invalid dispatch radius: %v", c.Dispatch.RadiusKm)
	}
	if c.Dispatch.OfferTTL <= 0 || c.Dispatch.SweepInterval <= 0 {
		return errors.New("dispatch durations must be positive")
	}
	if c.Kafka.Enabled() && (c.Kafka.GroupID == "" || c.Kafka.IntakeTopic == "") {
		return errors.New("kafka: KAFKA_GROUP_ID and KAFKA_INTAKE_TOPIC are required with brokers")
	}
	return nil
}

// envReader keeps the first parse error so Load can report it once.
type envReader struct {
	err error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) getString(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) getList(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *envReader) getInt(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return n
}

func (e *envReader) getFloat(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return f
}

func (e *envReader) getBool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return b
}

func (e *envReader) getDuration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return d
}

func (e *envReader) fail(key, v string) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %q", key, v)
	}
}
