package config_test

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"service-dispatch/internal/config"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "STORAGE_DRIVER",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"REDIS_ADDR", "REDIS_GEO_KEY",
	"KAFKA_BROKERS", "KAFKA_GROUP_ID", "KAFKA_INTAKE_TOPIC", "KAFKA_EVENTS_TOPIC",
	"DISPATCH_RADIUS_KM", "DISPATCH_OFFER_TTL", "DISPATCH_SWEEP_INTERVAL",
	"NOTIFY_WORKERS", "RATE_LIMIT_ENABLED", "PPROF_ENABLED",
}

func resetFlags(t *testing.T, args ...string) {
	t.Helper()
	oldCommandLine, oldArgs := pflag.CommandLine, os.Args
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	pflag.CommandLine = fs
	os.Args = append([]string{"cmd"}, args...)
	t.Cleanup(func() {
		pflag.CommandLine = oldCommandLine
		os.Args = oldArgs
	})
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetFlags(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, config.StorageMemory, cfg.Storage)
	require.Equal(t, config.DefaultDB(), cfg.DB)
	require.Equal(t, "drivers_geo", cfg.Redis.GeoKey)
	require.Empty(t, cfg.Redis.Addr)
	require.False(t, cfg.Kafka.Enabled())
	require.Equal(t, config.DefaultDispatch(), cfg.Dispatch)
	require.Equal(t, config.DefaultNotify(), cfg.Notify)
	require.Equal(t, config.DefaultRateLimit(), cfg.RateLimit)
	require.False(t, cfg.Pprof.Enabled)
	require.Equal(t, ":6060", cfg.Pprof.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetFlags(t)

	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "15432")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_GROUP_ID", "dispatch")
	t.Setenv("KAFKA_INTAKE_TOPIC", "dispatch.intake")
	t.Setenv("DISPATCH_RADIUS_KM", "15")
	t.Setenv("DISPATCH_OFFER_TTL", "30s")
	t.Setenv("NOTIFY_WORKERS", "8")
	t.Setenv("RATE_LIMIT_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, config.StoragePostgres, cfg.Storage)
	require.Equal(t, "postgres://myuser:mypassword@db:15432/dispatch_db?sslmode=disable", cfg.DB.DSN())
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.True(t, cfg.Kafka.Enabled())
	require.InDelta(t, 15.0, cfg.Dispatch.RadiusKm, 1e-9)
	require.Equal(t, 30*time.Second, cfg.Dispatch.OfferTTL)
	require.Equal(t, 8, cfg.Notify.Workers)
	require.True(t, cfg.RateLimit.Enabled)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	resetFlags(t, "--port=7070", "--radius-km=12.5", "--offer-ttl=45s")
	t.Setenv("PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
	require.InDelta(t, 12.5, cfg.Dispatch.RadiusKm, 1e-9)
	require.Equal(t, 45*time.Second, cfg.Dispatch.OfferTTL)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"port range":       {"PORT", "70000"},
		"postgres port":    {"POSTGRES_PORT", "not-a-number"},
		"offer ttl":        {"DISPATCH_OFFER_TTL", "bad-interval"},
		"storage":          {"STORAGE_DRIVER", "mongo"},
		"log level":        {"LOG_LEVEL", "verbose"},
		"radius":           {"DISPATCH_RADIUS_KM", "0"},
		"kafka incomplete": {"KAFKA_BROKERS", "k1:9092"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			resetFlags(t)
			t.Setenv(kv[0], kv[1])

			cfg, err := config.Load()
			require.Error(t, err)
			require.Nil(t, cfg)
		})
	}
}

func TestLoad_FlagsParseError(t *testing.T) {
	resetFlags(t, "--port=not-a-number")

	cfg, err := config.Load()

	require.Error(t, err)
	require.Nil(t, cfg)
	require.Contains(t, err.Error(), "parse flags")
}
