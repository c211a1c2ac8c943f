package config

import "time"

const defaultPort = 8080

const defaultLogLevel = "info"

var defaultDB = DB{
	Host: "127.0.0.1",
	Port: "5432",
	User: "myuser",
	Pass: "mypassword",
	Name: "dispatch_db",
}

var defaultRedis = Redis{
	GeoKey: "drivers_geo",
}

var defaultDispatch = Dispatch{
	RadiusKm:         10,
	OfferTTL:         60 * time.Second,
	MinutesPerKm:     3,
	TrailCapacity:    100,
	SweepInterval:    10 * time.Second,
	StaleAfter:       2 * time.Minute,
	OperationTimeout: 3 * time.Second,
}

var defaultNotify = Notify{
	QueueSize:   1024,
	Workers:     4,
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    time.Second,
}

var defaultRateLimit = RateLimit{
	Enabled: false,
	RPS:     20,
	Burst:   40,
	TTL:     5 * time.Minute,
	MaxKeys: 10000,
}

const defaultPprofAddr = ":6060"

// DefaultPort returns the default port.
func DefaultPort() int {
	return defaultPort
}

// DefaultDB returns the default database settings.
func DefaultDB() DB {
	return defaultDB
}

// DefaultDispatch returns the default dispatch tunables.
func DefaultDispatch() Dispatch {
	return defaultDispatch
}

// DefaultNotify returns the default notification pipeline settings.
func DefaultNotify() Notify {
	return defaultNotify
}

// DefaultRateLimit returns the default rate limiter settings.
func DefaultRateLimit() RateLimit {
	return defaultRateLimit
}
