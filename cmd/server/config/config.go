package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"
)

// HTTPConfig holds the storefront HTTP server settings.
type HTTPConfig struct {
	Addr              string
	AllowedOrigins    []string
	ShutdownTimeout   time.Duration
	RateLimitInterval time.Duration
	RateLimitBurst    int
	SecureCookies     bool
}

// FinalizerConfig controls the call to the order finalization backend.
// An empty URL means the service's own /api/orders/finalize endpoint.
type FinalizerConfig struct {
	URL                 string
	Timeout             time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// VNPayConfig holds the merchant hash secret. An empty secret disables
// signature verification.
type VNPayConfig struct {
	HashSecret string
}

// RedisConfig holds Redis connection settings for the cart store. An empty
// URL selects the in-memory cart.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	CartTTL            time.Duration
	KeyPrefix          string
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// DatabaseConfig holds the Postgres DSN; empty selects in-memory stores.
type DatabaseConfig struct {
	URL string
}

// KafkaConfig holds broker settings; no brokers means events are only logged.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	NotifyTopic    string
	PublishTimeout time.Duration
}

// JournalConfig holds the path of the reconciled payments journal; empty
// disables it.
type JournalConfig struct {
	Path string
}

// GRPCConfig holds the health server address.
type GRPCConfig struct {
	Addr string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// MountConfig controls how long a callback view keeps its guard.
type MountConfig struct {
	TTL time.Duration
}

// LoadHTTP reads HTTP server settings from env.
func LoadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{
		Addr:           stringDefault("HTTP_ADDR", ":8080"),
		AllowedOrigins: list("CORS_ALLOWED_ORIGINS"),
	}
	var err error
	if cfg.ShutdownTimeout, err = durationDefault("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = durationDefault("HTTP_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intDefault("HTTP_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}
	if cfg.SecureCookies, err = optionalBool("HTTP_SECURE_COOKIES"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFinalizer reads finalize backend and reliability settings from env.
func LoadFinalizer() (FinalizerConfig, error) {
	cfg := FinalizerConfig{URL: strings.TrimSpace(os.Getenv("FINALIZE_URL"))}
	var err error
	if cfg.Timeout, err = durationDefault("FINALIZE_TIMEOUT", 8*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = intDefault("FINALIZE_BREAKER_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = durationDefault("FINALIZE_BREAKER_RESET_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = durationDefault("FINALIZE_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intDefault("FINALIZE_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}
	if cfg.Timeout == 0 {
		return cfg, fmt.Errorf("FINALIZE_TIMEOUT must be > 0")
	}
	return cfg, nil
}

// LoadVNPay reads the gateway hash secret from env.
func LoadVNPay() VNPayConfig {
	return VNPayConfig{HashSecret: strings.TrimSpace(os.Getenv("VNP_HASH_SECRET"))}
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		URL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		KeyPrefix: stringDefault("REDIS_CART_PREFIX", "cart:"),
	}
	if cfg.URL == "" {
		return cfg, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}
	if cfg.HealthcheckTimeout, err = durationDefault("REDIS_HEALTHCHECK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.CartTTL, err = durationDefault("REDIS_CART_TTL", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDatabase reads the Postgres DSN from env.
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// LoadKafka reads Kafka settings from env.
func LoadKafka() (KafkaConfig, error) {
	cfg := KafkaConfig{
		Brokers:     list("KAFKA_BROKERS"),
		Topic:       stringDefault("KAFKA_TOPIC", "payments.reconciled"),
		NotifyTopic: stringDefault("KAFKA_NOTIFY_TOPIC", "orders.notify"),
	}
	var err error
	if cfg.PublishTimeout, err = durationDefault("EVENTS_PUBLISH_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PublishTimeout <= 0 {
		return cfg, fmt.Errorf("EVENTS_PUBLISH_TIMEOUT must be > 0")
	}
	return cfg, nil
}

// LoadJournal reads the event journal path from env.
func LoadJournal() JournalConfig {
	return JournalConfig{Path: strings.TrimSpace(os.Getenv("PAYMENTS_JOURNAL_PATH"))}
}

// LoadGRPC reads the gRPC health server address from env.
func LoadGRPC() GRPCConfig {
	return GRPCConfig{Addr: stringDefault("GRPC_ADDR", ":50051")}
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// LoadMounts reads the callback mount TTL from env.
func LoadMounts() (MountConfig, error) {
	ttl, err := durationDefault("MOUNT_TTL", 10*time.Minute)
	if err != nil {
		return MountConfig{}, err
	}
	return MountConfig{TTL: ttl}, nil
}
