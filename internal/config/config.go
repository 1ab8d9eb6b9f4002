// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        // e.g. "8080"
	BackofficePort string        // e.g. "8081"
	Env            string        // "development" | "production"
	ReadTimeout    time.Duration // default 10s
	WriteTimeout   time.Duration // default 10s

	// BackofficeAllowedIPs is a comma-separated allowlist; empty allows all.
	BackofficeAllowedIPs string
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	LockTimeout     time.Duration // FOR UPDATE wait bound, default 3s
}

// RedisConfig holds shared-cache connection settings.
type RedisConfig struct {
	Addr     string // default "localhost:6379"
	Password string
	DB       int
}

// NATSConfig holds domain-event publisher settings.
type NATSConfig struct {
	URL     string // default nats.DefaultURL
	Enabled bool   // default true; false runs with a no-op publisher
}

// AuthConfig holds the identity-token shim settings. Identity management is
// an external collaborator; only token verification lives here.
type AuthConfig struct {
	JWTSecret string // must be set
}

// BidConfig holds admission and apply-step policy.
type BidConfig struct {
	IdemTTL            time.Duration // idempotency marker TTL, default 30m
	ExtensionEnabled   bool          // anti-sniping auto-extension, default true
	ExtensionThreshold time.Duration // extend when remaining <= threshold, default 60s
	ExtensionBy        time.Duration // how far to push the end out, default 60s
}

// ConsumerConfig holds the event-consumer polling policy.
type ConsumerConfig struct {
	PollInterval time.Duration // default 200ms
	RetryBatch   int           // retry sub-queue drain bound per tick, default 50
	ScanCount    int           // SCAN count hint for queue discovery, default 200
}

// DeadlineConfig holds finalize scheduling policy.
type DeadlineConfig struct {
	WorkerInterval    time.Duration // due-auction sweep, default 1s
	BatchLimit        int           // due auctions per sweep, default 200
	ReconcileInterval time.Duration // DB→index repair sweep, default 5m
	BootstrapHorizon  time.Duration // index only auctions ending within, default 14d
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Auth     AuthConfig
	Bid      BidConfig
	Consumer ConsumerConfig
	Deadline DeadlineConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns every validation error encountered, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be set"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}
	if c.Bid.IdemTTL < time.Minute {
		errs = append(errs, fmt.Errorf(
			"BID_IDEM_TTL must be at least 1m (redelivery window), got %s", c.Bid.IdemTTL))
	}
	if c.Consumer.PollInterval <= 0 || c.Consumer.PollInterval > time.Second {
		errs = append(errs, fmt.Errorf(
			"CONSUMER_POLL_INTERVAL must be within (0, 1s], got %s", c.Consumer.PollInterval))
	}
	if c.Consumer.RetryBatch <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRY_BATCH must be positive, got %d", c.Consumer.RetryBatch))
	}
	if c.Deadline.BatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("DEADLINE_BATCH_LIMIT must be positive, got %d", c.Deadline.BatchLimit))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		BackofficePort: getEnv("BACKOFFICE_PORT", "8081"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),

		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "cardhaus_auction"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		LockTimeout:     getDuration("DB_LOCK_TIMEOUT", 3*time.Second),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
	}

	// ── NATS ──────────────────────────────────────────────────────────────────
	cfg.NATS = NATSConfig{
		URL:     getEnv("NATS_URL", "nats://localhost:4222"),
		Enabled: getBool("NATS_ENABLED", true),
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	cfg.Auth = AuthConfig{
		JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
	}

	// ── Bid policy ────────────────────────────────────────────────────────────
	cfg.Bid = BidConfig{
		IdemTTL:            getDuration("BID_IDEM_TTL", 30*time.Minute),
		ExtensionEnabled:   getBool("BID_EXTENSION_ENABLED", true),
		ExtensionThreshold: getDuration("BID_EXTENSION_THRESHOLD", 60*time.Second),
		ExtensionBy:        getDuration("BID_EXTENSION_BY", 60*time.Second),
	}

	// ── Consumer ──────────────────────────────────────────────────────────────
	retryBatch, err := getInt("CONSUMER_RETRY_BATCH", 50)
	if err != nil {
		return nil, fmt.Errorf("CONSUMER_RETRY_BATCH: %w", err)
	}
	scanCount, err := getInt("CONSUMER_SCAN_COUNT", 200)
	if err != nil {
		return nil, fmt.Errorf("CONSUMER_SCAN_COUNT: %w", err)
	}
	cfg.Consumer = ConsumerConfig{
		PollInterval: getDuration("CONSUMER_POLL_INTERVAL", 200*time.Millisecond),
		RetryBatch:   retryBatch,
		ScanCount:    scanCount,
	}

	// ── Deadline ──────────────────────────────────────────────────────────────
	batchLimit, err := getInt("DEADLINE_BATCH_LIMIT", 200)
	if err != nil {
		return nil, fmt.Errorf("DEADLINE_BATCH_LIMIT: %w", err)
	}
	cfg.Deadline = DeadlineConfig{
		WorkerInterval:    getDuration("DEADLINE_WORKER_INTERVAL", time.Second),
		BatchLimit:        batchLimit,
		ReconcileInterval: getDuration("DEADLINE_RECONCILE_INTERVAL", 5*time.Minute),
		BootstrapHorizon:  getDuration("DEADLINE_BOOTSTRAP_HORIZON", 14*24*time.Hour),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
