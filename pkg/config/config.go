package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the full process configuration, populated from the
// environment with Load. Command-line flags may override individual
// fields after loading.
type Config struct {
	// HTTP listen address
	Host string
	Port int

	// Stream (gRPC) listen address
	GRPCHost string
	GRPCPort int

	// TLS on the stream listener
	GRPCTLSEnabled  bool
	GRPCTLSCertFile string
	GRPCTLSKeyFile  string

	// Shared stores
	DatabaseURL string
	RedisURL    string

	// HTTP session token signing key, at least 32 bytes
	JWTSecret string

	// Transport tuning
	GRPCMaxConnectionAge time.Duration
	GRPCKeepaliveTime    time.Duration
	GRPCKeepaliveTimeout time.Duration

	// Stale-cluster threshold
	HeartbeatTimeout time.Duration

	// Per-cluster queue depth bound; 0 disables the bound
	QueueDepthLimit int

	// Session idle force-detach threshold
	SessionIdleTimeout time.Duration

	LogLevel string
	LogJSON  bool
}

// Defaults mirrors the documented recommended values.
var Defaults = Config{
	Host:                 "0.0.0.0",
	Port:                 8080,
	GRPCHost:             "0.0.0.0",
	GRPCPort:             50051,
	GRPCMaxConnectionAge: 30 * time.Minute,
	GRPCKeepaliveTime:    30 * time.Second,
	GRPCKeepaliveTimeout: 10 * time.Second,
	HeartbeatTimeout:     120 * time.Second,
	QueueDepthLimit:      10000,
	SessionIdleTimeout:   5 * time.Minute,
	LogLevel:             "info",
	LogJSON:              false,
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := Defaults

	cfg.Host = getString("HOST", cfg.Host)
	cfg.GRPCHost = getString("GRPC_HOST", cfg.GRPCHost)
	cfg.DatabaseURL = getString("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getString("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = getString("JWT_SECRET", cfg.JWTSecret)
	cfg.GRPCTLSCertFile = getString("GRPC_TLS_CERT_FILE", cfg.GRPCTLSCertFile)
	cfg.GRPCTLSKeyFile = getString("GRPC_TLS_KEY_FILE", cfg.GRPCTLSKeyFile)
	cfg.LogLevel = getString("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.Port, err = getInt("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.GRPCPort, err = getInt("GRPC_PORT", cfg.GRPCPort); err != nil {
		return nil, err
	}
	if cfg.QueueDepthLimit, err = getInt("QUEUE_DEPTH_LIMIT", cfg.QueueDepthLimit); err != nil {
		return nil, err
	}
	if cfg.GRPCTLSEnabled, err = getBool("GRPC_TLS_ENABLED", cfg.GRPCTLSEnabled); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = getBool("LOG_JSON", cfg.LogJSON); err != nil {
		return nil, err
	}
	if cfg.GRPCMaxConnectionAge, err = getDuration("GRPC_MAX_CONNECTION_AGE", cfg.GRPCMaxConnectionAge); err != nil {
		return nil, err
	}
	if cfg.GRPCKeepaliveTime, err = getDuration("GRPC_KEEPALIVE_TIME", cfg.GRPCKeepaliveTime); err != nil {
		return nil, err
	}
	if cfg.GRPCKeepaliveTimeout, err = getDuration("GRPC_KEEPALIVE_TIMEOUT", cfg.GRPCKeepaliveTimeout); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = getMillis("HEARTBEAT_TIMEOUT_MS", cfg.HeartbeatTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = getDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the invariants a serving process depends on.
func (c *Config) Validate() error {
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	if c.GRPCTLSEnabled && (c.GRPCTLSCertFile == "" || c.GRPCTLSKeyFile == "") {
		return fmt.Errorf("GRPC_TLS_ENABLED requires GRPC_TLS_CERT_FILE and GRPC_TLS_KEY_FILE")
	}
	return nil
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GRPCAddr returns the stream listen address.
func (c *Config) GRPCAddr() string {
	return net.JoinHostPort(c.GRPCHost, strconv.Itoa(c.GRPCPort))
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func getMillis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
