// Package config loads process configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the proxy needs at startup.
type Config struct {
	Addr     string
	LogLevel string

	// PublicURL is the externally visible base URL of this proxy, substituted
	// into pagination links that point at the upstream registry.
	PublicURL string

	// PolicyDir holds the Amsterdam Schema access profile documents.
	PolicyDir string

	// Token validation.
	TokenIssuer   string
	TokenAudience string
	// JWKSFile is a local snapshot of the identity provider's key set. The
	// fetching/refreshing of published keys is a deployment concern; the
	// proxy only consumes the current set.
	JWKSFile string

	Upstream UpstreamConfig
	Redis    RedisConfig
	Audit    AuditConfig
}

// UpstreamConfig configures the Haal Centraal client.
type UpstreamConfig struct {
	// BaseURL of the Haal Centraal BRP service, e.g.
	// https://api.brp.example.nl/haalcentraal/api/brp/personen
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RedisConfig configures the optional Redis connection used by the token
// revocation list. Leave URL empty to run with the in-memory list.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuditConfig selects the audit sink. Exactly one of PostgresDSN or
// KafkaBrokers is used; both empty means the in-memory store (dev only).
type AuditConfig struct {
	BufferSize   int
	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Config from environment variables with dev defaults.
func FromEnv() Config {
	return Config{
		Addr:          envDefault("PROXY_ADDR", ":8080"),
		LogLevel:      envDefault("PROXY_LOG_LEVEL", "info"),
		PublicURL:     envDefault("PROXY_PUBLIC_URL", "http://localhost:8080/api"),
		PolicyDir:     envDefault("PROXY_POLICY_DIR", "./policies"),
		TokenIssuer:   os.Getenv("PROXY_TOKEN_ISSUER"),
		TokenAudience: os.Getenv("PROXY_TOKEN_AUDIENCE"),
		JWKSFile:      os.Getenv("PROXY_JWKS_FILE"),
		Upstream: UpstreamConfig{
			BaseURL: os.Getenv("HAAL_CENTRAAL_BRP_URL"),
			APIKey:  os.Getenv("HAAL_CENTRAAL_API_KEY"),
			Timeout: envDuration("HAAL_CENTRAAL_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PROXY_REDIS_URL"),
			PoolSize:     envInt("PROXY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PROXY_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("PROXY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("PROXY_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("PROXY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Audit: AuditConfig{
			BufferSize:   envInt("PROXY_AUDIT_BUFFER", 1024),
			PostgresDSN:  os.Getenv("PROXY_AUDIT_POSTGRES_DSN"),
			KafkaBrokers: splitNonEmpty(os.Getenv("PROXY_AUDIT_KAFKA_BROKERS")),
			KafkaTopic:   envDefault("PROXY_AUDIT_KAFKA_TOPIC", "haal-centraal-proxy.audit"),
		},
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if part := v[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
