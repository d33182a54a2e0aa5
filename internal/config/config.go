// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// HTTP edge
	CORSOrigins    []string
	RateLimitRPM   int
	RateLimitBurst int

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Encryption at rest
	EncryptionKey    string
	DecryptCacheSize int

	// Risk engine
	RiskRulesPath string // empty uses the embedded default rules

	// Identity
	UserIDHeader   string
	UserHashSecret string
	AdvocateSecret string // empty disables the advocate alert stream

	// CRM streaming side channel
	DataCloudEndpoint  string
	DataCloudToken     string
	DataCloudStreaming bool
	StreamWorkers      int
	StreamQueueSize    int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultEncryptionKey    = "dev-change-me-32-bytes-min"
	DefaultUserIDHeader     = "X-User-ID"
	DefaultUserHashSecret   = "dev-secret-change-me"
	DefaultStreamWorkers    = 2
	DefaultStreamQueueSize  = 256
	DefaultDecryptCacheSize = 1024
	DefaultRateLimitRPM     = 120
	DefaultRateLimitBurst   = 20

	minEncryptionKeyLen = 16
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:        splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		EncryptionKey:      getEnv("APP_ENC_KEY", DefaultEncryptionKey),
		DecryptCacheSize:   int(getEnvInt64("DECRYPT_CACHE_SIZE", DefaultDecryptCacheSize)),
		RiskRulesPath:      os.Getenv("RISK_RULES_PATH"),
		UserIDHeader:       getEnv("USER_ID_HEADER", DefaultUserIDHeader),
		UserHashSecret:     getEnv("USER_HASH_SECRET", DefaultUserHashSecret),
		AdvocateSecret:     os.Getenv("ADVOCATE_SECRET"),
		DataCloudEndpoint:  strings.TrimRight(os.Getenv("DATACLOUD_ENDPOINT"), "/"),
		DataCloudToken:     os.Getenv("DATACLOUD_TOKEN"),
		DataCloudStreaming: getEnvBool("DATACLOUD_STREAMING_ENABLED", false),
		StreamWorkers:      int(getEnvInt64("STREAM_WORKERS", DefaultStreamWorkers)),
		StreamQueueSize:    int(getEnvInt64("STREAM_QUEUE_SIZE", DefaultStreamQueueSize)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if len(c.EncryptionKey) < minEncryptionKeyLen {
		return fmt.Errorf("APP_ENC_KEY must be at least %d characters", minEncryptionKeyLen)
	}
	if c.IsProduction() {
		if c.EncryptionKey == DefaultEncryptionKey {
			return fmt.Errorf("APP_ENC_KEY must be set in production")
		}
		if c.UserHashSecret == DefaultUserHashSecret {
			return fmt.Errorf("USER_HASH_SECRET must be set in production")
		}
	}
	if c.UserIDHeader == "" {
		return fmt.Errorf("USER_ID_HEADER must not be empty")
	}
	if c.DataCloudStreaming && c.DataCloudEndpoint == "" {
		return fmt.Errorf("DATACLOUD_ENDPOINT is required when streaming is enabled")
	}
	if c.StreamWorkers <= 0 {
		return fmt.Errorf("STREAM_WORKERS must be positive")
	}
	if c.StreamQueueSize <= 0 {
		return fmt.Errorf("STREAM_QUEUE_SIZE must be positive")
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}
	if c.DecryptCacheSize < 0 {
		return fmt.Errorf("DECRYPT_CACHE_SIZE must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
