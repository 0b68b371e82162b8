// Package config loads application configuration from environment
// variables, with optional .env file support for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Providers     ProvidersConfig
	Resilience    ResilienceConfig
	Auth          AuthConfig
	Database      *DatabaseConfig // Optional: audit trail DB. When nil, dispatch records are not persisted.
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ProvidersConfig holds the upstream provider configurations
type ProvidersConfig struct {
	Anthropic ProviderConfig
	Grok      ProviderConfig
}

// ProviderConfig holds one provider's connection settings
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	DefaultModel string
}

// ResilienceConfig holds the circuit breaker settings shared by both
// provider breakers
type ResilienceConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	TokenSecret string
}

// DatabaseConfig holds PostgreSQL configuration for the dispatch trail
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{
				APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:      getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
				Timeout:      getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
				DefaultModel: getEnv("ANTHROPIC_DEFAULT_MODEL", ""),
			},
			Grok: ProviderConfig{
				APIKey:       getEnv("GROK_API_KEY", ""),
				BaseURL:      getEnv("GROK_BASE_URL", "https://api.x.ai/v1"),
				Timeout:      getEnvAsDuration("GROK_TIMEOUT", 60*time.Second),
				DefaultModel: getEnv("GROK_DEFAULT_MODEL", ""),
			},
		},
		Resilience: ResilienceConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:     getEnvAsDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			TokenSecret: getEnv("API_TOKEN_SECRET", ""),
		},
		Database: loadDatabaseConfig(),
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Resilience.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}

	if c.IsProduction() {
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("anthropic API key is required in production")
		}
		if c.Providers.Grok.APIKey == "" {
			return fmt.Errorf("grok API key is required in production")
		}
		if c.Auth.TokenSecret == "" {
			return fmt.Errorf("API token secret is required in production")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe connection description for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil {
		return "host=<from DATABASE_URL>"
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
}

// loadDatabaseConfig loads the dispatch trail DB config from DATABASE_URL.
// Returns nil when not set.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
