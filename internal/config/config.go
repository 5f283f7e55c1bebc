// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSecretKey is the development session secret. It is refused in
// production.
const DefaultSecretKey = "dev-secret-key"

// Config holds all application configuration.
type Config struct {
	Env string

	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Logging  LoggingConfig

	SeedDemo bool
}

// DatabaseConfig holds database connection settings. An empty URL runs the
// application without a store.
type DatabaseConfig struct {
	URL            string
	Driver         string
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	ConnectTimeout time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// SecurityConfig holds session and abuse-protection settings.
type SecurityConfig struct {
	SecretKey         string
	SessionMaxAge     time.Duration
	AuthRatePerMinute int
	SecureCookies     bool
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load reads .env files when present, then the environment, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config/local.env")

	cfg := &Config{Env: strings.ToLower(os.Getenv("ENV"))}

	if err := cfg.loadDatabase(); err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	if err := cfg.loadServer(); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if err := cfg.loadSecurity(); err != nil {
		return nil, fmt.Errorf("load security config: %w", err)
	}
	cfg.loadLogging()

	seed, err := parseBool("SEED_DEMO", false)
	if err != nil {
		return nil, err
	}
	cfg.SeedDemo = seed

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadDatabase() error {
	c.Database.Driver = getEnvOrDefault("DATABASE_DRIVER", "pgx")

	timeout, err := time.ParseDuration(getEnvOrDefault("DB_CONNECT_TIMEOUT", "30s"))
	if err != nil {
		return fmt.Errorf("invalid DB_CONNECT_TIMEOUT: %w", err)
	}
	c.Database.ConnectTimeout = timeout

	c.Database.URL = os.Getenv("DATABASE_URL")
	if c.Database.URL != "" {
		return nil
	}

	c.Database.Host = os.Getenv("DB_HOST")
	c.Database.User = os.Getenv("DB_USER")
	c.Database.Password = os.Getenv("DB_PASSWORD")
	c.Database.Name = os.Getenv("DB_NAME")
	c.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return fmt.Errorf("invalid DB_PORT: %w", err)
	}
	c.Database.Port = port

	if c.Database.Host != "" && c.Database.User != "" && c.Database.Name != "" {
		c.Database.URL = fmt.Sprintf(
			"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			c.Database.User,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.Name,
			c.Database.SSLMode,
		)
	}
	return nil
}

func (c *Config) loadServer() error {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	c.Server.Port = port
	c.Server.Host = getEnvOrDefault("HOST", "0.0.0.0")
	return nil
}

func (c *Config) loadSecurity() error {
	c.Security.SecretKey = getEnvOrDefault("SECRET_KEY", DefaultSecretKey)

	maxAge, err := time.ParseDuration(getEnvOrDefault("SESSION_MAX_AGE", "168h"))
	if err != nil {
		return fmt.Errorf("invalid SESSION_MAX_AGE: %w", err)
	}
	c.Security.SessionMaxAge = maxAge

	rate, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT_AUTH_PER_MINUTE", "10"))
	if err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_AUTH_PER_MINUTE: %w", err)
	}
	c.Security.AuthRatePerMinute = rate

	secure, err := parseBool("SECURE_COOKIES", c.IsProduction())
	if err != nil {
		return err
	}
	c.Security.SecureCookies = secure
	return nil
}

func (c *Config) loadLogging() {
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", "info")
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", "json")
}

// Validate checks that the configuration is usable and reports every problem
// at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		problems = append(problems, "DATABASE_DRIVER must be one of: pgx, postgres")
	}
	if c.Database.ConnectTimeout < 0 {
		problems = append(problems, "DB_CONNECT_TIMEOUT must not be negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "PORT must be between 1 and 65535")
	}

	if c.Security.SecretKey == "" {
		problems = append(problems, "SECRET_KEY is required")
	}
	if c.IsProduction() && c.Security.SecretKey == DefaultSecretKey {
		problems = append(problems, "SECRET_KEY must be set in production")
	}
	if c.Security.SessionMaxAge <= 0 {
		problems = append(problems, "SESSION_MAX_AGE must be positive")
	}
	if c.Security.AuthRatePerMinute < 1 {
		problems = append(problems, "RATE_LIMIT_AUTH_PER_MINUTE must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		problems = append(problems, "LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		problems = append(problems, "LOG_FORMAT must be one of: json, text")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
