package config

import (
	"context"
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
	Backends      BackendsConfig
	Routing       RoutingConfig
	Database      DatabaseConfig
	Management    ManagementConfig
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
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// BackendsConfig holds the configuration of every generation backend.
// An empty credential or endpoint leaves that backend unavailable; it never
// fails startup.
type BackendsConfig struct {
	Claude  ClaudeConfig
	LocalAI LocalServiceConfig
	Ollama  LocalServiceConfig
}

// ClaudeConfig holds the hosted Anthropic API configuration
type ClaudeConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	APIVersion string
	Timeout    time.Duration
}

// LocalServiceConfig holds the configuration of a self-hosted inference service
type LocalServiceConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// RoutingConfig holds the orchestrator settings
type RoutingConfig struct {
	// Priority is the static fallback order used by automatic routing
	Priority []string

	// ProbeTimeout bounds every availability probe
	ProbeTimeout time.Duration

	// LatencyTimeout bounds every latency measurement
	LatencyTimeout time.Duration

	// DefaultMaxTokens and DefaultTemperature apply when a request omits them
	DefaultMaxTokens   int
	DefaultTemperature float64
}

// DatabaseConfig holds the optional PostgreSQL request log configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ManagementConfig guards the management endpoints (backend reload)
type ManagementConfig struct {
	// JWTSecret is the HS256 key for management tokens. Empty disables the check.
	JWTSecret string
	Issuer    string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// DefaultPriority is the fallback order used when ROUTING_PRIORITY is unset
var DefaultPriority = []string{"claude", "localai", "ollama"}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists; real environment variables win
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Backends: BackendsConfig{
			Claude: ClaudeConfig{
				APIKey:     getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:    getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:      getEnv("CLAUDE_MODEL", "claude-3-sonnet-20240229"),
				APIVersion: getEnv("ANTHROPIC_VERSION", "2023-06-01"),
				Timeout:    getEnvAsDuration("BACKEND_TIMEOUT", 60*time.Second),
			},
			LocalAI: LocalServiceConfig{
				BaseURL: getEnv("LOCALAI_URL", "http://localai-service:8080"),
				Model:   getEnv("LOCALAI_MODEL", "mistral-7b-instruct"),
				Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 60*time.Second),
			},
			Ollama: LocalServiceConfig{
				BaseURL: getEnv("OLLAMA_URL", "http://ollama-service:11434"),
				Model:   getEnv("OLLAMA_MODEL", "llama2"),
				Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 60*time.Second),
			},
		},
		Routing: RoutingConfig{
			Priority:           getEnvAsList("ROUTING_PRIORITY", DefaultPriority),
			ProbeTimeout:       getEnvAsDuration("PROBE_TIMEOUT", 5*time.Second),
			LatencyTimeout:     getEnvAsDuration("LATENCY_TIMEOUT", 30*time.Second),
			DefaultMaxTokens:   getEnvAsInt("DEFAULT_MAX_TOKENS", 1000),
			DefaultTemperature: getEnvAsFloat("DEFAULT_TEMPERATURE", 0.7),
		},
		Database: loadDatabaseConfig(),
		Management: ManagementConfig{
			JWTSecret: getEnv("MANAGEMENT_JWT_SECRET", ""),
			Issuer:    getEnv("MANAGEMENT_JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the process cannot run with.
// Missing backend credentials are not errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	if len(c.Routing.Priority) == 0 {
		return fmt.Errorf("routing priority must name at least one backend")
	}
	seen := make(map[string]bool, len(c.Routing.Priority))
	for _, name := range c.Routing.Priority {
		if seen[name] {
			return fmt.Errorf("routing priority lists %q twice", name)
		}
		seen[name] = true
	}

	if c.Routing.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if c.Routing.LatencyTimeout <= 0 {
		return fmt.Errorf("latency timeout must be positive")
	}
	if c.Routing.DefaultMaxTokens <= 0 {
		return fmt.Errorf("default max tokens must be positive")
	}
	if c.Routing.DefaultTemperature < 0 || c.Routing.DefaultTemperature > 2 {
		return fmt.Errorf("default temperature must be within [0, 2]")
	}

	// Reload is a management action; production must not expose it unauthenticated
	if c.IsProduction() && c.Management.JWTSecret == "" {
		return fmt.Errorf("management JWT secret is required in production")
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		return fmt.Errorf("log level is required")
	default:
		return fmt.Errorf("unknown log level %q", c.Observability.LogLevel)
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

// Enabled reports whether a request log database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// DB_HOST has no default: without it the request log is disabled.
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "router"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "router"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, trimming blanks and lowercasing
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		out := make([]string, len(defaultValue))
		copy(out, defaultValue)
		return out
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
