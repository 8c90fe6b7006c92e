package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration values.
type Config struct {
	Port             string        `yaml:"port"`
	StorageDriver    string        `yaml:"storage_driver"` // postgres or sqlite
	Postgres_DSN     string        `yaml:"postgres_dsn"`
	SQLite_Path      string        `yaml:"sqlite_path"`
	RabbitMQ_URL     string        `yaml:"rabbitmq_url"` // Empty disables event publishing
	EventsExchange   string        `yaml:"events_exchange"`
	MinIO_Endpoint   string        `yaml:"minio_endpoint"` // Empty keeps reports in memory
	MinIO_AccessKey  string        `yaml:"minio_access_key"`
	MinIO_SecretKey  string        `yaml:"minio_secret_key"`
	MinIO_UseSSL     bool          `yaml:"minio_use_ssl"`
	MinIO_BucketName string        `yaml:"minio_bucket_name"`
	LogLevel         string        `yaml:"log_level"` // e.g., "debug", "info", "warn", "error"
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	CertFile         string        `yaml:"cert_file"`
	KeyFile          string        `yaml:"key_file"`
	APIToken         string        `yaml:"api_token"` // Empty disables token auth
	StrictScope      bool          `yaml:"strict_scope"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

func defaults() *Config {
	return &Config{
		Port:             "8080",
		StorageDriver:    DriverSQLite,
		SQLite_Path:      "testmanager.db",
		EventsExchange:   "test_sessions_events",
		MinIO_BucketName: "test-reports",
		LogLevel:         "info",
		RequestTimeout:   15 * time.Second,
		AllowedOrigins:   []string{"*"},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if any, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Helper to get env var with default
	getenv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	// Helper to get bool env var
	getenvBool := func(key string, fallback bool) bool {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.ParseBool(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	// Helper to get duration env var
	getenvDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := time.ParseDuration(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	getenvList := func(key string, fallback []string) []string {
		valueStr, exists := os.LookupEnv(key)
		if !exists {
			return fallback
		}
		var out []string
		for _, part := range strings.Split(valueStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	cfg.Port = getenv("PORT", cfg.Port)
	cfg.StorageDriver = strings.ToLower(getenv("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.Postgres_DSN = getenv("POSTGRES_DSN", cfg.Postgres_DSN)
	cfg.SQLite_Path = getenv("SQLITE_PATH", cfg.SQLite_Path)
	cfg.RabbitMQ_URL = getenv("RABBITMQ_URL", cfg.RabbitMQ_URL)
	cfg.EventsExchange = getenv("EVENTS_EXCHANGE", cfg.EventsExchange)
	cfg.MinIO_Endpoint = getenv("MINIO_ENDPOINT", cfg.MinIO_Endpoint)
	cfg.MinIO_AccessKey = getenv("MINIO_ACCESS_KEY", cfg.MinIO_AccessKey)
	cfg.MinIO_SecretKey = getenv("MINIO_SECRET_KEY", cfg.MinIO_SecretKey)
	cfg.MinIO_UseSSL = getenvBool("MINIO_USE_SSL", cfg.MinIO_UseSSL)
	cfg.MinIO_BucketName = getenv("MINIO_BUCKET_NAME", cfg.MinIO_BucketName)
	cfg.LogLevel = strings.ToLower(getenv("LOG_LEVEL", cfg.LogLevel))
	cfg.RequestTimeout = getenvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.CertFile = getenv("CERT_FILE", cfg.CertFile)
	cfg.KeyFile = getenv("KEY_FILE", cfg.KeyFile)
	cfg.APIToken = getenv("API_TOKEN", cfg.APIToken)
	cfg.StrictScope = getenvBool("STRICT_SCOPE", cfg.StrictScope)
	cfg.AllowedOrigins = getenvList("ALLOWED_ORIGINS", cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected storage driver has what it needs.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.Postgres_DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORAGE_DRIVER is %s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLite_Path == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_DRIVER is %s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE must be set together")
	}
	return nil
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
