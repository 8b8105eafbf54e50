package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Monitor  MonitorConfig  `json:"monitor"`
	Store    DatabaseConfig `json:"store"`
	Sources  SourcesConfig  `json:"sources"`
	Redis    RedisConfig    `json:"redis"`
	API      APIConfig      `json:"api"`
	Logging  LoggingConfig  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing"`
}

// MonitorConfig contains check scheduling configuration
type MonitorConfig struct {
	CheckInterval   time.Duration `json:"check_interval"`
	QueryTimeout    time.Duration `json:"query_timeout"`
	MaxConcurrent   int           `json:"max_concurrent"`
	BaselineWindow  int           `json:"baseline_window"`
	AnomalyZScore   float64       `json:"anomaly_z_score"`
	FreshnessMaxLag time.Duration `json:"freshness_max_lag"`
	Tables          []TableSpec   `json:"tables"`
}

// TableSpec identifies one monitored table: which source it lives in and
// which column orders its rows
type TableSpec struct {
	Source          string `json:"source"`
	Table           string `json:"table"`
	TimestampColumn string `json:"timestamp_column"`
}

// parseTableSpecs parses MONITOR_TABLES entries of the form
// "source:table:timestamp_column", comma separated. Malformed entries are
// skipped.
func parseTableSpecs(raw string) []TableSpec {
	if raw == "" {
		return nil
	}

	var specs []TableSpec
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			continue
		}
		specs = append(specs, TableSpec{
			Source:          parts[0],
			Table:           parts[1],
			TimestampColumn: parts[2],
		})
	}
	return specs
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// SourcesConfig names the monitored databases. Each source is configured
// through SOURCE_<NAME>_* environment variables and resolved by the caller.
type SourcesConfig struct {
	Postgres DatabaseConfig `json:"postgres"`
	MySQL    DatabaseConfig `json:"mysql"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// APIConfig contains the status API server configuration
type APIConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name"`
	Endpoint    string `json:"endpoint"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Monitor: MonitorConfig{
			CheckInterval:   getEnvDuration("MONITOR_CHECK_INTERVAL", 60*time.Second),
			QueryTimeout:    getEnvDuration("MONITOR_QUERY_TIMEOUT", 30*time.Second),
			MaxConcurrent:   getEnvInt("MONITOR_MAX_CONCURRENT", 4),
			BaselineWindow:  getEnvInt("MONITOR_BASELINE_WINDOW", 24),
			AnomalyZScore:   getEnvFloat("MONITOR_ANOMALY_Z_SCORE", 3.0),
			FreshnessMaxLag: getEnvDuration("MONITOR_FRESHNESS_MAX_LAG", 2*time.Hour),
			Tables:          parseTableSpecs(getEnvString("MONITOR_TABLES", "")),
		},
		Store: DatabaseConfig{
			Driver:          "postgres",
			Host:            getEnvString("STORE_DB_HOST", "localhost"),
			Port:            getEnvInt("STORE_DB_PORT", 5432),
			Name:            getEnvString("STORE_DB_NAME", "pipewatch"),
			User:            getEnvString("STORE_DB_USER", "pipewatch"),
			Password:        getEnvString("STORE_DB_PASSWORD", ""),
			SSLMode:         getEnvString("STORE_DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("STORE_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("STORE_DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("STORE_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Sources: SourcesConfig{
			Postgres: DatabaseConfig{
				Driver:          "postgres",
				Host:            getEnvString("SOURCE_PG_HOST", "localhost"),
				Port:            getEnvInt("SOURCE_PG_PORT", 5432),
				Name:            getEnvString("SOURCE_PG_NAME", ""),
				User:            getEnvString("SOURCE_PG_USER", ""),
				Password:        getEnvString("SOURCE_PG_PASSWORD", ""),
				SSLMode:         getEnvString("SOURCE_PG_SSL_MODE", "require"),
				MaxOpenConns:    getEnvInt("SOURCE_PG_MAX_OPEN_CONNS", 5),
				MaxIdleConns:    getEnvInt("SOURCE_PG_MAX_IDLE_CONNS", 1),
				ConnMaxLifetime: getEnvDuration("SOURCE_PG_CONN_MAX_LIFETIME", 5*time.Minute),
			},
			MySQL: DatabaseConfig{
				Driver:          "mysql",
				Host:            getEnvString("SOURCE_MYSQL_HOST", "localhost"),
				Port:            getEnvInt("SOURCE_MYSQL_PORT", 3306),
				Name:            getEnvString("SOURCE_MYSQL_NAME", ""),
				User:            getEnvString("SOURCE_MYSQL_USER", ""),
				Password:        getEnvString("SOURCE_MYSQL_PASSWORD", ""),
				MaxOpenConns:    getEnvInt("SOURCE_MYSQL_MAX_OPEN_CONNS", 5),
				MaxIdleConns:    getEnvInt("SOURCE_MYSQL_MAX_IDLE_CONNS", 1),
				ConnMaxLifetime: getEnvDuration("SOURCE_MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
			},
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		API: APIConfig{
			Host:         getEnvString("API_HOST", "0.0.0.0"),
			Port:         getEnvInt("API_PORT", 8080),
			ReadTimeout:  getEnvDuration("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("API_WRITE_TIMEOUT", 15*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnvString("TRACING_SERVICE_NAME", "pipewatch"),
			Endpoint:    getEnvString("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive")
	}

	if c.Monitor.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	if c.Monitor.AnomalyZScore <= 0 {
		return fmt.Errorf("anomaly z-score must be positive")
	}

	if c.Store.Password == "" {
		return fmt.Errorf("store database password is required")
	}

	return nil
}

// Addr returns the host:port address for the database
func (d *DatabaseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Addr returns the host:port address for Redis
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
