// Package config loads application configuration from environment variables,
// with a .env file honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Storage  StorageConfig  `json:"storage"`
	Redis    RedisConfig    `json:"redis"`
	Security SecurityConfig `json:"security"`
	Workflow WorkflowConfig `json:"workflow"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

// DatabaseConfig represents PostgreSQL configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"dbname"`
	SSLMode        string        `json:"sslmode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleTime    time.Duration `json:"max_idle_time"`
	MigrationsPath string        `json:"migrations_path"`
}

// StorageConfig selects and configures the artifact store backend
type StorageConfig struct {
	// Backend is one of: s3, fs, memory
	Backend     string `json:"backend"`
	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3KeyPrefix string `json:"s3_key_prefix"`
	FSRoot      string `json:"fs_root"`
}

// RedisConfig represents Redis configuration for rate limiting
type RedisConfig struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// SecurityConfig represents authentication and rate limit configuration
type SecurityConfig struct {
	JWTSecret         string        `json:"jwt_secret"`
	RateLimitEnabled  bool          `json:"rate_limit_enabled"`
	RateLimitAttempts int           `json:"rate_limit_attempts"`
	RateLimitWindow   time.Duration `json:"rate_limit_window"`
	CORSOrigin        string        `json:"cors_origin"`
}

// WorkflowConfig tunes the signing workflow engine
type WorkflowConfig struct {
	TokenTTL        time.Duration `json:"token_ttl"`
	SweepInterval   time.Duration `json:"sweep_interval"`
	ReminderWindow  time.Duration `json:"reminder_window"`
	ComposeWorkers  int           `json:"compose_workers"`
	ComposeAttempts int           `json:"compose_attempts"`
	ComposeBackoff  time.Duration `json:"compose_backoff"`
	ComposeTimeout  time.Duration `json:"compose_timeout"`
	MaxUploadBytes  int64         `json:"max_upload_bytes"`
	SourcePageLimit int           `json:"source_page_limit"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
}

// Load loads configuration from environment variables and defaults
func Load() (*Config, error) {
	// missing .env is fine; the environment may carry everything
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			DBName:         getEnv("DB_NAME", "signato"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 20),
			MaxIdleTime:    getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "./migrations"),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "fs"),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3KeyPrefix: getEnv("S3_KEY_PREFIX", "artifacts"),
			FSRoot:      getEnv("FS_STORAGE_ROOT", "./data/artifacts"),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", false),
		},
		Security: SecurityConfig{
			JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", false),
			RateLimitAttempts: getEnvInt("RATE_LIMIT_ATTEMPTS", 20),
			RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			CORSOrigin:        getEnv("CORS_ORIGIN", "*"),
		},
		Workflow: WorkflowConfig{
			TokenTTL:        getEnvDuration("TOKEN_TTL", 72*time.Hour),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Minute),
			ReminderWindow:  getEnvDuration("REMINDER_WINDOW", 24*time.Hour),
			ComposeWorkers:  getEnvInt("COMPOSE_WORKERS", 2),
			ComposeAttempts: getEnvInt("COMPOSE_MAX_ATTEMPTS", 5),
			ComposeBackoff:  getEnvDuration("COMPOSE_BASE_BACKOFF", time.Second),
			ComposeTimeout:  getEnvDuration("COMPOSE_JOB_TIMEOUT", 2*time.Minute),
			MaxUploadBytes:  getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),
			SourcePageLimit: getEnvInt("SOURCE_PAGE_LIMIT", 500),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 storage backend")
		}
	case "fs", "memory":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.IsProduction() && c.Security.JWTSecret == "dev-secret-change-in-production" {
		return fmt.Errorf("JWT secret must be set in production")
	}
	if c.Workflow.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	return nil
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// GetDatabaseURL returns the database connection string
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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
