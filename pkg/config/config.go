package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	OCR           OCRConfig
	Storage       StorageConfig
	Sessions      SessionConfig
	Templates     TemplateConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxUploadBytes     int64
	CORSOrigins        []string
	ShutdownTimeout    time.Duration
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type OCRConfig struct {
	Engine                string
	Languages             []string
	DocumentAIProjectID   string
	DocumentAILocation    string
	DocumentAIProcessorID string
	CredentialsFile       string
	Timeout               time.Duration
}

type StorageConfig struct {
	LocalPath string
}

type SessionConfig struct {
	TTL           time.Duration
	PurgeSchedule string
}

type TemplateConfig struct {
	SeedFile string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string
}

// Load reads configuration from environment variables, after loading a .env file when present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
			MaxUploadBytes:     getEnvAsInt64("SERVER_MAX_UPLOAD_BYTES", 20<<20),
			CORSOrigins:        getEnvAsList("SERVER_CORS_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustProxy:         getEnvAsBool("SERVER_TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("POSTGRES_ENABLED", true),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "datasnap"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		OCR: OCRConfig{
			Engine:                getEnv("OCR_ENGINE", "tesseract"),
			Languages:             getEnvAsList("OCR_LANGUAGES", []string{"eng"}),
			DocumentAIProjectID:   getEnv("DOCUMENTAI_PROJECT_ID", ""),
			DocumentAILocation:    getEnv("DOCUMENTAI_LOCATION", "us"),
			DocumentAIProcessorID: getEnv("DOCUMENTAI_PROCESSOR_ID", ""),
			CredentialsFile:       getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			Timeout:               getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
		},
		Storage: StorageConfig{
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./uploads"),
		},
		Sessions: SessionConfig{
			TTL:           getEnvAsDuration("SESSION_TTL", 2*time.Hour),
			PurgeSchedule: getEnv("SESSION_PURGE_SCHEDULE", "*/15 * * * *"),
		},
		Templates: TemplateConfig{
			SeedFile: getEnv("TEMPLATES_SEED_FILE", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.OCR.Engine {
	case "tesseract":
	case "documentai":
		if c.OCR.DocumentAIProjectID == "" {
			return errors.New("DOCUMENTAI_PROJECT_ID is required for the documentai engine")
		}
		if c.OCR.DocumentAIProcessorID == "" {
			return errors.New("DOCUMENTAI_PROCESSOR_ID is required for the documentai engine")
		}
	default:
		return fmt.Errorf("unsupported OCR_ENGINE %q", c.OCR.Engine)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("SERVER_MAX_UPLOAD_BYTES must be positive")
	}
	if c.Sessions.TTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
