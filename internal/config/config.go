package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/tsf-backend/internal/models"
)

// Config holds application configuration
type Config struct {
	Port     string
	DBConn   string
	LogLevel string

	Schema string
	Table  string

	JobsDir         string
	JobBackend      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JobTimeout      time.Duration
	Heartbeat       time.Duration
	JobRetention    time.Duration
	CleanupSchedule string

	StagingDBConn string
	StagingTable  string

	JWTSecret string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	StartRate       float64
	SeriesCacheSize int
	SeriesCacheTTL  time.Duration
	AllowedOrigins  []string
	AppVersion      string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBConn:          getEnv("DATABASE_URL", ""),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		Schema:          getEnv("TSF_SCHEMA", "air_quality_demo_data"),
		Table:           getEnv("TSF_TABLE", "air_quality_raw"),
		JobsDir:         getEnv("TSF_JOBS_DIR", "/tmp/tsf_jobs"),
		JobBackend:      getEnv("TSF_JOB_BACKEND", "local"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		CleanupSchedule: getEnv("TSF_CLEANUP_SCHEDULE", "@hourly"),
		StagingDBConn:   getEnv("STAGING_DATABASE_URL", ""),
		StagingTable:    getEnv("STAGING_TABLE", "classical_forecasts"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SenderEmail:     getEnv("SENDER_EMAIL", ""),
		AppVersion:      getEnv("APP_VERSION", "dev"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SeriesCacheSize, err = getEnvInt("SERIES_CACHE_SIZE", 128); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = getEnvDuration("TSF_JOB_TIMEOUT", 3*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Heartbeat, err = getEnvDuration("TSF_HEARTBEAT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobRetention, err = getEnvDuration("TSF_JOB_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SeriesCacheTTL, err = getEnvDuration("SERIES_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	rate := getEnv("START_RATE", "2")
	if cfg.StartRate, err = strconv.ParseFloat(rate, 64); err != nil {
		return nil, fmt.Errorf("START_RATE must be a number, got %q", rate)
	}
	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", "*"))

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required: %w", models.ErrConfiguration)
	}
	if cfg.JobBackend != "local" && cfg.JobBackend != "redis" {
		return nil, fmt.Errorf("TSF_JOB_BACKEND must be local or redis, got %q", cfg.JobBackend)
	}
	if cfg.JobsDir == "" {
		return nil, fmt.Errorf("TSF_JOBS_DIR is required")
	}

	return cfg, nil
}

// SMTPEnabled reports whether completion notifications can be sent
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SenderEmail != ""
}

// getEnv returns the whitespace-trimmed value of key
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
