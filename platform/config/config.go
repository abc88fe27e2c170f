// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SchedulerConfig provides settings for the task queue and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetQueueName() string
	GetQueueConcurrency() int
	GetTaskMaxAttempts() int
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// EmailConfig provides settings for outbound email.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetSendRatePerMinute() int
}

// AIConfig provides settings for the content generation model.
type AIConfig interface {
	GetMoonshotAPIKey() string
	GetMoonshotModel() string
	IsAIEnabled() bool
}

// StorageConfig provides settings for MinIO document storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketDocuments() string
	IsMinIOEnabled() bool
}

// PipelineConfig provides the orchestration policy windows.
// The source system hard-coded these; they are env-tunable here with the
// original values as defaults.
type PipelineConfig interface {
	GetFollowUpDelay() time.Duration
	GetMaxAutomatedFollowUps() int
	GetStaleScanInterval() time.Duration
	GetStaleInactivityWindow() time.Duration
	GetNoShowScanInterval() time.Duration
	GetNoShowWindowMin() time.Duration
	GetNoShowWindowMax() time.Duration
	GetNoShowScorePenalty() int
}

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	RedisURL         string
	RedisTLSInsecure bool
	QueueName        string
	QueueConcurrency int
	TaskMaxAttempts  int

	JWTAccessSecret string

	CORSAllowAll bool
	CORSOrigins  []string

	EmailEnabled      bool
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	EmailFromName     string
	EmailFromAddress  string
	SendRatePerMinute int

	MoonshotAPIKey string
	MoonshotModel  string

	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOUseSSL          bool
	MinioBucketDocuments string

	FollowUpDelay         time.Duration
	MaxAutomatedFollowUps int
	StaleScanInterval     time.Duration
	StaleInactivityWindow time.Duration
	NoShowScanInterval    time.Duration
	NoShowWindowMin       time.Duration
	NoShowWindowMax       time.Duration
	NoShowScorePenalty    int
}

func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetQueueName() string      { return c.QueueName }
func (c *Config) GetQueueConcurrency() int  { return c.QueueConcurrency }
func (c *Config) GetTaskMaxAttempts() int   { return c.TaskMaxAttempts }

func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetSendRatePerMinute() int   { return c.SendRatePerMinute }

func (c *Config) GetMoonshotAPIKey() string { return c.MoonshotAPIKey }
func (c *Config) GetMoonshotModel() string  { return c.MoonshotModel }
func (c *Config) IsAIEnabled() bool         { return c.MoonshotAPIKey != "" }

func (c *Config) GetMinIOEndpoint() string        { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string       { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string       { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool            { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketDocuments() string { return c.MinioBucketDocuments }
func (c *Config) IsMinIOEnabled() bool            { return c.MinIOEndpoint != "" }

func (c *Config) GetFollowUpDelay() time.Duration         { return c.FollowUpDelay }
func (c *Config) GetMaxAutomatedFollowUps() int           { return c.MaxAutomatedFollowUps }
func (c *Config) GetStaleScanInterval() time.Duration     { return c.StaleScanInterval }
func (c *Config) GetStaleInactivityWindow() time.Duration { return c.StaleInactivityWindow }
func (c *Config) GetNoShowScanInterval() time.Duration    { return c.NoShowScanInterval }
func (c *Config) GetNoShowWindowMin() time.Duration       { return c.NoShowWindowMin }
func (c *Config) GetNoShowWindowMax() time.Duration       { return c.NoShowWindowMax }
func (c *Config) GetNoShowScorePenalty() int              { return c.NoShowScorePenalty }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		QueueName:        getEnv("QUEUE_NAME", "default"),
		QueueConcurrency: mustInt(getEnv("QUEUE_CONCURRENCY", "10")),
		TaskMaxAttempts:  mustInt(getEnv("TASK_MAX_ATTEMPTS", "5")),

		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),

		CORSAllowAll: strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true"),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),

		EmailEnabled:      strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true"),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "LeadFlow"),
		EmailFromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
		SendRatePerMinute: mustInt(getEnv("SEND_RATE_PER_MINUTE", "30")),

		MoonshotAPIKey: getEnv("MOONSHOT_API_KEY", ""),
		MoonshotModel:  getEnv("MOONSHOT_MODEL", "kimi-k2-turbo-preview"),

		MinIOEndpoint:        getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:       getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:       getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:          strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketDocuments: getEnv("MINIO_BUCKET_DOCUMENTS", "lead-documents"),

		FollowUpDelay:         mustDuration(getEnv("FOLLOW_UP_DELAY", "48h")),
		MaxAutomatedFollowUps: mustInt(getEnv("MAX_AUTOMATED_FOLLOW_UPS", "3")),
		StaleScanInterval:     mustDuration(getEnv("STALE_SCAN_INTERVAL", "24h")),
		StaleInactivityWindow: mustDuration(getEnv("STALE_INACTIVITY_WINDOW", "48h")),
		NoShowScanInterval:    mustDuration(getEnv("NO_SHOW_SCAN_INTERVAL", "15m")),
		NoShowWindowMin:       mustDuration(getEnv("NO_SHOW_WINDOW_MIN", "15m")),
		NoShowWindowMax:       mustDuration(getEnv("NO_SHOW_WINDOW_MAX", "120m")),
		NoShowScorePenalty:    mustInt(getEnv("NO_SHOW_SCORE_PENALTY", "10")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.SMTPHost != "" && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.NoShowWindowMin >= cfg.NoShowWindowMax {
		return nil, fmt.Errorf("NO_SHOW_WINDOW_MIN must be smaller than NO_SHOW_WINDOW_MAX")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
