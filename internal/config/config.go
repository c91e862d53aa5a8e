package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig
	Transcode TranscodeConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type TranscodeConfig struct {
	MaxPixels      int64
	MaxUploadBytes int64
	// MaxConcurrent bounds in-flight transcodes; zero means GOMAXPROCS.
	MaxConcurrent int
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DatabaseConfig selects the usage ledger. An empty DSN keeps usage logs in memory.
type DatabaseConfig struct {
	DSN string
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var defaults = map[string]any{
	"RESIZEFLOW_API_ADDR":         ":8080",
	"RESIZEFLOW_SHUTDOWN_TIMEOUT": "15s",
	"RESIZEFLOW_MAX_PIXELS":       int64(100_000_000),
	"RESIZEFLOW_MAX_UPLOAD_BYTES": int64(64 << 20),
	"RESIZEFLOW_MAX_CONCURRENT":   0,
	"RATE_LIMIT_ENABLED":          true,
	"RATE_LIMIT_CAPACITY":         120,
	"RATE_LIMIT_WINDOW":           "1m",
	"REDIS_ADDR":                  "localhost:6379",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"MINIO_ENABLED":               false,
	"MINIO_ENDPOINT":              "localhost:9000",
	"MINIO_ACCESS_KEY":            "minioadmin",
	"MINIO_SECRET_KEY":            "minioadmin",
	"MINIO_BUCKET":                "resizeflow",
	"MINIO_USE_SSL":               false,
	"POSTGRES_DSN":                "",
	"OTEL_SERVICE_NAME":           "resizeflow-api",
	"OTEL_TRACES_EXPORTER":        "none",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": true,
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"LOG_FILE":                    "",
	"LOG_MAX_SIZE_MB":             100,
	"LOG_MAX_BACKUPS":             5,
	"LOG_MAX_AGE_DAYS":            30,
}

// Load reads configuration from the environment. When RESIZEFLOW_CONFIG points
// at a file its keys are read first and environment variables still win.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("RESIZEFLOW_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		API: APIConfig{
			Addr:            v.GetString("RESIZEFLOW_API_ADDR"),
			ShutdownTimeout: v.GetDuration("RESIZEFLOW_SHUTDOWN_TIMEOUT"),
		},
		Transcode: TranscodeConfig{
			MaxPixels:      v.GetInt64("RESIZEFLOW_MAX_PIXELS"),
			MaxUploadBytes: v.GetInt64("RESIZEFLOW_MAX_UPLOAD_BYTES"),
			MaxConcurrent:  v.GetInt("RESIZEFLOW_MAX_CONCURRENT"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			Capacity: v.GetInt("RATE_LIMIT_CAPACITY"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("MINIO_ENABLED"),
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		Tracing: TracingConfig{
			ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
			Exporter:     v.GetString("OTEL_TRACES_EXPORTER"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Format:     v.GetString("LOG_FORMAT"),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.API.Addr) == "" {
		errs = append(errs, errors.New("RESIZEFLOW_API_ADDR must not be empty"))
	}
	if c.Transcode.MaxPixels <= 0 {
		errs = append(errs, errors.New("RESIZEFLOW_MAX_PIXELS must be positive"))
	}
	if c.Transcode.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("RESIZEFLOW_MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Transcode.MaxConcurrent < 0 {
		errs = append(errs, errors.New("RESIZEFLOW_MAX_CONCURRENT must not be negative"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Capacity <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_CAPACITY must be positive"))
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
		}
	}
	if c.Storage.Enabled && strings.TrimSpace(c.Storage.Bucket) == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required when object storage is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
