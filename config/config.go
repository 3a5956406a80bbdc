package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Stream       StreamConfig       `yaml:"stream"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Models       ModelsConfig       `yaml:"models"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Storage      StorageConfig      `yaml:"storage"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Port       int              `yaml:"port"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type StreamConfig struct {
	Symbol             string        `yaml:"symbol"`
	URL                string        `yaml:"url"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	BackoffFloor       time.Duration `yaml:"backoff_floor"`
	BackoffCap         time.Duration `yaml:"backoff_cap"`
	BreakerWait        time.Duration `yaml:"breaker_wait"`
	DowntimeGrace      time.Duration `yaml:"downtime_grace"`
	SignalPollInterval time.Duration `yaml:"signal_poll_interval"`
}

type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ModelsConfig struct {
	Endpoints       []ModelEndpoint `yaml:"endpoints"`
	MaxRetries      int             `yaml:"max_retries"`
	RetryBackoff    float64         `yaml:"retry_backoff"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
	HealthThreshold int             `yaml:"health_threshold"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

type ModelEndpoint struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type OrchestratorConfig struct {
	RoundInterval time.Duration `yaml:"round_interval"`
	RoundTimeout  time.Duration `yaml:"round_timeout"`
	HistoryCap    int           `yaml:"history_cap"`
}

type StorageConfig struct {
	DataRoot   string       `yaml:"data_root"`
	ArchiveCap int          `yaml:"archive_cap"`
	Backup     BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Stream: StreamConfig{
			PingInterval:       20 * time.Second,
			PingTimeout:        10 * time.Second,
			BackoffFloor:       time.Second,
			BackoffCap:         32 * time.Second,
			BreakerWait:        5 * time.Second,
			DowntimeGrace:      30 * time.Second,
			SignalPollInterval: 5 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     60 * time.Second,
		},
		Models: ModelsConfig{
			MaxRetries:      3,
			RetryBackoff:    1.5,
			RequestTimeout:  30 * time.Second,
			HealthThreshold: 5,
		},
		Orchestrator: OrchestratorConfig{
			RoundInterval: 30 * time.Second,
			RoundTimeout:  120 * time.Second,
			HistoryCap:    1000,
		},
		Storage: StorageConfig{
			ArchiveCap: 12000,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Websocket URL is derived from the symbol unless set explicitly.
	if config.Stream.URL == "" && config.Stream.Symbol != "" {
		config.Stream.URL = fmt.Sprintf("wss://stream.binance.com:9443/ws/%s@trade",
			strings.ToLower(config.Stream.Symbol))
	}

	// Override backup credentials from environment variables if available.
	if config.Storage.Backup.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.Backup.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.Backup.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.Backup.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.Version == "" {
		return fmt.Errorf("service.version is required")
	}

	if cfg.Stream.Symbol == "" && cfg.Stream.URL == "" {
		return fmt.Errorf("stream.symbol or stream.url is required")
	}
	if cfg.Stream.BackoffFloor <= 0 || cfg.Stream.BackoffCap < cfg.Stream.BackoffFloor {
		return fmt.Errorf("stream backoff bounds must satisfy 0 < floor <= cap")
	}
	if cfg.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be greater than 0")
	}
	if cfg.Stream.SignalPollInterval <= 0 {
		return fmt.Errorf("stream.signal_poll_interval must be greater than 0")
	}

	if cfg.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("breaker.max_failures must be greater than 0")
	}
	if cfg.Breaker.Timeout <= 0 {
		return fmt.Errorf("breaker.timeout must be greater than 0")
	}

	if len(cfg.Models.Endpoints) == 0 {
		return fmt.Errorf("models.endpoints must list at least one endpoint")
	}
	for i, ep := range cfg.Models.Endpoints {
		if ep.Name == "" || ep.URL == "" {
			return fmt.Errorf("models.endpoints[%d] requires name and url", i)
		}
	}
	if cfg.Models.MaxRetries < 0 {
		return fmt.Errorf("models.max_retries must not be negative")
	}
	if cfg.Models.RetryBackoff <= 0 {
		return fmt.Errorf("models.retry_backoff must be greater than 0")
	}
	if cfg.Models.RequestTimeout <= 0 {
		return fmt.Errorf("models.request_timeout must be greater than 0")
	}

	if cfg.Orchestrator.RoundInterval <= 0 {
		return fmt.Errorf("orchestrator.round_interval must be greater than 0")
	}
	if cfg.Orchestrator.RoundTimeout <= 0 {
		return fmt.Errorf("orchestrator.round_timeout must be greater than 0")
	}
	if cfg.Orchestrator.HistoryCap <= 0 {
		return fmt.Errorf("orchestrator.history_cap must be greater than 0")
	}

	if cfg.Storage.DataRoot == "" {
		return fmt.Errorf("storage.data_root is required")
	}
	if cfg.Storage.ArchiveCap <= 0 {
		return fmt.Errorf("storage.archive_cap must be greater than 0")
	}
	if cfg.Storage.Backup.Enabled {
		if cfg.Storage.Backup.Bucket == "" {
			return fmt.Errorf("storage.backup.bucket is required when backup is enabled")
		}
		if cfg.Storage.Backup.Region == "" {
			return fmt.Errorf("storage.backup.region is required when backup is enabled")
		}
	}

	return nil
}
