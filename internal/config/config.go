package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend types
const (
	BackendPrometheus      = "prometheus"
	BackendCloudMonitoring = "cloudmonitoring"
	BackendSynthetic       = "synthetic"
)

// State store types
const (
	StateMemory = "memory"
	StateRedis  = "redis"
)

// Config holds server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Policy  PolicyConfig  `yaml:"policy"`
	Backend BackendConfig `yaml:"backend"`
	State   StateConfig   `yaml:"state"`
	History HistoryConfig `yaml:"history"`
	Notify  NotifyConfig  `yaml:"notify"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PolicyConfig points at the SLO documents, a directory or a single file
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig selects and configures the metrics backend
type BackendConfig struct {
	Type           string        `yaml:"type"`
	PrometheusURL  string        `yaml:"prometheusURL"`
	Project        string        `yaml:"project"`
	FixturePath    string        `yaml:"fixturePath"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`
	MaxConcurrency int64         `yaml:"maxConcurrency"`
	RetryCount     int           `yaml:"retryCount"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
}

// StateConfig selects where alert state is kept
type StateConfig struct {
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis alert state store
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HistoryConfig configures the SQLite history store; an empty path disables it
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig configures alert delivery
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhookURL"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
	QueueSize      int           `yaml:"queueSize"`
	RetryCount     int           `yaml:"retryCount"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
}

// ReportConfig controls scheduled report generation
type ReportConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Periods   []string      `yaml:"periods"`
	TrendStep time.Duration `yaml:"trendStep"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and environment overrides
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AEGIS_CONFIG")
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			GracefulTimeout: 30 * time.Second,
		},
		Policy: PolicyConfig{Path: "slos"},
		Backend: BackendConfig{
			Type:           BackendSynthetic,
			QueryTimeout:   10 * time.Second,
			MaxConcurrency: 10,
			RetryCount:     1,
			RetryDelay:     100 * time.Millisecond,
		},
		State: StateConfig{
			Type:  StateMemory,
			Redis: RedisConfig{Prefix: "aegis", Timeout: 2 * time.Second},
		},
		Notify: NotifyConfig{
			WebhookTimeout: 10 * time.Second,
			QueueSize:      256,
			RetryCount:     3,
			RetryDelay:     time.Second,
		},
		Report: ReportConfig{
			Dir:       "reports",
			Periods:   []string{"weekly", "monthly"},
			TrendStep: 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Policy.Path == "" {
		return fmt.Errorf("policy path is required")
	}

	switch c.Backend.Type {
	case BackendPrometheus:
		if c.Backend.PrometheusURL == "" {
			return fmt.Errorf("Prometheus URL required when backend type is 'prometheus'")
		}
	case BackendCloudMonitoring:
		if c.Backend.Project == "" {
			return fmt.Errorf("project required when backend type is 'cloudmonitoring'")
		}
	case BackendSynthetic:
	default:
		return fmt.Errorf("backend type must be 'prometheus', 'cloudmonitoring' or 'synthetic', got %q", c.Backend.Type)
	}

	if c.Backend.QueryTimeout <= 0 {
		return fmt.Errorf("backend query timeout must be positive")
	}

	switch c.State.Type {
	case StateMemory:
	case StateRedis:
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("redis address required when state type is 'redis'")
		}
	default:
		return fmt.Errorf("state type must be 'memory' or 'redis', got %q", c.State.Type)
	}

	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify queue size must be positive")
	}

	if c.Report.Enabled {
		if c.Report.Dir == "" {
			return fmt.Errorf("report dir is required when reports are enabled")
		}
		for _, p := range c.Report.Periods {
			if p != "weekly" && p != "monthly" {
				return fmt.Errorf("report period must be 'weekly' or 'monthly', got %q", p)
			}
		}
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AEGIS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AEGIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AEGIS_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("AEGIS_BACKEND"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("AEGIS_PROMETHEUS_URL"); v != "" {
		cfg.Backend.PrometheusURL = v
	}
	if v := os.Getenv("AEGIS_GCP_PROJECT"); v != "" {
		cfg.Backend.Project = v
	}
	if v := os.Getenv("AEGIS_FIXTURE_PATH"); v != "" {
		cfg.Backend.FixturePath = v
	}
	if v := os.Getenv("AEGIS_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.QueryTimeout = d
		}
	}
	if v := os.Getenv("AEGIS_STATE"); v != "" {
		cfg.State.Type = v
	}
	if v := os.Getenv("AEGIS_REDIS_ADDR"); v != "" {
		cfg.State.Redis.Addr = v
	}
	if v := os.Getenv("AEGIS_REDIS_PASSWORD"); v != "" {
		cfg.State.Redis.Password = v
	}
	if v := os.Getenv("AEGIS_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.State.Redis.DB = db
		}
	}
	if v := os.Getenv("AEGIS_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("AEGIS_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("AEGIS_REPORTS_ENABLED"); v != "" {
		cfg.Report.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AEGIS_REPORT_DIR"); v != "" {
		cfg.Report.Dir = v
	}
	if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AEGIS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
