// Package config loads the process-wide settings once at startup. The
// resulting Config is passed explicitly to every component constructor.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultRedisURL = "redis://localhost:6379/0"

type Config struct {
	// RedisURL is the fallback for both BrokerURL and ResultBackend.
	RedisURL      string `mapstructure:"redis_url"`
	BrokerURL     string `mapstructure:"broker_url"`
	ResultBackend string `mapstructure:"result_backend"`

	// Queue is the broker queue producers publish to and workers consume.
	Queue string `mapstructure:"queue"`

	ResultExpires time.Duration `mapstructure:"result_expires"`
	PingTimeout   time.Duration `mapstructure:"ping_timeout"`

	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	// TaskTimeLimit bounds a single handler run; zero disables the limit.
	TaskTimeLimit time.Duration `mapstructure:"task_time_limit"`
	OCRDelay      time.Duration `mapstructure:"ocr_delay"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

type SchedulerConfig struct {
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with the production defaults.
func Default() *Config {
	return &Config{
		RedisURL:      DefaultRedisURL,
		Queue:         "default",
		ResultExpires: 24 * time.Hour,
		PingTimeout:   time.Second,
		Worker: WorkerConfig{
			Concurrency:       1,
			PollInterval:      time.Second,
			HeartbeatInterval: 3 * time.Second,
			HeartbeatTTL:      15 * time.Second,
			OCRDelay:          2 * time.Second,
			MetricsAddr:       ":2113",
		},
		Scheduler: SchedulerConfig{
			RecoveryInterval: 10 * time.Second,
			HeartbeatTimeout: 15 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8000"},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty, else STOPRO_CONFIG or
// ./stopro.yaml when present) with environment overrides. Environment
// variables use the prefix STOPRO with `.` replaced by `_`, e.g.
// STOPRO_WORKER_CONCURRENCY=4. REDIS_URL, CELERY_BROKER_URL and
// CELERY_RESULT_BACKEND are honoured as well.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STOPRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis_url", cfg.RedisURL)
	v.SetDefault("broker_url", "")
	v.SetDefault("result_backend", "")
	v.SetDefault("queue", cfg.Queue)
	v.SetDefault("result_expires", cfg.ResultExpires)
	v.SetDefault("ping_timeout", cfg.PingTimeout)
	v.SetDefault("worker.concurrency", cfg.Worker.Concurrency)
	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)
	v.SetDefault("worker.heartbeat_interval", cfg.Worker.HeartbeatInterval)
	v.SetDefault("worker.heartbeat_ttl", cfg.Worker.HeartbeatTTL)
	v.SetDefault("worker.task_time_limit", cfg.Worker.TaskTimeLimit)
	v.SetDefault("worker.ocr_delay", cfg.Worker.OCRDelay)
	v.SetDefault("worker.metrics_addr", cfg.Worker.MetricsAddr)
	v.SetDefault("scheduler.recovery_interval", cfg.Scheduler.RecoveryInterval)
	v.SetDefault("scheduler.heartbeat_timeout", cfg.Scheduler.HeartbeatTimeout)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	// Names used by the original deployment.
	if err := v.BindEnv("redis_url", "STOPRO_REDIS_URL", "REDIS_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("broker_url", "STOPRO_BROKER_URL", "CELERY_BROKER_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("result_backend", "STOPRO_RESULT_BACKEND", "CELERY_RESULT_BACKEND"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path == "" {
		path = os.Getenv("STOPRO_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stopro")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		c.RedisURL = DefaultRedisURL
	}
	if strings.TrimSpace(c.BrokerURL) == "" {
		c.BrokerURL = c.RedisURL
	}
	if strings.TrimSpace(c.ResultBackend) == "" {
		c.ResultBackend = c.RedisURL
	}
	if strings.TrimSpace(c.Queue) == "" {
		return errors.New("queue must not be empty")
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("invalid ping_timeout: %v", c.PingTimeout)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("invalid worker.concurrency: %d", c.Worker.Concurrency)
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 3 * time.Second
	}
	if c.Worker.HeartbeatTTL <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker.heartbeat_ttl (%v) must exceed worker.heartbeat_interval (%v)",
			c.Worker.HeartbeatTTL, c.Worker.HeartbeatInterval)
	}
	if c.Scheduler.RecoveryInterval <= 0 {
		return fmt.Errorf("invalid scheduler.recovery_interval: %v", c.Scheduler.RecoveryInterval)
	}
	// Live workers refresh their heartbeat every heartbeat_interval.
	if c.Scheduler.HeartbeatTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("scheduler.heartbeat_timeout (%v) must exceed worker.heartbeat_interval (%v)",
			c.Scheduler.HeartbeatTimeout, c.Worker.HeartbeatInterval)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	return nil
}
