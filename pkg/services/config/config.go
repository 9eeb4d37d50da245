package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Database struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
}

type Scheduler struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type Recalculation struct {
	// MaxDays caps how far back a backfilled event fans out usage
	// recomputation.
	MaxDays int `mapstructure:"max_days"`
}

type Queue struct {
	// Backend is "memory" or "sqs".
	Backend     string        `mapstructure:"backend"`
	URL         string        `mapstructure:"url"`
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type Ingest struct {
	Enabled bool `mapstructure:"enabled"`
	// NotificationURL is the SQS queue receiving S3 object-created events
	// for new CloudTrail log files.
	NotificationURL string `mapstructure:"notification_url"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Config struct {
	Database      Database      `mapstructure:"database"`
	Scheduler     Scheduler     `mapstructure:"scheduler"`
	Recalculation Recalculation `mapstructure:"recalculation"`
	Queue         Queue         `mapstructure:"queue"`
	Ingest        Ingest        `mapstructure:"ingest"`
	Server        Server        `mapstructure:"server"`
}

// Load reads the yaml config at path, if given, over the defaults.
// Environment variables prefixed USAGE_METER_ (nested keys joined with
// underscores) override both.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.lock_timeout", 30*time.Second)
	v.SetDefault("scheduler.debounce", 30*time.Second)
	v.SetDefault("recalculation.max_days", 180)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.retry_delay", 10*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetEnvPrefix("USAGE_METER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	return &cfg, nil
}
