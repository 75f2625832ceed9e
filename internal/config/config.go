// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Redis
	RedisURL        string `mapstructure:"redis_url"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	StreamName      string `mapstructure:"redis_stream"`
	ConsumerGroup   string `mapstructure:"redis_consumer_group"`
	SnapshotChannel string `mapstructure:"snapshot_channel"`

	// RethinkDB
	RethinkDBURL    string `mapstructure:"rethinkdb_url"`
	DBName          string `mapstructure:"db_name"`
	RunTableName    string `mapstructure:"run_table_name"`
	ReportTableName string `mapstructure:"report_table_name"`

	// Server
	ServerPort string `mapstructure:"server_port"`
	HealthPort string `mapstructure:"health_port"`

	// Worker
	WorkerCount int           `mapstructure:"worker_count"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`

	// Simulation
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	TransitionDuration time.Duration `mapstructure:"transition_duration"`
	SnapshotTimeout    time.Duration `mapstructure:"snapshot_timeout"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_stream", "simulation-runs")
	v.SetDefault("redis_consumer_group", "simulation-workers")
	v.SetDefault("snapshot_channel", "simulation-snapshots")
	v.SetDefault("rethinkdb_url", "localhost:28015")
	v.SetDefault("db_name", "pipe_routing")
	v.SetDefault("run_table_name", "simulation_runs")
	v.SetDefault("report_table_name", "simulation_reports")
	v.SetDefault("server_port", ":8081")
	v.SetDefault("health_port", ":8082")
	v.SetDefault("worker_count", 1)
	v.SetDefault("run_timeout", 2*time.Minute)
	v.SetDefault("max_retries", 3)
	v.SetDefault("tick_interval", 80*time.Millisecond)
	v.SetDefault("transition_duration", 300*time.Millisecond)
	v.SetDefault("snapshot_timeout", 40*time.Millisecond)
	v.SetDefault("log_level", "info")
}

func Load() (*Config, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (*Config, error) {
	setDefaults(v)

	if readFile {
		// optional config.yaml
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/piperoute/")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv skips the config file and reads only defaults and env vars.
func LoadFromEnv() (*Config, error) {
	return load(viper.New(), false)
}

// LoadFile reads an explicit config file on top of defaults and env vars.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.TransitionDuration < 0 {
		return fmt.Errorf("transition_duration must not be negative, got %v", c.TransitionDuration)
	}
	if c.SnapshotTimeout <= 0 || c.SnapshotTimeout > c.TickInterval {
		return fmt.Errorf("snapshot_timeout must be positive and at most tick_interval, got %v", c.SnapshotTimeout)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", c.WorkerCount)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}
