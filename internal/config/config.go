// Package config loads server settings from defaults, an optional
// config.yaml and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Janitor JanitorConfig `mapstructure:"janitor"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port" validate:"required,numeric"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type QueueConfig struct {
	// Backend selects the id queue: "memory" or "redis".
	Backend      string        `mapstructure:"backend" validate:"required,oneof=memory redis"`
	Capacity     int           `mapstructure:"capacity" validate:"gte=0"`
	Key          string        `mapstructure:"key" validate:"required"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

type WorkerConfig struct {
	Count int `mapstructure:"count" validate:"gt=0"`
}

type JanitorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule" validate:"required"`
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`
}

// Load reads configuration from ./config.yaml, if present, and the
// environment. Keys map to variables by upper-casing and replacing dots
// with underscores: server.port is SERVER_PORT, worker.count is
// WORKER_COUNT.
func Load() (*Config, error) {
	return load(".")
}

func load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("queue.key", "taskpool:pending")
	v.SetDefault("queue.poll_interval", time.Second)

	v.SetDefault("worker.count", 3)

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 1m")
	v.SetDefault("janitor.retention", time.Hour)
}
