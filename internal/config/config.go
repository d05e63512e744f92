package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Realtime  RealtimeConfig `mapstructure:"realtime"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
	JWTSecret string         `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

type RealtimeConfig struct {
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
}

type WebhookConfig struct {
	SweepSeconds   int `mapstructure:"sweep_seconds"`
	SweepBatchSize int `mapstructure:"sweep_batch_size"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeartbeatInterval returns the live-connection heartbeat cadence.
func (r RealtimeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatSeconds) * time.Second
}

// SweepInterval returns how often the webhook retry sweep runs.
func (w WebhookConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepSeconds) * time.Second
}

// Timeout returns the outbound webhook HTTP timeout.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("jwt_secret", "changeme-secret")
	viper.SetDefault("realtime.heartbeat_seconds", 30)
	viper.SetDefault("webhook.sweep_seconds", 30)
	viper.SetDefault("webhook.sweep_batch_size", 100)
	viper.SetDefault("webhook.timeout_seconds", 30)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// defaults plus env vars are enough to run without a config file
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
