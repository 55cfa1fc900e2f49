package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the process configuration. Values come from an optional yaml
// file, with environment variables taking precedence for deployment overrides.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Store struct {
		Backend  string `yaml:"backend"` // memory | postgres
		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Broadcast struct {
		Backend string `yaml:"backend"` // local | nats
		NATSURL string `yaml:"nats_url"`
	} `yaml:"broadcast"`

	Retention struct {
		MaxAgeHours       int `yaml:"max_age_hours"`
		SweepIntervalMins int `yaml:"sweep_interval_mins"`
	} `yaml:"retention"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Store.Backend = "memory"
	cfg.Store.Postgres.Host = "localhost"
	cfg.Store.Postgres.Port = 5432
	cfg.Store.Postgres.User = "postgres"
	cfg.Store.Postgres.Password = "postgres"
	cfg.Store.Postgres.Database = "sprintpoker"
	cfg.Store.Postgres.SSLMode = "disable"
	cfg.Broadcast.Backend = "local"
	cfg.Broadcast.NATSURL = "nats://localhost:4222"
	cfg.Retention.MaxAgeHours = 24
	cfg.Retention.SweepIntervalMins = 30
	return cfg
}

// loadConfig reads the yaml file at path (when it exists) and applies env
// overrides on top of the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Postgres.Host = getEnv("DB_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Port = getEnvAsInt("DB_PORT", cfg.Store.Postgres.Port)
	cfg.Store.Postgres.User = getEnv("DB_USER", cfg.Store.Postgres.User)
	cfg.Store.Postgres.Password = getEnv("DB_PASSWORD", cfg.Store.Postgres.Password)
	cfg.Store.Postgres.Database = getEnv("DB_NAME", cfg.Store.Postgres.Database)
	cfg.Store.Postgres.SSLMode = getEnv("DB_SSLMODE", cfg.Store.Postgres.SSLMode)
	cfg.Broadcast.Backend = getEnv("BROADCAST_BACKEND", cfg.Broadcast.Backend)
	cfg.Broadcast.NATSURL = getEnv("NATS_URL", cfg.Broadcast.NATSURL)
	cfg.Retention.MaxAgeHours = getEnvAsInt("ROOM_MAX_AGE_HOURS", cfg.Retention.MaxAgeHours)
	cfg.Retention.SweepIntervalMins = getEnvAsInt("ROOM_SWEEP_INTERVAL_MINS", cfg.Retention.SweepIntervalMins)

	return cfg, nil
}

// PostgresDSN returns the Postgres connection URL.
func (c Config) PostgresDSN() string {
	p := c.Store.Postgres
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RetentionMaxAge returns the idle age after which rooms are swept.
func (c Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeHours) * time.Hour
}

// SweepInterval returns how often the retention sweep runs.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalMins) * time.Minute
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
