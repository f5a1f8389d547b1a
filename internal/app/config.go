package app

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Sessions struct {
		RedisURL   string `toml:"redis_url"`
		TTLHours   int    `toml:"ttl_hours"`
		CookieName string `toml:"cookie_name"`
	} `toml:"sessions"`

	Login struct {
		MaxAttempts    int `toml:"max_attempts"`
		LockoutMinutes int `toml:"lockout_minutes"`
		SweepMinutes   int `toml:"sweep_minutes"`
	} `toml:"login"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("server port is not specified in config, use a value like :8080")
	}
	if config.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is not specified in config")
	}
	if config.Sessions.RedisURL == "" {
		return nil, fmt.Errorf("sessions redis_url is not specified in config")
	}

	// Sessions outlive a working day; anything shorter is a config mistake.
	if config.Sessions.TTLHours < 24 {
		config.Sessions.TTLHours = 24
	}
	if config.Sessions.CookieName == "" {
		config.Sessions.CookieName = "qlsv_session"
	}
	if config.Login.SweepMinutes <= 0 {
		config.Login.SweepMinutes = 30
	}

	return &config, nil
}
