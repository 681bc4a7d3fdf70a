package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the process bootstrap settings. Everything has a default;
// a config file and CHATALK_* environment variables override it.
type Config struct {
	Port          int    `yaml:"port"`
	HealthPort    int    `yaml:"health_port"`
	DBPath        string `yaml:"db_path"`
	ControlSocket string `yaml:"control_socket"`

	// Seconds. Zero falls back to the protocol defaults.
	IdleTimeout   int `yaml:"idle_timeout"`
	LockoutWindow int `yaml:"lockout_window"`
	WriteTimeout  int `yaml:"write_timeout"`
}

func defaults() *Config {
	return &Config{
		Port:          5000,
		HealthPort:    5001,
		DBPath:        "chatalk.db",
		ControlSocket: "/tmp/chatalk.sock",
		IdleTimeout:   900,
		LockoutWindow: 120,
		WriteTimeout:  30,
	}
}

// Load reads an optional YAML config file and applies environment
// overrides on top. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATALK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("CHATALK_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HealthPort = port
		}
	}
	if v := os.Getenv("CHATALK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHATALK_CONTROL_SOCKET"); v != "" {
		cfg.ControlSocket = v
	}
	if v := os.Getenv("CHATALK_IDLE_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeout = secs
		}
	}
	if v := os.Getenv("CHATALK_LOCKOUT_WINDOW"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.LockoutWindow = secs
		}
	}
	if v := os.Getenv("CHATALK_WRITE_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.WriteTimeout = secs
		}
	}
}
