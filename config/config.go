package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Alarmflow AlarmflowConfig `yaml:"alarmflow"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AlarmflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// Secret signs bearer tokens. The ALARMFLOW_JWT_SECRET environment
	// variable always wins over the file value.
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// LoginRatePerMinute bounds login attempts per client IP.
	LoginRatePerMinute int `yaml:"login_rate_per_minute"`
	LoginBurst         int `yaml:"login_burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const envJWTSecret = "ALARMFLOW_JWT_SECRET"

// LoadConfig reads a YAML configuration file from the specified path and
// applies defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse YAML: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required (set auth.secret or %s)", envJWTSecret)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Alarmflow.Name == "" {
		c.Alarmflow.Name = "alarmflow"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/alarms.db"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Auth.LoginRatePerMinute <= 0 {
		c.Auth.LoginRatePerMinute = 30
	}
	if c.Auth.LoginBurst <= 0 {
		c.Auth.LoginBurst = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

func (c *Config) applyEnvOverrides() {
	if secret := os.Getenv(envJWTSecret); secret != "" {
		c.Auth.Secret = secret
	}
}
