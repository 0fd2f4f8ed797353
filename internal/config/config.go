// Package config loads the payroll ledger configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Owner    string               `yaml:"owner"`
	Auth     AuthConfig           `yaml:"auth"`
	Bridge   BridgeConfig         `yaml:"bridge"`
	Redis    RedisConfig          `yaml:"redis"`
	Payrun   PayrunConfig         `yaml:"payrun"`
	Assets   []AssetConfig        `yaml:"assets"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig selects the persistence backend. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// AuthConfig carries the token verification secret.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// BridgeConfig points at the settlement bridge. An empty endpoint keeps the
// in-process bank.
type BridgeConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// RedisConfig enables event publication when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PayrunConfig arms the scheduled execution runner when Schedule is set.
type PayrunConfig struct {
	Schedule   string `yaml:"schedule"`
	Actor      string `yaml:"actor"`
	BatchLimit int    `yaml:"batch_limit"`
}

// AssetConfig seeds the asset registry.
type AssetConfig struct {
	ID       string `yaml:"id"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads config/payroll.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "payroll.yaml"))
}

// LoadFromPath reads the configuration from a specific path and applies
// environment overrides on top.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Payrun: PayrunConfig{
			Actor:      "payrun",
			BatchLimit: 256,
		},
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PAYROLL_LISTEN_ADDR")); v != "" {
		c.Server.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_DATABASE_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_OWNER")); v != "" {
		c.Owner = v
	}
	if v := os.Getenv("PAYROLL_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_BRIDGE_URL")); v != "" {
		c.Bridge.Endpoint = v
	}
	if v := os.Getenv("PAYROLL_BRIDGE_KEY"); v != "" {
		c.Bridge.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_REDIS_ADDR")); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("PAYROLL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_PAYRUN_SCHEDULE")); v != "" {
		c.Payrun.Schedule = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYROLL_RATE_LIMIT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			c.Server.RateLimit = parsed
		}
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("owner principal is required (set owner in config or PAYROLL_OWNER)")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}
	for i, a := range c.Assets {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("asset %d: id is required", i)
		}
	}
	return nil
}
