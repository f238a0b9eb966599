/*
config.go - Application configuration

PURPOSE:
  One YAML file plus environment overrides. File values are optional,
  environment variables win, and everything unset falls back to a sane
  development default except the gateway secret key, which Validate
  refuses to run without.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Gateway struct {
		BaseURL        string        `yaml:"base_url"`
		SecretKey      string        `yaml:"secret_key"`
		TimeoutSeconds int           `yaml:"timeout_seconds"`
		Timeout        time.Duration `yaml:"-"`
	} `yaml:"gateway"`
	Savings struct {
		// Rates are percentages: 2 means 2%.
		DepositChargePercent      string `yaml:"deposit_charge_percent"`
		EarlyWithdrawalFeePercent string `yaml:"early_withdrawal_fee_percent"`
	} `yaml:"savings"`
	Reconcile struct {
		Cron          string `yaml:"cron"`
		MaxAgeMinutes int    `yaml:"max_age_minutes"`
	} `yaml:"reconcile"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		cfg.Gateway.SecretKey = v
	}
	if v := os.Getenv("DEPOSIT_CHARGE_PERCENT"); v != "" {
		cfg.Savings.DepositChargePercent = v
	}
	if v := os.Getenv("EARLY_WITHDRAWAL_FEE_PERCENT"); v != "" {
		cfg.Savings.EarlyWithdrawalFeePercent = v
	}
	if v := os.Getenv("RECONCILE_CRON"); v != "" {
		cfg.Reconcile.Cron = v
	}

	// Defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/savings.db"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.paystack.co"
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 30
	}
	cfg.Gateway.Timeout = time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second
	if cfg.Savings.DepositChargePercent == "" {
		cfg.Savings.DepositChargePercent = "2"
	}
	if cfg.Savings.EarlyWithdrawalFeePercent == "" {
		cfg.Savings.EarlyWithdrawalFeePercent = "5"
	}
	if cfg.Reconcile.Cron == "" {
		cfg.Reconcile.Cron = "*/10 * * * *"
	}
	if cfg.Reconcile.MaxAgeMinutes == 0 {
		cfg.Reconcile.MaxAgeMinutes = 15
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Gateway.SecretKey == "" {
		return fmt.Errorf("gateway.secret_key is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	return nil
}

// MaxAge returns the reconciliation age threshold as a duration.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Reconcile.MaxAgeMinutes) * time.Minute
}
