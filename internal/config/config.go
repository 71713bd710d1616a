package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values come from a yaml file and may
// be overridden by environment variables, matching the deployment setup.
type Config struct {
	DatabaseURL     string `yaml:"database_url"`
	UpstreamBaseURL string `yaml:"upstream_base_url"`
	RatesBaseURL    string `yaml:"rates_base_url"`
	APIPort         int    `yaml:"api_port"`
	JWTSecret       string `yaml:"jwt_secret"`
	LogLevel        string `yaml:"log_level"`

	// Per-token upstream rate budget: RateBudgetCalls successful calls per
	// RateBudgetWindow seconds.
	RateBudgetCalls  int `yaml:"rate_budget_calls"`
	RateBudgetWindow int `yaml:"rate_budget_window_seconds"`

	// Fetch ceiling per run.
	MaxRecords int `yaml:"max_records"`

	RunTimeoutMinutes  int `yaml:"run_timeout_minutes"`
	StaleAfterMinutes  int `yaml:"stale_after_minutes"`
	SchedulerTickSecs  int `yaml:"scheduler_tick_seconds"`
	SweeperTickSecs    int `yaml:"sweeper_tick_seconds"`
	WriterOutputDir    string `yaml:"writer_output_dir"`
	ConfigsPath        string `yaml:"configs_path"`
}

// Load reads the yaml file at path (if it exists), applies env overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if cfg.UpstreamBaseURL == "" {
		return nil, fmt.Errorf("upstream_base_url is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.UpstreamBaseURL = v
	}
	if v := os.Getenv("RATES_BASE_URL"); v != "" {
		cfg.RatesBaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RATE_BUDGET_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateBudgetCalls = n
		}
	}
	if v := os.Getenv("RATE_BUDGET_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateBudgetWindow = n
		}
	}
	if v := os.Getenv("MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRecords = n
		}
	}
	if v := os.Getenv("WRITER_OUTPUT_DIR"); v != "" {
		cfg.WriterOutputDir = v
	}
	if v := os.Getenv("CONFIGS_PATH"); v != "" {
		cfg.ConfigsPath = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateBudgetCalls == 0 {
		cfg.RateBudgetCalls = 100
	}
	if cfg.RateBudgetWindow == 0 {
		cfg.RateBudgetWindow = 60
	}
	if cfg.MaxRecords == 0 {
		cfg.MaxRecords = 10000
	}
	if cfg.RunTimeoutMinutes == 0 {
		cfg.RunTimeoutMinutes = 30
	}
	if cfg.StaleAfterMinutes == 0 {
		cfg.StaleAfterMinutes = 15
	}
	if cfg.SchedulerTickSecs == 0 {
		cfg.SchedulerTickSecs = 60
	}
	if cfg.SweeperTickSecs == 0 {
		cfg.SweeperTickSecs = 300
	}
	if cfg.WriterOutputDir == "" {
		cfg.WriterOutputDir = "exports"
	}
}

// RunTimeout returns the per-run wall-clock ceiling.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// StaleAfter returns the threshold after which a live run is reported stale.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}
