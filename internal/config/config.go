package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pricearbiter/internal/logging"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type Resolver struct {
	DivergenceThreshold float64 `yaml:"divergence_threshold"`
	PrimarySource       string  `yaml:"primary_source"`
	LookupTimeoutSec    int     `yaml:"lookup_timeout_sec"`
}

// SourceConfig is the per-adapter knob set: where the service lives and how
// hard its client may lean on it.
type SourceConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Endpoint          string  `yaml:"endpoint"`
	APIKey            string  `yaml:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CacheTTLSec       int     `yaml:"cache_ttl_sec"`
	CacheMaxEntries   int     `yaml:"cache_max_entries"`
	MaxRetries        int     `yaml:"max_retries"`
}

type Sources struct {
	Ninja SourceConfig `yaml:"ninja"`
	Watch SourceConfig `yaml:"watch"`
	Trade SourceConfig `yaml:"trade"`
}

type Ledger struct {
	Enabled          bool   `yaml:"enabled"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	QueueSize        int    `yaml:"queue_size"`
	BatchSize        int    `yaml:"batch_size"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

type Config struct {
	Server   Server         `yaml:"server"`
	Resolver Resolver       `yaml:"resolver"`
	Sources  Sources        `yaml:"sources"`
	Ledger   Ledger         `yaml:"ledger"`
	Logging  logging.Config `yaml:"logging"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		Resolver: Resolver{
			DivergenceThreshold: 0.20,
			PrimarySource:       "ninja",
			LookupTimeoutSec:    10,
		},
		Sources: Sources{
			Ninja: SourceConfig{
				Enabled:           true,
				Endpoint:          "https://poe.ninja",
				RequestsPerSecond: 2,
				CacheTTLSec:       300,
				CacheMaxEntries:   64,
				MaxRetries:        3,
			},
			Watch: SourceConfig{
				Enabled:           true,
				Endpoint:          "https://api.poe.watch",
				RequestsPerSecond: 2,
				CacheTTLSec:       120,
				CacheMaxEntries:   2000,
				MaxRetries:        3,
			},
			Trade: SourceConfig{
				Enabled:           false,
				Endpoint:          "https://www.pathofexile.com",
				RequestsPerSecond: 0.5,
				CacheTTLSec:       60,
				CacheMaxEntries:   500,
				MaxRetries:        2,
			},
		},
		Ledger: Ledger{
			Enabled:          false,
			QueueSize:        256,
			BatchSize:        16,
			FlushIntervalSec: 2,
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads YAML config from path. If path is empty it falls back to
// config.yaml when present, else defaults. Environment variables override
// select fields so secrets stay out of the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEDGER_DSN"); v != "" {
		cfg.Ledger.PostgresDSN = v
		cfg.Ledger.Enabled = true
	}
	if v := os.Getenv("PRIMARY_SOURCE"); v != "" {
		cfg.Resolver.PrimarySource = v
	}
	if v, ok := envFloat("DIVERGENCE_THRESHOLD"); ok {
		cfg.Resolver.DivergenceThreshold = v
	}
	if v := os.Getenv("NINJA_ENDPOINT"); v != "" {
		cfg.Sources.Ninja.Endpoint = v
	}
	if v := os.Getenv("WATCH_ENDPOINT"); v != "" {
		cfg.Sources.Watch.Endpoint = v
	}
	if v := os.Getenv("TRADE_ENDPOINT"); v != "" {
		cfg.Sources.Trade.Endpoint = v
	}
	if v := os.Getenv("TRADE_API_KEY"); v != "" {
		cfg.Sources.Trade.APIKey = v
	}
	if v, ok := envBool("TRADE_ENABLED"); ok {
		cfg.Sources.Trade.Enabled = v
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}
