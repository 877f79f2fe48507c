// Package config loads service settings: a YAML file for the stable wiring
// and an optional HJSON overrides file that operators edit by hand.
package config

import (
	"fmt"
	"os"
	"time"

	hjson "github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Store    StoreConfig    `yaml:"store"`
	Quotes   QuoteConfig    `yaml:"quotes"`
	Fallback FallbackConfig `yaml:"fallback"`
	FX       FXConfig       `yaml:"fx"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type CacheConfig struct {
	Dir         string `yaml:"dir"`
	MaxAgeHours int    `yaml:"max_age_hours"`
}

func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// StoreConfig selects snapshot persistence: the environment variable naming
// the database DSN, and the directory for the file fallback.
type StoreConfig struct {
	DSNEnv string `yaml:"dsn_env"`
	Dir    string `yaml:"dir"`
}

type QuoteConfig struct {
	Paper bool `yaml:"paper"`
}

type FallbackConfig struct {
	MinYears       int  `yaml:"min_years"`
	AssumeZeroDebt bool `yaml:"assume_zero_debt"`
}

type FXConfig struct {
	Pair string `yaml:"pair"`
}

type SweepConfig struct {
	ChunkSize  int `yaml:"chunk_size"`
	MaxRetries int `yaml:"max_retries"`
	BackoffMs  int `yaml:"backoff_ms"`
}

func (c SweepConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// Default returns the built-in configuration, also used to fill fields a
// config file leaves unset.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Cache:    CacheConfig{Dir: ".cache/fact_reconciler", MaxAgeHours: 24},
		Store:    StoreConfig{DSNEnv: "DATABASE_URL", Dir: ".cache/fact_reconciler/snapshots"},
		Quotes:   QuoteConfig{Paper: true},
		Fallback: FallbackConfig{MinYears: 4},
		FX:       FXConfig{Pair: "USD/KRW"},
		Sweep:    SweepConfig{ChunkSize: 30, MaxRetries: 3, BackoffMs: 500},
	}
}

// Load reads a YAML config file. A missing file yields the defaults so the
// binaries run without any setup.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Printf("[CONFIG] %s not found, using defaults\n", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = def.Cache.Dir
	}
	if c.Cache.MaxAgeHours == 0 {
		c.Cache.MaxAgeHours = def.Cache.MaxAgeHours
	}
	if c.Store.DSNEnv == "" {
		c.Store.DSNEnv = def.Store.DSNEnv
	}
	if c.Store.Dir == "" {
		c.Store.Dir = def.Store.Dir
	}
	if c.Fallback.MinYears == 0 {
		c.Fallback.MinYears = def.Fallback.MinYears
	}
	if c.FX.Pair == "" {
		c.FX.Pair = def.FX.Pair
	}
	if c.Sweep.ChunkSize == 0 {
		c.Sweep.ChunkSize = def.Sweep.ChunkSize
	}
	if c.Sweep.MaxRetries == 0 {
		c.Sweep.MaxRetries = def.Sweep.MaxRetries
	}
	if c.Sweep.BackoffMs == 0 {
		c.Sweep.BackoffMs = def.Sweep.BackoffMs
	}
}

// Overrides are hand-edited tweaks kept apart from the main config: a pinned
// FX rate and extra account spellings, keyed by canonical account label.
type Overrides struct {
	FXRate       *float64            `json:"fx_rate"`
	ExtraAliases map[string][]string `json:"extra_aliases"`
}

// LoadOverrides reads the HJSON overrides file. HJSON so the file can carry
// comments and unquoted keys. A missing file is not an error.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Overrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}
	var ov Overrides
	if err := hjson.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("failed to parse overrides: %w", err)
	}
	return &ov, nil
}
