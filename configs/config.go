package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"cuewise/pkg/routine"
)

// Config is the full agent configuration: TOML file (optional) overlaid
// with CUEWISE_ environment variables.
type Config struct {
	Instance InstanceConfig `koanf:"instance"`
	Log      LogConfig      `koanf:"log"`
	API      APIConfig      `koanf:"api"`
	Store    StoreConfig    `koanf:"store"`
	Lock     LockConfig     `koanf:"lock"`
	Media    MediaConfig    `koanf:"media"`
	Sync     SyncConfig     `koanf:"sync"`
	Resume   ResumeConfig   `koanf:"resume"`
	History  HistoryConfig  `koanf:"history"`
	Tracing  TracingConfig  `koanf:"tracing"`

	Routines []routine.Routine `koanf:"routines"`
}

type InstanceConfig struct {
	// Namespace prefixes every shared-store key so unrelated
	// deployments can share one store.
	Namespace string `koanf:"namespace"`
}

type LogConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"` // json or console
}

type APIConfig struct {
	Port              string `koanf:"port"`
	APIKey            string `koanf:"api_key"` // empty disables auth
	RequestsPerMinute int    `koanf:"requests_per_minute"`
}

type StoreConfig struct {
	Driver string      `koanf:"driver"` // etcd | redis | memory
	Etcd   EtcdConfig  `koanf:"etcd"`
	Redis  RedisConfig `koanf:"redis"`
}

type EtcdConfig struct {
	Endpoints   []string `koanf:"endpoints"`
	DialTimeout string   `koanf:"dial_timeout"`
}

type RedisConfig struct {
	Addr string `koanf:"addr"`
}

type LockConfig struct {
	// Driver is etcd, memory, or none. "none" exercises the
	// assume-leader fallback: useful where no lock service exists.
	Driver string `koanf:"driver"`
	Name   string `koanf:"name"`
	TTL    int    `koanf:"ttl"` // seconds
}

type MediaConfig struct {
	Embed EmbedConfig `koanf:"embed"`
}

type EmbedConfig struct {
	RendererURL    string `koanf:"renderer_url"`
	CommandTimeout string `koanf:"command_timeout"`
	PollInterval   string `koanf:"poll_interval"`
}

type SyncConfig struct {
	StartTimeout string `koanf:"start_timeout"`
}

type ResumeConfig struct {
	WriteInterval string `koanf:"write_interval"`
}

type HistoryConfig struct {
	// DSN enables the postgres journal; empty falls back to the
	// in-memory store.
	DSN string `koanf:"dsn"`
}

type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Instance: InstanceConfig{Namespace: "cuewise"},
		Log:      LogConfig{Level: "info", Encoding: "json"},
		API:      APIConfig{Port: "8710", RequestsPerMinute: 100},
		Store: StoreConfig{
			Driver: "etcd",
			Etcd:   EtcdConfig{Endpoints: []string{"localhost:2379"}, DialTimeout: "5s"},
			Redis:  RedisConfig{Addr: "localhost:6379"},
		},
		Lock: LockConfig{Driver: "etcd", Name: "cuewise-player", TTL: 15},
		Media: MediaConfig{
			Embed: EmbedConfig{
				RendererURL:    "http://localhost:8711",
				CommandTimeout: "5s",
				PollInterval:   "2s",
			},
		},
		Sync:    SyncConfig{StartTimeout: "10s"},
		Resume:  ResumeConfig{WriteInterval: "5s"},
		Tracing: TracingConfig{Enabled: false, Endpoint: "localhost:4318", SamplingRate: 1.0},
	}
}

// Load reads the config file at path (optional, TOML) and applies
// CUEWISE_ environment overrides on top of the defaults.
// CUEWISE_STORE_DRIVER=memory maps to store.driver, and so on.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %q: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("CUEWISE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CUEWISE_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// ParseDuration parses a duration field, falling back when empty or
// malformed.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
