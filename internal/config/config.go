// Package config resolves relay settings from an optional YAML file
// overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full relay configuration with defaults applied.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	MinQuorum        int   `yaml:"min_quorum"`
	FetchTimeoutMs   int64 `yaml:"fetch_timeout_ms"`
	FetchRetries     int   `yaml:"fetch_retries"`
	CacheTTLMs       int64 `yaml:"cache_ttl_ms"`
	MaxRequestAgeMs  int64 `yaml:"max_request_maxage_ms"`
	MaxEventBytes    int64 `yaml:"max_event_bytes"`
	MaxStoredEvents  int   `yaml:"max_stored_events"`

	RateIPRPS     float64 `yaml:"rate_ip_rps"`
	RatePubkeyRPS float64 `yaml:"rate_pubkey_rps"`
	RateBurst     int     `yaml:"rate_burst"`

	RelayPrivkeyHex string `yaml:"relay_privkey_hex"`
	RelayPubkeyHex  string `yaml:"relay_pubkey_hex"`

	RelayName        string `yaml:"relay_name"`
	RelayDescription string `yaml:"relay_description"`
	RelayContact     string `yaml:"relay_contact"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// Defaults returns the configuration with every knob at its default.
func Defaults() Config {
	return Config{
		ListenAddr:      ":8090",
		LogLevel:        "info",
		MinQuorum:       3,
		FetchTimeoutMs:  2500,
		FetchRetries:    1,
		CacheTTLMs:      2000,
		MaxRequestAgeMs: 60000,
		MaxEventBytes:   64000,
		MaxStoredEvents: 10000,
		RateIPRPS:       3,
		RatePubkeyRPS:   2,
		RateBurst:       10,
		RelayName:       "quoterelay",
		RelayDescription: "BTC/USD price oracle relay speaking NIP-01",
	}
}

// Load resolves the configuration: defaults, then the YAML file named
// by QUOTERELAY_CONFIG (if any), then environment overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("QUOTERELAY_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("LISTEN_ADDR", &c.ListenAddr)
	envStr("LOG_LEVEL", &c.LogLevel)
	envInt("MIN_QUORUM", &c.MinQuorum)
	envInt64("FETCH_TIMEOUT_MS", &c.FetchTimeoutMs)
	envInt("FETCH_RETRIES", &c.FetchRetries)
	envInt64("CACHE_TTL_MS", &c.CacheTTLMs)
	envInt64("MAX_REQUEST_MAXAGE_MS", &c.MaxRequestAgeMs)
	envInt64("MAX_EVENT_BYTES", &c.MaxEventBytes)
	envInt("MAX_STORED_EVENTS", &c.MaxStoredEvents)
	envFloat("RATE_IP_RPS", &c.RateIPRPS)
	envFloat("RATE_PUBKEY_RPS", &c.RatePubkeyRPS)
	envInt("RATE_BURST", &c.RateBurst)
	envStr("RELAY_PRIVKEY_HEX", &c.RelayPrivkeyHex)
	envStr("RELAY_PUBKEY_HEX", &c.RelayPubkeyHex)
	envStr("RELAY_NAME", &c.RelayName)
	envStr("RELAY_DESCRIPTION", &c.RelayDescription)
	envStr("RELAY_CONTACT", &c.RelayContact)
	envStr("REDIS_ADDR", &c.RedisAddr)
	envInt("REDIS_DB", &c.RedisDB)
}

func (c *Config) validate() error {
	if c.MinQuorum < 1 {
		return fmt.Errorf("MIN_QUORUM must be at least 1")
	}
	if c.FetchTimeoutMs <= 0 || c.CacheTTLMs <= 0 || c.MaxEventBytes <= 0 {
		return fmt.Errorf("timeouts, TTLs and size limits must be positive")
	}
	if c.RateBurst < 1 || c.RateIPRPS <= 0 || c.RatePubkeyRPS <= 0 {
		return fmt.Errorf("rate limit parameters must be positive")
	}
	return nil
}

// FetchTimeout returns the per-attempt upstream deadline.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}

// CacheTTL returns the cache freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
