// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"bch-mcp-server/bitcoin"
)

const logPrefix = "config:config"

// Transport modes.
const (
	ModeHTTP  = "http"
	ModeStdio = "stdio"
)

// Audit store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds server configuration.
// Fields carry no envconfig defaults: an unset variable must leave the
// value from the file untouched.
type Config struct {
	Port  int    `envconfig:"PORT" yaml:"port"`
	Debug bool   `envconfig:"DEBUG" yaml:"debug"`
	Mode  string `envconfig:"MODE" yaml:"mode"`

	Network     string `envconfig:"NETWORK" yaml:"network"`
	ElectrumURL string `envconfig:"ELECTRUM_URL" yaml:"electrum_url"`

	SignerURL     string        `envconfig:"SIGNER_URL" yaml:"signer_url"`
	SignerToken   string        `envconfig:"SIGNER_TOKEN" yaml:"signer_token"`
	SignerTimeout time.Duration `envconfig:"SIGNER_TIMEOUT" yaml:"signer_timeout"`

	PriceAPIBase string        `envconfig:"PRICE_API_BASE" yaml:"price_api_base"`
	PriceTTL     time.Duration `envconfig:"PRICE_TTL" yaml:"price_ttl"`

	CallTimeout     time.Duration `envconfig:"CALL_TIMEOUT" yaml:"call_timeout"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" yaml:"idle_timeout"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" yaml:"sweep_interval"`
	MaxSessions     int           `envconfig:"MAX_SESSIONS" yaml:"max_sessions"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	StoreDriver   string `envconfig:"STORE_DRIVER" yaml:"store_driver"`
	PGDSN         string `envconfig:"PG_DSN" yaml:"pg_dsn"`
	AuditCapacity int    `envconfig:"AUDIT_CAPACITY" yaml:"audit_capacity"`
	// AuditToken enables GET /audit behind this bearer token. Empty leaves
	// the endpoint unmounted.
	AuditToken string `envconfig:"AUDIT_TOKEN" yaml:"audit_token"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" yaml:"rate_limit_rps"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" yaml:"rate_limit_burst"`
	// TrustProxy keys rate limiting on the X-Forwarded-For hop appended by
	// a fronting proxy. Only set it when such a proxy always rewrites the header.
	TrustProxy bool `envconfig:"TRUST_PROXY" yaml:"trust_proxy"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:            8081,
		Mode:            ModeHTTP,
		Network:         "mainnet",
		SignerTimeout:   30 * time.Second,
		PriceAPIBase:    bitcoin.DefaultPriceAPIBase,
		PriceTTL:        60 * time.Second,
		CallTimeout:     60 * time.Second,
		IdleTimeout:     30 * time.Minute,
		SweepInterval:   5 * time.Minute,
		MaxSessions:     1000,
		ShutdownTimeout: 10 * time.Second,
		StoreDriver:     StoreMemory,
		AuditCapacity:   1000,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// Load builds the configuration. path names a YAML file; when empty the
// CONFIG_FILE variable is consulted, and no file at all is fine.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s - failed to process env: %w", logPrefix, err)
	}
	if cfg.ElectrumURL == "" {
		cfg.ElectrumURL = bitcoin.GetNetworkConfig(cfg.Network).ElectrumURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s - read %s: %w", logPrefix, path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%s - parse %s: %w", logPrefix, path, err)
	}
	return nil
}

// Validate checks the settings are usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%s - PORT must be between 1 and 65535, got %d", logPrefix, c.Port)
	}
	switch c.Mode {
	case ModeHTTP, ModeStdio:
	default:
		return fmt.Errorf("%s - MODE must be %q or %q, got %q", logPrefix, ModeHTTP, ModeStdio, c.Mode)
	}
	switch c.Network {
	case "mainnet", "testnet", "chipnet", "regtest":
	default:
		return fmt.Errorf("%s - unknown NETWORK %q", logPrefix, c.Network)
	}
	for name, d := range map[string]time.Duration{
		"CALL_TIMEOUT":     c.CallTimeout,
		"IDLE_TIMEOUT":     c.IdleTimeout,
		"SWEEP_INTERVAL":   c.SweepInterval,
		"PRICE_TTL":        c.PriceTTL,
		"SIGNER_TIMEOUT":   c.SignerTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, name)
		}
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("%s - MAX_SESSIONS must be at least 1", logPrefix)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("%s - PG_DSN is required when STORE_DRIVER=postgres", logPrefix)
		}
	default:
		return fmt.Errorf("%s - unknown STORE_DRIVER %q", logPrefix, c.StoreDriver)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("%s - RATE_LIMIT_RPS must not be negative", logPrefix)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("%s - RATE_LIMIT_BURST must be at least 1 when rate limiting", logPrefix)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
