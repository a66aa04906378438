// Package config defines the top-level configuration for the clearing
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CLEARINGD_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Operator OperatorConfig `toml:"operator"`
	Clearing ClearingConfig `toml:"clearing"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the EIP-712 domain parameters.
type ChainConfig struct {
	ChainID int64 `toml:"chain_id"`
}

// OperatorConfig holds the operator key credentials. The operator address
// owns the engine, vault, position ledger, and market registry.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MatcherConfig identifies one authorized matcher and the shared secret it
// signs API requests with.
type MatcherConfig struct {
	Address    string `toml:"address"`
	HMACSecret string `toml:"hmac_secret"`
}

// ClearingConfig holds the engine's economic and role configuration.
type ClearingConfig struct {
	Authority          string          `toml:"authority"` // resolution authority address
	Treasury           string          `toml:"treasury"`  // fee recipient; empty waives fees
	DefaultTradeFeeBps int64           `toml:"default_trade_fee_bps"`
	DefaultClaimFeeBps int64           `toml:"default_claim_fee_bps"`
	Matchers           []MatcherConfig `toml:"matchers"`
	InventoryHolders   []string        `toml:"inventory_holders"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the archival window parameters.
type ArchiveConfig struct {
	// RetentionDays is how long fills, claims and audit rows stay in
	// Postgres before the archive mode exports them to S3.
	RetentionDays int `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 137,
		},
		Clearing: ClearingConfig{
			DefaultTradeFeeBps: 0,
			DefaultClaimFeeBps: 0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "clearinghouse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "clearinghouse-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"migrate": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, migrate, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	isServe := strings.ToLower(c.Mode) == "serve"

	// Operator — a key source is required to derive the owner identity.
	if isServe {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
	}

	// Clearing
	if isServe {
		if c.Clearing.Authority == "" {
			errs = append(errs, "clearing: authority must not be empty")
		} else if !common.IsHexAddress(c.Clearing.Authority) {
			errs = append(errs, fmt.Sprintf("clearing: authority %q is not a hex address", c.Clearing.Authority))
		}
		if c.Clearing.Treasury != "" && !common.IsHexAddress(c.Clearing.Treasury) {
			errs = append(errs, fmt.Sprintf("clearing: treasury %q is not a hex address", c.Clearing.Treasury))
		}
		if c.Clearing.DefaultTradeFeeBps < 0 {
			errs = append(errs, "clearing: default_trade_fee_bps must be >= 0")
		}
		if c.Clearing.DefaultClaimFeeBps < 0 {
			errs = append(errs, "clearing: default_claim_fee_bps must be >= 0")
		}
		for i, m := range c.Clearing.Matchers {
			if !common.IsHexAddress(m.Address) {
				errs = append(errs, fmt.Sprintf("clearing: matchers[%d].address %q is not a hex address", i, m.Address))
			}
			if m.HMACSecret == "" {
				errs = append(errs, fmt.Sprintf("clearing: matchers[%d].hmac_secret must not be empty", i))
			}
		}
		for i, h := range c.Clearing.InventoryHolders {
			if !common.IsHexAddress(h) {
				errs = append(errs, fmt.Sprintf("clearing: inventory_holders[%d] %q is not a hex address", i, h))
			}
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if isServe {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — only the archive mode touches object storage.
	if strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if isServe {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MatcherSecrets returns the matcher address to HMAC secret mapping in the
// form the server middleware consumes.
func (c *Config) MatcherSecrets() map[common.Address]string {
	out := make(map[common.Address]string, len(c.Clearing.Matchers))
	for _, m := range c.Clearing.Matchers {
		if common.IsHexAddress(m.Address) {
			out[common.HexToAddress(m.Address)] = m.HMACSecret
		}
	}
	return out
}

// MatcherAddresses returns just the matcher addresses.
func (c *Config) MatcherAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Clearing.Matchers))
	for _, m := range c.Clearing.Matchers {
		if common.IsHexAddress(m.Address) {
			out = append(out, common.HexToAddress(m.Address))
		}
	}
	return out
}

// InventoryHolderAddresses returns the parsed inventory holder addresses.
func (c *Config) InventoryHolderAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Clearing.InventoryHolders))
	for _, h := range c.Clearing.InventoryHolders {
		if common.IsHexAddress(h) {
			out = append(out, common.HexToAddress(h))
		}
	}
	return out
}
