package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CLEARINGD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CLEARINGD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "CLEARINGD_CHAIN_ID")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "CLEARINGD_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "CLEARINGD_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "CLEARINGD_OPERATOR_KEY_PASSWORD")

	// ── Clearing ──
	setStr(&cfg.Clearing.Authority, "CLEARINGD_CLEARING_AUTHORITY")
	setStr(&cfg.Clearing.Treasury, "CLEARINGD_CLEARING_TREASURY")
	setInt64(&cfg.Clearing.DefaultTradeFeeBps, "CLEARINGD_CLEARING_DEFAULT_TRADE_FEE_BPS")
	setInt64(&cfg.Clearing.DefaultClaimFeeBps, "CLEARINGD_CLEARING_DEFAULT_CLAIM_FEE_BPS")
	setStringSlice(&cfg.Clearing.InventoryHolders, "CLEARINGD_CLEARING_INVENTORY_HOLDERS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CLEARINGD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CLEARINGD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CLEARINGD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CLEARINGD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CLEARINGD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CLEARINGD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CLEARINGD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CLEARINGD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CLEARINGD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CLEARINGD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CLEARINGD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLEARINGD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLEARINGD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLEARINGD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLEARINGD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLEARINGD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CLEARINGD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLEARINGD_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLEARINGD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLEARINGD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLEARINGD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLEARINGD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLEARINGD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "CLEARINGD_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "CLEARINGD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CLEARINGD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CLEARINGD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CLEARINGD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CLEARINGD_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "CLEARINGD_MODE")
	setStr(&cfg.LogLevel, "CLEARINGD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
