package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads the TOML file at path over the defaults, then applies FULCRUM_*
// environment overrides. An empty path skips the file. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose FULCRUM_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FULCRUM_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FULCRUM_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FULCRUM_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FULCRUM_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FULCRUM_CHAIN_ID")
	setUint64(&cfg.Chain.GasLimit, "FULCRUM_CHAIN_GAS_LIMIT")
	setDecimal(&cfg.Chain.GasBufferCoeff, "FULCRUM_CHAIN_GAS_BUFFER_COEFF")
	setUint64(&cfg.Chain.FallbackGas, "FULCRUM_CHAIN_FALLBACK_GAS")
	setDuration(&cfg.Chain.ConfirmPollInterval, "FULCRUM_CHAIN_CONFIRM_POLL_INTERVAL")
	setDuration(&cfg.Chain.SuccessDisplayTimeout, "FULCRUM_CHAIN_SUCCESS_DISPLAY_TIMEOUT")

	// ── Assets ──
	setStr(&cfg.Assets.Path, "FULCRUM_ASSETS_PATH")

	// ── Liquidity ──
	setBool(&cfg.Liquidity.Enabled, "FULCRUM_LIQUIDITY_ENABLED")
	setStr(&cfg.Liquidity.Pair, "FULCRUM_LIQUIDITY_PAIR")
	setStr(&cfg.Liquidity.RelayURL, "FULCRUM_LIQUIDITY_RELAY_URL")
	setStr(&cfg.Liquidity.APIKey, "FULCRUM_LIQUIDITY_API_KEY")
	setStr(&cfg.Liquidity.APISecret, "FULCRUM_LIQUIDITY_API_SECRET")
	setDuration(&cfg.Liquidity.PollInterval, "FULCRUM_LIQUIDITY_POLL_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FULCRUM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FULCRUM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FULCRUM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FULCRUM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FULCRUM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FULCRUM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FULCRUM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FULCRUM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FULCRUM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FULCRUM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FULCRUM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FULCRUM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FULCRUM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FULCRUM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FULCRUM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FULCRUM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FULCRUM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FULCRUM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FULCRUM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FULCRUM_S3_REGION")
	setStr(&cfg.S3.Bucket, "FULCRUM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FULCRUM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FULCRUM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FULCRUM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FULCRUM_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FULCRUM_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "FULCRUM_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "FULCRUM_ARCHIVE_INTERVAL")

	// ── Worker ──
	setStr(&cfg.Worker.StartID, "FULCRUM_WORKER_START_ID")
	setInt(&cfg.Worker.BatchSize, "FULCRUM_WORKER_BATCH_SIZE")
	setDuration(&cfg.Worker.LockTTL, "FULCRUM_WORKER_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "FULCRUM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FULCRUM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FULCRUM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FULCRUM_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FULCRUM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FULCRUM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FULCRUM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FULCRUM_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "FULCRUM_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "FULCRUM_MODE")
	setStr(&cfg.LogLevel, "FULCRUM_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
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
