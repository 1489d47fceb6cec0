// Package config defines the fulcrumbot configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by FULCRUM_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Assets    AssetsConfig    `toml:"assets"`
	Liquidity LiquidityConfig `toml:"liquidity"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Worker    WorkerConfig    `toml:"worker"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Log       LogConfig       `toml:"log"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key source: a raw hex key or an encrypted
// key file.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint and the gas/confirmation tunables.
type ChainConfig struct {
	RPCURL                string          `toml:"rpc_url"`
	ChainID               int64           `toml:"chain_id"`
	GasLimit              uint64          `toml:"gas_limit"`
	GasBufferCoeff        decimal.Decimal `toml:"gas_buffer_coeff"`
	FallbackGas           uint64          `toml:"fallback_gas"`
	ConfirmPollInterval   duration        `toml:"confirm_poll_interval"`
	SuccessDisplayTimeout duration        `toml:"success_display_timeout"`
}

// AssetsConfig points at the YAML asset dictionary.
type AssetsConfig struct {
	Path string `toml:"path"`
}

// LiquidityConfig configures the order-book relay used when opening with the
// native currency.
type LiquidityConfig struct {
	Enabled         bool     `toml:"enabled"`
	Pair            string   `toml:"pair"`
	RelayURL        string   `toml:"relay_url"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	RequestTimeout  duration `toml:"request_timeout"`
	OrdersPerWindow int      `toml:"orders_per_window"`
	OrderWindow     duration `toml:"order_window"`
	BookTTL         duration `toml:"book_ttl"`
	PollInterval    duration `toml:"poll_interval"`
}

// PostgresConfig holds the task journal connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters and stream tunables.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	ReadBlock    duration `toml:"read_block"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the cold archive of finished tasks.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// WorkerConfig tunes the trade stream consumer.
type WorkerConfig struct {
	StartID      string   `toml:"start_id"`
	BatchSize    int      `toml:"batch_size"`
	PollInterval duration `toml:"poll_interval"`
	LockTTL      duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig adds an optional rotating log file next to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration wraps time.Duration so TOML strings like "5s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when the file omits a value. It
// matches configs/config.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:               1,
			GasLimit:              4_000_000,
			GasBufferCoeff:        decimal.RequireFromString("1.06"),
			FallbackGas:           2_300_000,
			ConfirmPollInterval:   duration{2 * time.Second},
			SuccessDisplayTimeout: duration{5 * time.Second},
		},
		Assets: AssetsConfig{Path: "configs/assets.yaml"},
		Liquidity: LiquidityConfig{
			Pair:            "WETH-DAI",
			RequestTimeout:  duration{10 * time.Second},
			OrdersPerWindow: 5,
			OrderWindow:     duration{time.Second},
			BookTTL:         duration{30 * time.Second},
			PollInterval:    duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fulcrum",
			User:          "fulcrum",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			ReadBlock:    duration{5 * time.Second},
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Worker: WorkerConfig{
			StartID:      "0",
			BatchSize:    10,
			PollInterval: duration{time.Second},
			LockTTL:      duration{15 * time.Minute},
		},
		Server: ServerConfig{
			Port:       8080,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"task_succeeded", "task_failed"},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"trade":  true,
	"worker": true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode signs transactions.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == "trade" || m == "worker" || m == "full"
}

// ServesHTTP reports whether the mode runs the API server.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config and returns one error listing every problem.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: trade, worker, server, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode %s", mode)
		}
		if c.Chain.RPCURL == "" {
			add("chain: rpc_url must be set for mode %s", mode)
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if c.Chain.GasLimit == 0 {
		add("chain: gas_limit must be > 0")
	}
	if c.Chain.GasBufferCoeff.LessThan(decimal.NewFromInt(1)) {
		add("chain: gas_buffer_coeff must be >= 1, got %s", c.Chain.GasBufferCoeff)
	}
	if c.Chain.FallbackGas == 0 || c.Chain.FallbackGas > c.Chain.GasLimit {
		add("chain: fallback_gas must be in (0, gas_limit]")
	}
	if c.Chain.ConfirmPollInterval.Duration <= 0 {
		add("chain: confirm_poll_interval must be > 0")
	}
	if c.Chain.SuccessDisplayTimeout.Duration < 0 {
		add("chain: success_display_timeout must be >= 0")
	}

	if strings.TrimSpace(c.Assets.Path) == "" {
		add("assets: path must not be empty")
	}

	if c.Liquidity.Enabled {
		if c.Liquidity.RelayURL == "" {
			add("liquidity: relay_url is required when enabled")
		}
		if c.Liquidity.Pair == "" {
			add("liquidity: pair must not be empty")
		}
		if !c.Redis.Enabled {
			add("liquidity: requires redis for the ask book cache")
		}
	}

	if mode == "worker" || mode == "server" || mode == "full" {
		if !c.Redis.Enabled {
			add("redis: must be enabled for mode %s (trade queue and progress bus)", mode)
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			add("archive: requires postgres to be enabled")
		}
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("archive: s3 bucket and region must be set")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	if c.ServesHTTP() && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		add("server: rate_window must be > 0 when rate_limit is set")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
