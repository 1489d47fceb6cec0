package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/allowance"
	"github.com/alanyoungcy/fulcrumbot/internal/assets"
	s3blob "github.com/alanyoungcy/fulcrumbot/internal/blob/s3"
	"github.com/alanyoungcy/fulcrumbot/internal/cache/redis"
	"github.com/alanyoungcy/fulcrumbot/internal/chain"
	"github.com/alanyoungcy/fulcrumbot/internal/config"
	"github.com/alanyoungcy/fulcrumbot/internal/crypto"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/gas"
	"github.com/alanyoungcy/fulcrumbot/internal/liquidity"
	"github.com/alanyoungcy/fulcrumbot/internal/notify"
	"github.com/alanyoungcy/fulcrumbot/internal/platform/relay"
	"github.com/alanyoungcy/fulcrumbot/internal/processor"
	"github.com/alanyoungcy/fulcrumbot/internal/server/handler"
	"github.com/alanyoungcy/fulcrumbot/internal/service"
	"github.com/alanyoungcy/fulcrumbot/internal/store/postgres"
)

// Dependencies bundles everything the modes run. Optional backends are nil
// when their section is disabled.
type Dependencies struct {
	// Redis
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	APILimiter  domain.RateLimiter

	// Postgres
	TaskStore  domain.TaskStore
	AuditStore domain.AuditStore

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.TaskArchiver

	// Chain
	Assets  *assets.Dictionary
	Gateway *chain.Gateway

	// Liquidity relay; nil when [liquidity] is disabled.
	RelayBook *relay.Book

	Notifier *notify.Notifier
	Engine   *processor.Engine
	Trades   *service.TradeService

	// Health probes served by /api/health.
	Health map[string]handler.HealthCheck
}

// Wire builds every dependency the configured mode needs and returns a
// cleanup func releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- Asset dictionary ---
	dict, err := assets.Load(cfg.Assets.Path)
	if err != nil {
		return fail(fmt.Errorf("wire: assets: %w", err))
	}
	deps.Assets = dict

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen, cfg.Redis.ReadBlock.Duration)
		deps.LockManager = redis.NewLockManager(redisClient, "lock:")
		if cfg.Server.RateLimit > 0 {
			deps.APILimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		}
		deps.Health["redis"] = redisClient.Health
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		taskStore := postgres.NewTaskStore(pool)
		deps.TaskStore = taskStore
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Health

		// --- S3 cold archive (needs the task journal) ---
		if cfg.Archive.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: s3: %w", err))
			}
			deps.BlobWriter = s3blob.NewWriter(s3Client)
			deps.BlobReader = s3blob.NewReader(s3Client)
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, taskStore, deps.AuditStore, logger)
			deps.Health["s3"] = s3Client.Health
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Notifier.Enabled() {
		logger.Info("outcome notifications enabled", slog.Int("senders", len(senders)))
	}

	// --- Chain gateway ---
	var signer *crypto.Signer
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		signer, err = crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}, cfg.Chain.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
	}
	if cfg.Chain.RPCURL != "" {
		gw, client, err := chain.Dial(ctx, cfg.Chain.RPCURL, signer, dict, logger,
			chain.WithPollInterval(cfg.Chain.ConfirmPollInterval.Duration))
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		closers = append(closers, client.Close)
		deps.Gateway = gw
		deps.Health["chain"] = func(ctx context.Context) error {
			_, err := client.ChainID(ctx)
			return err
		}
	} else {
		logger.Warn("chain.rpc_url not set; trades will fail with gateway unavailable")
	}

	// --- Liquidity relay ---
	if cfg.Liquidity.Enabled && redisClient != nil {
		var auth *crypto.HMACAuth
		if cfg.Liquidity.APIKey != "" {
			auth = &crypto.HMACAuth{Key: cfg.Liquidity.APIKey, Secret: cfg.Liquidity.APISecret}
		}
		taker := signerAddress(signer)
		limiter := redis.NewRateLimiter(redisClient, cfg.Liquidity.OrdersPerWindow, cfg.Liquidity.OrderWindow.Duration)
		client := relay.NewClient(cfg.Liquidity.RelayURL, auth, taker, limiter, cfg.Liquidity.RequestTimeout.Duration)
		deps.RelayBook = relay.NewBook(client, redis.NewAskBook(redisClient, cfg.Liquidity.BookTTL.Duration), logger)
	}

	// --- Trade service and engine ---
	deps.Trades = service.NewTradeService(deps.TaskStore, deps.SignalBus, deps.AuditStore, deps.Notifier, logger)

	progress := notify.MultiProgress{progressLogger(logger)}
	if deps.SignalBus != nil {
		progress = append(progress, notify.NewBusProgress(deps.SignalBus, logger))
	}

	// Interface values stay nil when the backend is absent.
	var gateway domain.ChainGateway
	if deps.Gateway != nil {
		gateway = deps.Gateway
	}
	var book domain.OrderBookSource
	if deps.RelayBook != nil {
		book = deps.RelayBook
	}

	deps.Engine = processor.NewEngine(&processor.Env{
		Gateway: gateway,
		Assets:  dict,
		Gas: gas.NewEstimator(gateway, logger,
			gas.WithBufferCoeff(cfg.Chain.GasBufferCoeff),
			gas.WithFallback(cfg.Chain.FallbackGas),
			gas.WithCap(cfg.Chain.GasLimit),
		),
		Allowance:      allowance.NewManager(gateway, logger),
		Liquidity:      liquidity.NewMatcher(book, logger),
		Progress:       progress,
		LiquidityPair:  strings.ToUpper(cfg.Liquidity.Pair),
		SuccessDisplay: cfg.Chain.SuccessDisplayTimeout.Duration,
		Logger:         logger,
	})

	return deps, cleanup, nil
}

// Account is the signing account, or the zero address without a gateway.
func (d *Dependencies) Account() common.Address {
	if d.Gateway == nil {
		return common.Address{}
	}
	return d.Gateway.Account()
}

func signerAddress(s *crypto.Signer) common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.Address()
}

// progressLogger logs dialog transitions.
func progressLogger(logger *slog.Logger) notify.ProgressFuncs {
	log := logger.With(slog.String("component", "progress"))
	return notify.ProgressFuncs{
		OnOpen:  func(id string) { log.Info("progress dialog opened", slog.String("task_id", id)) },
		OnClose: func(id string) { log.Info("progress dialog closed", slog.String("task_id", id)) },
	}
}
