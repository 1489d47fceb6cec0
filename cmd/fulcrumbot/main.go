// Command fulcrumbot runs the Fulcrum trade-execution engine: a one-shot CLI
// trade, a stream worker, the HTTP API, or all of them together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/fulcrumbot/internal/app"
	"github.com/alanyoungcy/fulcrumbot/internal/config"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// tradeFlags describe the one-shot trade executed in trade mode.
type tradeFlags struct {
	tradeType  string
	asset      string
	uoa        string
	collateral string
	position   string
	leverage   int
	amount     string
	tokenized  bool
	version    int
	skipGas    bool
}

func (f tradeFlags) request() (domain.TradeRequest, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("amount %q: %w", f.amount, err)
	}
	req := domain.NewTradeRequest(
		domain.TradeType(strings.ToLower(f.tradeType)),
		domain.Asset(strings.ToUpper(f.asset)),
		domain.Asset(strings.ToUpper(f.uoa)),
		domain.Asset(strings.ToUpper(f.collateral)),
		domain.PositionType(strings.ToLower(f.position)),
		f.leverage,
		amount,
		f.tokenized,
		f.version,
	)
	return req, req.Validate()
}

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (trade, worker, server, full)")

	var tf tradeFlags
	flag.StringVar(&tf.tradeType, "type", "open", "trade type: open or close")
	flag.StringVar(&tf.asset, "asset", "ETH", "traded asset")
	flag.StringVar(&tf.uoa, "uoa", "DAI", "unit of account")
	flag.StringVar(&tf.collateral, "collateral", "DAI", "collateral (open) or payout (close) asset")
	flag.StringVar(&tf.position, "position", "long", "position type: long or short")
	flag.IntVar(&tf.leverage, "leverage", 2, "leverage multiplier")
	flag.StringVar(&tf.amount, "amount", "", "amount in display units")
	flag.BoolVar(&tf.tokenized, "tokenized", false, "request a tokenized position")
	flag.IntVar(&tf.version, "version", 1, "request schema version")
	flag.BoolVar(&tf.skipGas, "skip-gas", false, "skip gas estimation and use the fallback limit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("fulcrumbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	if strings.EqualFold(cfg.Mode, "trade") {
		req, err := tf.request()
		if err != nil {
			logger.Error("invalid trade flags", slog.String("error", err.Error()))
			os.Exit(2)
		}
		application.WithTrade(req, tf.skipGas)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("fulcrumbot stopped")
}

// newLogger builds the JSON logger at the configured level, teeing into a
// rotating file when log.file is set.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		w = io.MultiWriter(os.Stdout, rotating)
		closeFn = func() { _ = rotating.Close() }
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closeFn
}
