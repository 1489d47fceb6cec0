package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fulcrumbot/internal/server"
	"github.com/alanyoungcy/fulcrumbot/internal/server/handler"
	"github.com/alanyoungcy/fulcrumbot/internal/server/ws"
	"github.com/alanyoungcy/fulcrumbot/internal/service"
)

// ErrNoTrade is returned by trade mode when no request was supplied.
var ErrNoTrade = errors.New("app: trade mode needs a trade request")

// TradeMode executes the one-shot request in the foreground and returns
// its outcome.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	if a.oneShot == nil {
		return ErrNoTrade
	}
	req := a.oneShot.Request
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("trade_type", string(req.TradeType)),
		slog.String("token_key", req.TokenKey().String()),
		slog.String("amount", req.Amount.String()),
	)

	snap, err := service.RunOnce(ctx, deps.Trades, deps.Engine, deps.Account(), req, a.oneShot.SkipGas)
	a.logger.InfoContext(ctx, "trade finished",
		slog.String("task_id", snap.ID),
		slog.String("status", string(snap.Status)),
		slog.String("tx_hash", snap.TxHash),
		slog.String("reason", snap.Reason),
	)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	return nil
}

// WorkerMode consumes the trade stream, refreshes the liquidity book and
// runs the cold archive.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode", slog.String("account", deps.Account().Hex()))

	g, ctx := errgroup.WithContext(ctx)
	a.startWorker(ctx, g, deps)
	a.startBackground(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket stream; submitted trades are
// left on the stream for workers.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API server, a worker and the background loops in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startWorker(ctx, g, deps)
	a.startBackground(ctx, g, deps)
	return g.Wait()
}

func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "no signal bus; trade worker disabled")
		return
	}
	worker := service.NewTradeWorker(
		deps.SignalBus, deps.LockManager, deps.TaskStore, deps.Engine, deps.Trades, deps.Account(),
		service.WorkerConfig{
			StartID:      a.cfg.Worker.StartID,
			BatchSize:    a.cfg.Worker.BatchSize,
			PollInterval: a.cfg.Worker.PollInterval.Duration,
			LockTTL:      a.cfg.Worker.LockTTL.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		return ignoreCanceled(worker.Run(ctx))
	})
}

// startBackground launches the liquidity poller and the archiver when their
// backends are wired.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.RelayBook != nil {
		interval := a.cfg.Liquidity.PollInterval.Duration
		pair := strings.ToUpper(a.cfg.Liquidity.Pair)
		g.Go(func() error {
			return ignoreCanceled(deps.RelayBook.Poll(ctx, interval, pair))
		})
	}
	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			return ignoreCanceled(deps.Archiver.Run(ctx, interval, retention))
		})
	}
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})
	}

	canWrite := deps.Gateway != nil && deps.Gateway.CanWrite()
	status := handler.NewStatusHandler(handler.StatusInfo{
		Mode:          a.cfg.Mode,
		Account:       accountString(deps),
		ChainID:       a.cfg.Chain.ChainID,
		CanWrite:      canWrite,
		LiquidityPair: strings.ToUpper(a.cfg.Liquidity.Pair),
	})
	if deps.RelayBook != nil {
		status.WithBook(deps.RelayBook)
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Status: status,
		Trades: handler.NewTradeHandler(deps.Trades, deps.Assets, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.APILimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func accountString(deps *Dependencies) string {
	if deps.Gateway == nil || !deps.Gateway.CanWrite() {
		return ""
	}
	return deps.Account().Hex()
}

// ignoreCanceled treats context cancellation as a clean stop so errgroup
// surfaces only real failures.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
