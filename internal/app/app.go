// Package app wires fulcrumbot's dependencies and runs the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/fulcrumbot/internal/config"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// App owns the configuration, the logger and the cleanup functions run on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	oneShot *OneShot
}

// OneShot is the trade executed by trade mode.
type OneShot struct {
	Request domain.TradeRequest
	SkipGas bool
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// WithTrade sets the request trade mode executes.
func (a *App) WithTrade(req domain.TradeRequest, skipGas bool) *App {
	a.oneShot = &OneShot{Request: req, SkipGas: skipGas}
	return a
}

// Run wires dependencies, runs the selected mode and blocks until it
// returns or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "worker":
		return a.WorkerMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close runs the cleanup functions in reverse order. Later calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
