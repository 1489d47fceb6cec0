package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/service"
)

// TradeAPI is the service surface the handler drives.
type TradeAPI interface {
	Submit(ctx context.Context, req domain.TradeRequest, skipGas bool) (domain.TaskSnapshot, error)
	Get(ctx context.Context, id string) (domain.TaskSnapshot, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.TaskSnapshot, error)
	Cancel(ctx context.Context, id string) (domain.TaskSnapshot, error)
}

// AssetCatalog lists the assets the engine can trade.
type AssetCatalog interface {
	Symbols() []domain.Asset
	Decimals(asset domain.Asset) int
	IsNative(asset domain.Asset) bool
}

// TradeHandler accepts trade requests and exposes task state.
type TradeHandler struct {
	trades TradeAPI
	assets AssetCatalog
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. assets may be nil, which disables
// the symbol check.
func NewTradeHandler(trades TradeAPI, assets AssetCatalog, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, assets: assets, logger: logger.With(slog.String("handler", "trades"))}
}

// tradeBody is the POST /api/trades payload.
type tradeBody struct {
	TradeType     string          `json:"trade_type"`
	Asset         string          `json:"asset"`
	UnitOfAccount string          `json:"unit_of_account"`
	Collateral    string          `json:"collateral"`
	PositionType  string          `json:"position_type"`
	Leverage      int             `json:"leverage"`
	Amount        decimal.Decimal `json:"amount"`
	IsTokenized   bool            `json:"is_tokenized"`
	Version       int             `json:"version"`
	SkipGas       bool            `json:"skip_gas"`
}

func (b tradeBody) request() domain.TradeRequest {
	return domain.NewTradeRequest(
		domain.TradeType(strings.ToLower(strings.TrimSpace(b.TradeType))),
		normAsset(b.Asset),
		normAsset(b.UnitOfAccount),
		normAsset(b.Collateral),
		domain.PositionType(strings.ToLower(strings.TrimSpace(b.PositionType))),
		b.Leverage,
		b.Amount,
		b.IsTokenized,
		b.Version,
	)
}

func normAsset(s string) domain.Asset {
	return domain.Asset(strings.ToUpper(strings.TrimSpace(s)))
}

// SubmitTrade queues a trade and returns its Created snapshot.
// POST /api/trades
func (h *TradeHandler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var body tradeBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req := body.request()
	if err := h.checkAssets(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.trades.Submit(r.Context(), req, body.SkipGas)
	if err != nil {
		h.logger.WarnContext(r.Context(), "submit trade failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *TradeHandler) checkAssets(req domain.TradeRequest) error {
	if h.assets == nil {
		return nil
	}
	known := h.assets.Symbols()
	for _, a := range []domain.Asset{req.Asset, req.UnitOfAccount, req.Collateral} {
		if a != "" && !slices.Contains(known, a) {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAsset, a)
		}
	}
	return nil
}

// GetTask returns one task.
// GET /api/tasks/{id}
func (h *TradeHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := h.trades.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListTasks returns recent tasks, optionally filtered by ?status=.
// GET /api/tasks
func (h *TradeHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	snaps, err := h.trades.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list tasks failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to list tasks")
		return
	}
	if snaps == nil {
		snaps = []domain.TaskSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": snaps, "limit": opts.Limit, "offset": opts.Offset})
}

// CancelTask cancels a task that no worker has claimed yet.
// POST /api/tasks/{id}/cancel
func (h *TradeHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	snap, err := h.trades.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, service.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, statusFor(err), err.Error())
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

type assetView struct {
	Symbol   domain.Asset `json:"symbol"`
	Decimals int          `json:"decimals"`
	Native   bool         `json:"native"`
}

// ListAssets returns the configured asset dictionary.
// GET /api/assets
func (h *TradeHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	views := []assetView{}
	if h.assets != nil {
		for _, s := range h.assets.Symbols() {
			views = append(views, assetView{Symbol: s, Decimals: h.assets.Decimals(s), Native: h.assets.IsNative(s)})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": views})
}
