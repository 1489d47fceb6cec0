package handler

import (
	"context"
	"net/http"
	"time"
)

// StatusInfo is the static runtime description shown to operators.
type StatusInfo struct {
	Mode          string    `json:"mode"`
	Account       string    `json:"account,omitempty"`
	ChainID       int64     `json:"chain_id"`
	CanWrite      bool      `json:"can_write"`
	LiquidityPair string    `json:"liquidity_pair"`
	StartedAt     time.Time `json:"started_at"`
}

// BookClock reports when the cached asks for a pair were fetched.
type BookClock interface {
	SnapshotTime(ctx context.Context, pair string) (time.Time, error)
}

// StatusHandler serves StatusInfo.
type StatusHandler struct {
	info StatusInfo
	book BookClock
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(info StatusInfo) *StatusHandler {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	return &StatusHandler{info: info}
}

// WithBook adds the liquidity book's age to the response.
func (h *StatusHandler) WithBook(book BookClock) *StatusHandler {
	h.book = book
	return h
}

// GetStatus responds with the runtime info, uptime and, when a book is
// attached, how old its cached asks are.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         h.info,
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
	}
	if h.book != nil && h.info.LiquidityPair != "" {
		if ts, err := h.book.SnapshotTime(r.Context(), h.info.LiquidityPair); err == nil {
			resp["book_updated_at"] = ts.UTC()
			resp["book_age_seconds"] = int64(time.Since(ts).Seconds())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
