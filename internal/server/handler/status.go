package handler

import (
	"net/http"
	"time"
)

// SymbolLister reports the symbols currently tracked.
type SymbolLister interface {
	Symbols() []string
}

// StatusHandler serves process status.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	symbols   SymbolLister
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, symbols SymbolLister) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, symbols: symbols, now: time.Now}
}

// GetStatus responds with the run mode, uptime and tracked symbols.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	symbols := h.symbols.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
		"symbols":        symbols,
	})
}
