package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// EventHandler serves the book event log.
type EventHandler struct {
	events domain.EventStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. events may be nil.
func NewEventHandler(events domain.EventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger.With(slog.String("handler", "events"))}
}

// ListEvents returns recent events, newest first.
// GET /api/events?limit=N
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}
	limit, ok := queryInt(r, "limit", defaultLimit, maxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []domain.BookEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
