package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// BookReader is the read side of the book service.
type BookReader interface {
	View(symbol string, depth int) (domain.BookSnapshot, error)
	Metrics(symbol string, depth int) (domain.BookMetrics, error)
	Stats(symbol string) (domain.BookStats, error)
	AllStats() []domain.BookStats
}

// BookHandler serves live books and their recorded history.
type BookHandler struct {
	books   BookReader
	history domain.MetricsStore // nil when Postgres is not configured
	logger  *slog.Logger
}

// NewBookHandler creates a BookHandler. history may be nil.
func NewBookHandler(books BookReader, history domain.MetricsStore, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:   books,
		history: history,
		logger:  logger.With(slog.String("handler", "books")),
	}
}

// ListBooks returns the counters of every tracked symbol.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"books": h.books.AllStats()})
}

// GetBook returns the top levels of a book.
// GET /api/books/{symbol}?depth=N
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(r, "depth", 0, maxDepth)
	if !ok {
		writeError(w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}
	view, err := h.books.View(r.PathValue("symbol"), depth)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetMetrics returns derived metrics for a book.
// GET /api/books/{symbol}/metrics?depth=N
func (h *BookHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(r, "depth", 0, maxDepth)
	if !ok {
		writeError(w, http.StatusBadRequest, "depth must be a positive integer")
		return
	}
	m, err := h.books.Metrics(r.PathValue("symbol"), depth)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetStats returns the running counters of a book.
// GET /api/books/{symbol}/stats
func (h *BookHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.books.Stats(r.PathValue("symbol"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetHistory returns recently recorded metrics, newest first.
// GET /api/books/{symbol}/history?limit=N
func (h *BookHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}
	limit, ok := queryInt(r, "limit", defaultLimit, maxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	symbol := r.PathValue("symbol")
	samples, err := h.history.ListRecent(r.Context(), symbol, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if samples == nil {
		samples = []domain.BookMetrics{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "samples": samples})
}

func (h *BookHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrUnknownSymbol) {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}
	h.logger.Error("book lookup", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}
