package marketdata

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// Registry maps symbols to their managers.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	cfg      ManagerConfig
	logger   *slog.Logger
	onCreate []func(*Manager)
}

// NewRegistry creates an empty registry whose managers share cfg.
func NewRegistry(cfg ManagerConfig, logger *slog.Logger) *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		cfg:      cfg,
		logger:   logger,
	}
}

// OnCreate registers fn to run for every manager created afterwards.
func (r *Registry) OnCreate(fn func(*Manager)) {
	r.mu.Lock()
	r.onCreate = append(r.onCreate, fn)
	r.mu.Unlock()
}

// GetOrCreate returns the manager for symbol, creating it if needed.
func (r *Registry) GetOrCreate(symbol string) *Manager {
	r.mu.RLock()
	m, ok := r.managers[symbol]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	if m, ok = r.managers[symbol]; ok {
		r.mu.Unlock()
		return m
	}
	m = NewManager(symbol, r.cfg, r.logger)
	r.managers[symbol] = m
	hooks := append([]func(*Manager){}, r.onCreate...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(m)
	}
	return m
}

// Get returns the manager for symbol or domain.ErrUnknownSymbol.
func (r *Registry) Get(symbol string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[symbol]
	if !ok {
		return nil, fmt.Errorf("marketdata: %q: %w", symbol, domain.ErrUnknownSymbol)
	}
	return m, nil
}

// Symbols returns the tracked symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.managers))
	for s := range r.managers {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Managers returns every manager ordered by symbol.
func (r *Registry) Managers() []*Manager {
	symbols := r.Symbols()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, r.managers[s])
	}
	return out
}

// ResetAll resets every manager, used after a feed reconnect.
func (r *Registry) ResetAll() {
	for _, m := range r.Managers() {
		m.Reset()
	}
}
