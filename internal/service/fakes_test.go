package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type fakeBookCache struct {
	mu    sync.Mutex
	views map[string]domain.BookSnapshot
	sets  int
}

func newFakeBookCache() *fakeBookCache {
	return &fakeBookCache{views: make(map[string]domain.BookSnapshot)}
}

func (c *fakeBookCache) SetBook(_ context.Context, view domain.BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.Symbol] = view
	c.sets++
	return nil
}

func (c *fakeBookCache) GetBook(_ context.Context, symbol string) (domain.BookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[symbol]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return v, nil
}

func (c *fakeBookCache) GetBBO(ctx context.Context, symbol string) (float64, float64, error) {
	v, err := c.GetBook(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	var bid, ask float64
	if len(v.Bids) > 0 {
		bid = v.Bids[0].Price
	}
	if len(v.Asks) > 0 {
		ask = v.Asks[0].Price
	}
	return bid, ask, nil
}

type fakeMetricsCache struct {
	mu     sync.Mutex
	latest map[string]domain.BookMetrics
}

func newFakeMetricsCache() *fakeMetricsCache {
	return &fakeMetricsCache{latest: make(map[string]domain.BookMetrics)}
}

func (c *fakeMetricsCache) SetMetrics(_ context.Context, m domain.BookMetrics) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[m.Symbol] = m
	return nil
}

func (c *fakeMetricsCache) GetMetrics(_ context.Context, symbol string) (domain.BookMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.latest[symbol]
	if !ok {
		return domain.BookMetrics{}, domain.ErrNotFound
	}
	return m, nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu  sync.Mutex
	out []published
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = append(b.out, published{channel: channel, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.out...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.BookEvent
}

func (s *fakeEvents) Record(_ context.Context, ev domain.BookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeEvents) ListRecent(_ context.Context, limit int) ([]domain.BookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.BookEvent(nil), s.events...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeEvents) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeMetricsStore struct {
	mu      sync.Mutex
	samples []domain.BookMetrics
	err     error
}

func (s *fakeMetricsStore) InsertBatch(_ context.Context, samples []domain.BookMetrics) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *fakeMetricsStore) ListRecent(_ context.Context, symbol string, limit int) ([]domain.BookMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BookMetrics
	for _, m := range s.samples {
		if m.Symbol == symbol {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	views []domain.BookSnapshot
	total int
}

func (a *fakeArchiver) Add(v domain.BookSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.views = append(a.views, v)
}

func (a *fakeArchiver) Flush(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.views)
	a.views = nil
	a.total += n
	return n, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	attempts int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.held {
		return nil, domain.ErrLockNotAcquired
	}
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, nil
}

type memBlobs struct {
	objects map[string]string
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewBufferString(data)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, data := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func lv(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{Price: price, Size: size}
}
