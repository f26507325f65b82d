package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/platform/bybit"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu        sync.Mutex
	snapshots []domain.BookSnapshot
	deltas    []domain.BookDelta
	resets    []string
	got       chan struct{}
	err       error
}

func newFakeSink() *fakeSink {
	return &fakeSink{got: make(chan struct{}, 16)}
}

func (s *fakeSink) HandleSnapshot(_ context.Context, snap domain.BookSnapshot) error {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
	s.got <- struct{}{}
	return s.err
}

func (s *fakeSink) HandleDelta(_ context.Context, delta domain.BookDelta) error {
	s.mu.Lock()
	s.deltas = append(s.deltas, delta)
	s.mu.Unlock()
	s.got <- struct{}{}
	return s.err
}

func (s *fakeSink) Reset(symbol string) {
	s.mu.Lock()
	s.resets = append(s.resets, symbol)
	s.mu.Unlock()
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBybitFeedForwardsAndResyncs(t *testing.T) {
	commands := make(chan bybit.WSCommand, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd bybit.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		commands <- cmd
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1,"data":{"s":"BTCUSDT","b":[["100","2"]],"a":[["101","1"]],"u":1}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":2,"data":{"s":"BTCUSDT","b":[["100","0"]],"a":[],"u":2}}`))
		for {
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			commands <- cmd
		}
	}))
	defer srv.Close()

	sink := newFakeSink()
	f := NewBybitFeed(BybitConfig{
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: []string{"BTCUSDT"},
	}, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	waitFor(t, sink.got, 2)

	sub := <-commands
	assert.Equal(t, "subscribe", sub.Op)
	assert.Equal(t, []string{"orderbook.50.BTCUSDT"}, sub.Args)

	require.NoError(t, f.Resync("BTCUSDT"))
	assert.Equal(t, "unsubscribe", (<-commands).Op)
	assert.Equal(t, "subscribe", (<-commands).Op)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.snapshots, 1)
	require.Len(t, sink.deltas, 1)
	assert.Equal(t, int64(2), sink.deltas[0].Sequence)
	// once for the new connection and once for update id 1
	assert.Equal(t, []string{"BTCUSDT", "BTCUSDT"}, sink.resets)
}

func TestBybitFeedResyncWithoutConnection(t *testing.T) {
	f := NewBybitFeed(BybitConfig{Symbols: []string{"BTCUSDT"}}, newFakeSink(), testLogger())
	assert.ErrorIs(t, f.Resync("BTCUSDT"), domain.ErrWSDisconnect)
}

func TestBybitFeedNoSymbols(t *testing.T) {
	f := NewBybitFeed(BybitConfig{}, newFakeSink(), testLogger())
	assert.NoError(t, f.Run(context.Background()))
}

func TestBybitFeedReportsDisconnect(t *testing.T) {
	f := NewBybitFeed(BybitConfig{
		WSURL:      "ws://127.0.0.1:1",
		Symbols:    []string{"BTCUSDT"},
		MinBackoff: time.Millisecond,
		MaxBackoff: time.Millisecond,
	}, newFakeSink(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	disconnects := make(chan error, 4)
	f.OnDisconnect(func(err error) {
		select {
		case disconnects <- err:
		default:
		}
		cancel()
	})

	err := f.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, <-disconnects)
}

type fakeBus struct {
	ch chan []byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if channel != UpdatesChannel {
		return nil, errors.New("unexpected channel")
	}
	return b.ch, nil
}

func TestBusFeed(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 8)}
	sink := newFakeSink()
	f := NewBusFeed(bus, "", sink, testLogger())

	publish := func(v any) {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), UpdatesChannel, data))
	}
	publish(domain.BookUpdate{Kind: domain.UpdateSnapshot, Snapshot: &domain.BookSnapshot{Symbol: "ETHUSDT", Sequence: 4}})
	publish(domain.BookUpdate{Kind: "bogus"})
	bus.ch <- []byte("not json")
	publish(domain.BookUpdate{Kind: domain.UpdateDelta, Delta: &domain.BookDelta{Symbol: "ETHUSDT", Sequence: 5}})
	publish(domain.BookUpdate{Kind: domain.UpdateDelta})
	close(bus.ch)

	require.NoError(t, f.Run(context.Background()))

	require.Len(t, sink.snapshots, 1)
	assert.Equal(t, int64(4), sink.snapshots[0].Sequence)
	require.Len(t, sink.deltas, 1)
	assert.Equal(t, int64(5), sink.deltas[0].Sequence)
}

func TestBusFeedHandleMessageErrors(t *testing.T) {
	f := NewBusFeed(&fakeBus{}, "", newFakeSink(), testLogger())
	ctx := context.Background()

	assert.Error(t, f.handleMessage(ctx, []byte(`{"kind":"snapshot"}`)))
	assert.Error(t, f.handleMessage(ctx, []byte(`{"kind":"delta","delta":{"symbol":""}}`)))
	assert.Error(t, f.handleMessage(ctx, []byte(`[`)))
}

type fakeReader struct {
	msgs   [][]byte
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return kafka.Message{Topic: UpdatesTopic, Value: m}, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestKafkaFeed(t *testing.T) {
	snap, err := json.Marshal(domain.BookUpdate{Kind: domain.UpdateSnapshot, Snapshot: &domain.BookSnapshot{Symbol: "BTCUSDT", Sequence: 10}})
	require.NoError(t, err)
	delta, err := json.Marshal(domain.BookUpdate{Kind: domain.UpdateDelta, Delta: &domain.BookDelta{Symbol: "BTCUSDT", Sequence: 11}})
	require.NoError(t, err)

	reader := &fakeReader{msgs: [][]byte{snap, []byte("garbage"), delta}}
	sink := newFakeSink()
	f := newKafkaFeed(reader, UpdatesTopic, sink, testLogger())

	require.NoError(t, f.Run(context.Background()))
	assert.True(t, reader.closed)
	require.Len(t, sink.snapshots, 1)
	require.Len(t, sink.deltas, 1)
	assert.Equal(t, int64(11), sink.deltas[0].Sequence)
}

type failingReader struct{}

func (failingReader) ReadMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("broker unreachable")
}

func (failingReader) Close() error { return nil }

func TestKafkaFeedReadError(t *testing.T) {
	f := newKafkaFeed(failingReader{}, UpdatesTopic, newFakeSink(), testLogger())
	err := f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}
