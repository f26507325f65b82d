package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/l2book/internal/cache/redis"
)

type chanBus struct {
	ch      chan []byte
	pattern chan string
}

func newChanBus() *chanBus {
	return &chanBus{ch: make(chan []byte, 8), pattern: make(chan string, 1)}
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.pattern <- channel
	return b.ch, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func (h *Hub) firstClient() *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		return c
	}
	return nil
}

func TestHubRelaysMetrics(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, Config{Mode: "monitor"}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	assert.Equal(t, redis.MetricsPattern, <-bus.pattern)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, "status", hello.Type)
	assert.Contains(t, string(hello.Payload), `"mode":"monitor"`)
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, bus.Publish(ctx, "", []byte(`{"symbol":"BTCUSDT","sequence":1}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, "book_metrics", env.Type)
	assert.Equal(t, redis.MetricsChannel("BTCUSDT"), env.Channel)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","sequence":1}`, string(env.Payload))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","symbols":["ethusdt"]}`)))
	require.Eventually(t, func() bool {
		c := hub.firstClient()
		return c != nil && !c.isSubscribed(redis.MetricsChannel("BTCUSDT"))
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "", []byte(`{"symbol":"BTCUSDT","sequence":2}`)))
	require.NoError(t, bus.Publish(ctx, "", []byte(`not json`)))
	require.NoError(t, bus.Publish(ctx, "", []byte(`{"symbol":"ETHUSDT","sequence":3}`)))
	env = readEnvelope(t, conn)
	assert.Equal(t, redis.MetricsChannel("ETHUSDT"), env.Channel)
}

func TestClientSubscriptions(t *testing.T) {
	hub := NewHub(newChanBus(), Config{}, slog.New(slog.DiscardHandler))
	c := &client{hub: hub, subs: map[string]bool{hub.pattern: true}}

	assert.True(t, c.isSubscribed(redis.MetricsChannel("BTCUSDT")))

	c.apply(controlMsg{Action: "subscribe", Symbols: []string{" btcusdt "}})
	assert.True(t, c.isSubscribed(redis.MetricsChannel("BTCUSDT")))
	assert.False(t, c.isSubscribed(redis.MetricsChannel("ETHUSDT")))

	c.apply(controlMsg{Action: "subscribe", Channels: []string{redis.MetricsPattern}})
	assert.True(t, c.isSubscribed(redis.MetricsChannel("ETHUSDT")))

	c.apply(controlMsg{Action: "unsubscribe", Channels: []string{redis.MetricsPattern}, Symbols: []string{"BTCUSDT"}})
	assert.False(t, c.isSubscribed(redis.MetricsChannel("BTCUSDT")))
	assert.False(t, c.isSubscribed(redis.MetricsChannel("ETHUSDT")))

	c.apply(controlMsg{Action: "bogus", Channels: []string{redis.MetricsPattern}})
	assert.False(t, c.isSubscribed(redis.MetricsChannel("ETHUSDT")))
}
