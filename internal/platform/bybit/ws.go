package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the silence tolerated between frames. Bybit answers
	// every ping, so a healthy connection never reaches it.
	readWait = 60 * time.Second

	// pingPeriod is the application heartbeat Bybit asks clients to send.
	pingPeriod = 20 * time.Second
)

// SnapshotHandler is called for every snapshot push.
type SnapshotHandler func(domain.BookSnapshot)

// DeltaHandler is called for every delta push.
type DeltaHandler func(domain.BookDelta)

// ErrorHandler is called when a push cannot be decoded.
type ErrorHandler func(raw []byte, err error)

// WSClient is a client for the Bybit v5 public orderbook stream. It tracks
// subscriptions so a caller can restore them on a new connection, and
// dispatches decoded pushes to registered handlers.
type WSClient struct {
	wsURL string

	mu     sync.Mutex // guards conn writes and topics
	conn   *websocket.Conn
	topics []string
	closed bool

	snapshotHandlers []SnapshotHandler
	deltaHandlers    []DeltaHandler
	errorHandlers    []ErrorHandler
	handlerMu        sync.RWMutex

	done chan struct{}
}

// NewWSClient creates a client for wsURL, e.g.
// "wss://stream.bybit.com/v5/public/linear".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect dials the stream.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}
	w.conn = conn
	return nil
}

// Subscribe adds topics to the connection.
func (w *WSClient) Subscribe(topics ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.sendLocked(WSCommand{Op: "subscribe", Args: topics}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe: %w", err)
	}
	for _, t := range topics {
		if !slices.Contains(w.topics, t) {
			w.topics = append(w.topics, t)
		}
	}
	return nil
}

// Resubscribe drops and re-adds topic. Bybit answers a fresh subscription
// with a full snapshot, which resynchronizes a book after a gap.
func (w *WSClient) Resubscribe(topic string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.sendLocked(WSCommand{Op: "unsubscribe", Args: []string{topic}}); err != nil {
		return fmt.Errorf("bybit/ws: unsubscribe %s: %w", topic, err)
	}
	if err := w.sendLocked(WSCommand{Op: "subscribe", Args: []string{topic}}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe %s: %w", topic, err)
	}
	return nil
}

// Topics returns the subscribed topics.
func (w *WSClient) Topics() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.topics)
}

// Close shuts the connection down and makes Run return.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return w.conn.Close()
	}
	return nil
}

// OnSnapshot registers a snapshot handler.
func (w *WSClient) OnSnapshot(h SnapshotHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.snapshotHandlers = append(w.snapshotHandlers, h)
}

// OnDelta registers a delta handler.
func (w *WSClient) OnDelta(h DeltaHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.deltaHandlers = append(w.deltaHandlers, h)
}

// OnError registers a handler for undecodable pushes.
func (w *WSClient) OnError(h ErrorHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.errorHandlers = append(w.errorHandlers, h)
}

// Run reads until the connection fails, ctx is cancelled or Close is called.
// Handlers run on the calling goroutine in arrival order.
func (w *WSClient) Run(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}

	go w.pingLoop(ctx)
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			default:
			}
			return fmt.Errorf("bybit/ws: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(message)
	}
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendLocked writes a JSON command. Caller must hold w.mu.
func (w *WSClient) sendLocked(cmd WSCommand) error {
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			err := w.sendLocked(WSCommand{Op: "ping"})
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw frame. Operation acknowledgements and pongs are
// ignored.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Topic string `json:"topic"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		w.dispatchError(raw, fmt.Errorf("bybit/ws: decode envelope: %w", err))
		return
	}
	if !IsOrderbookTopic(envelope.Topic) {
		return
	}

	msg, err := ParseOrderbook(raw)
	if err != nil {
		w.dispatchError(raw, err)
		return
	}

	switch msg.Type {
	case TypeSnapshot:
		snap, err := ToSnapshot(&msg)
		if err != nil {
			w.dispatchError(raw, err)
			return
		}
		w.handlerMu.RLock()
		handlers := w.snapshotHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}

	case TypeDelta:
		delta, err := ToDelta(&msg)
		if err != nil {
			w.dispatchError(raw, err)
			return
		}
		w.handlerMu.RLock()
		handlers := w.deltaHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(delta)
		}
	}
}

func (w *WSClient) dispatchError(raw []byte, err error) {
	w.handlerMu.RLock()
	handlers := w.errorHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(raw, err)
	}
}
