package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// --------------------------------------------------------------------------
// WebSocket DTOs (v5 public stream)
// --------------------------------------------------------------------------

// WSCommand is an operation sent to the public stream.
type WSCommand struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
}

// OpResponse acknowledges a WSCommand.
type OpResponse struct {
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
	ConnID  string `json:"conn_id"`
}

// OrderbookMessage is a push on an orderbook.<depth>.<symbol> topic.
type OrderbookMessage struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"` // "snapshot" or "delta"
	Ts    int64         `json:"ts"`   // milliseconds
	Data  OrderbookData `json:"data"`
	Cts   int64         `json:"cts,omitempty"`
}

// OrderbookData carries the levels as [price, size] string pairs. U is the
// update id; Seq is the cross-sequence shared with other streams.
type OrderbookData struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	U      int64       `json:"u"`
	Seq    int64       `json:"seq"`
}

const (
	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"
)

// OrderbookTopic builds the topic name for depth and symbol.
func OrderbookTopic(depth int, symbol string) string {
	return fmt.Sprintf("orderbook.%d.%s", depth, strings.ToUpper(symbol))
}

// IsOrderbookTopic reports whether topic is an orderbook push.
func IsOrderbookTopic(topic string) bool {
	return strings.HasPrefix(topic, "orderbook.")
}

// ParseOrderbook decodes a raw push.
func ParseOrderbook(raw []byte) (OrderbookMessage, error) {
	var msg OrderbookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return OrderbookMessage{}, fmt.Errorf("bybit: decode orderbook: %w", err)
	}
	return msg, nil
}

// ToSnapshot converts a snapshot push to the domain type.
func ToSnapshot(m *OrderbookMessage) (domain.BookSnapshot, error) {
	bids, asks, err := m.levels()
	if err != nil {
		return domain.BookSnapshot{}, err
	}
	return domain.BookSnapshot{
		Symbol:    m.Data.Symbol,
		Sequence:  m.Data.U,
		Bids:      bids,
		Asks:      asks,
		Timestamp: m.time(),
	}, nil
}

// ToDelta converts a delta push to the domain type. Bybit sends size "0" for
// removed levels, which the book treats as a removal.
func ToDelta(m *OrderbookMessage) (domain.BookDelta, error) {
	bids, asks, err := m.levels()
	if err != nil {
		return domain.BookDelta{}, err
	}
	return domain.BookDelta{
		Symbol:    m.Data.Symbol,
		Sequence:  m.Data.U,
		Bids:      bids,
		Asks:      asks,
		Timestamp: m.time(),
	}, nil
}

func (m *OrderbookMessage) time() time.Time {
	if m.Ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Ts).UTC()
}

func (m *OrderbookMessage) levels() (bids, asks []domain.PriceLevel, err error) {
	if bids, err = parseLevels(m.Data.Bids); err != nil {
		return nil, nil, fmt.Errorf("bybit: %s bids: %w", m.Data.Symbol, err)
	}
	if asks, err = parseLevels(m.Data.Asks); err != nil {
		return nil, nil, fmt.Errorf("bybit: %s asks: %w", m.Data.Symbol, err)
	}
	return bids, asks, nil
}

func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for i, pair := range raw {
		p, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("level %d price %q: %w", i, pair[0], err)
		}
		s, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("level %d size %q: %w", i, pair[1], err)
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out, nil
}
