package bybit

import (
	"testing"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotPush = `{
	"topic": "orderbook.50.BTCUSDT",
	"type": "snapshot",
	"ts": 1672304484978,
	"data": {
		"s": "BTCUSDT",
		"b": [["16493.50", "0.006"], ["16493.00", "0.100"]],
		"a": [["16611.00", "0.029"]],
		"u": 18521288,
		"seq": 7961638724
	},
	"cts": 1672304484976
}`

func TestToSnapshot(t *testing.T) {
	msg, err := ParseOrderbook([]byte(snapshotPush))
	require.NoError(t, err)
	assert.Equal(t, TypeSnapshot, msg.Type)

	snap, err := ToSnapshot(&msg)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, int64(18521288), snap.Sequence)
	assert.Equal(t, []domain.PriceLevel{{Price: 16493.5, Size: 0.006}, {Price: 16493, Size: 0.1}}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 16611, Size: 0.029}}, snap.Asks)
	assert.Equal(t, time.UnixMilli(1672304484978).UTC(), snap.Timestamp)
}

func TestToDeltaKeepsZeroSizes(t *testing.T) {
	msg := OrderbookMessage{
		Topic: "orderbook.50.ETHUSDT",
		Type:  TypeDelta,
		Data: OrderbookData{
			Symbol: "ETHUSDT",
			Bids:   [][2]string{{"2000.1", "0"}},
			U:      9,
		},
	}
	delta, err := ToDelta(&msg)
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 2000.1, Size: 0}}, delta.Bids)
	assert.Empty(t, delta.Asks)
	assert.True(t, delta.Timestamp.IsZero())
}

func TestMalformedLevels(t *testing.T) {
	msg := OrderbookMessage{Data: OrderbookData{Symbol: "X", Asks: [][2]string{{"1.0", "abc"}}}}
	_, err := ToSnapshot(&msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asks")

	_, err = ParseOrderbook([]byte(`{"topic":`))
	assert.Error(t, err)
}

func TestOrderbookTopic(t *testing.T) {
	assert.Equal(t, "orderbook.50.BTCUSDT", OrderbookTopic(50, "btcusdt"))
	assert.True(t, IsOrderbookTopic("orderbook.1.ETHUSDT"))
	assert.False(t, IsOrderbookTopic("publicTrade.BTCUSDT"))
}
