package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSClientDispatch(t *testing.T) {
	commands := make(chan WSCommand, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		commands <- cmd

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"success":true,"ret_msg":"","op":"subscribe","conn_id":"x"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(snapshotPush))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1,"data":{"s":"BTCUSDT","b":[["16493.50","0"]],"a":[],"u":18521289}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","data":{"s":"BTCUSDT","b":[["oops","1"]]}}`))
	}))
	defer srv.Close()

	client := NewWSClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	var (
		snaps  []domain.BookSnapshot
		deltas []domain.BookDelta
		errs   []error
	)
	client.OnSnapshot(func(s domain.BookSnapshot) { snaps = append(snaps, s) })
	client.OnDelta(func(d domain.BookDelta) { deltas = append(deltas, d) })
	client.OnError(func(_ []byte, err error) { errs = append(errs, err) })

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Subscribe(OrderbookTopic(50, "BTCUSDT")))

	err := client.Run(ctx)
	assert.ErrorIs(t, err, domain.ErrWSDisconnect)

	cmd := <-commands
	assert.Equal(t, "subscribe", cmd.Op)
	assert.Equal(t, []string{"orderbook.50.BTCUSDT"}, cmd.Args)
	assert.Equal(t, []string{"orderbook.50.BTCUSDT"}, client.Topics())

	require.Len(t, snaps, 1)
	assert.Equal(t, int64(18521288), snaps[0].Sequence)
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(18521289), deltas[0].Sequence)
	assert.Len(t, errs, 1)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Connect(ctx), domain.ErrWSDisconnect)
}

func TestWSClientCommandEncoding(t *testing.T) {
	data, err := json.Marshal(WSCommand{Op: "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"ping"}`, string(data))
}

func TestRunWithoutConnect(t *testing.T) {
	assert.Error(t, NewWSClient("ws://unused").Run(context.Background()))
}
