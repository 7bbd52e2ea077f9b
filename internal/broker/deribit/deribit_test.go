// FILE: deribit_test.go
// Unit-level coverage of the request/response correlation logic against an
// in-process fake Deribit server, so the wire protocol handling is verified
// without any live network dependency (that's what the integration-tagged
// test is for).
package deribit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks just enough Deribit JSON-RPC to drive the methods under
// test: it echoes back a canned result for whichever method name it sees.
func fakeServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var req struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
			switch req.Method {
			case "public/auth":
				resp["result"] = map[string]interface{}{"access_token": "test-token"}
			case "public/ticker":
				resp["result"] = map[string]interface{}{"last_price": 42000.5, "mark_price": 42001.0, "best_bid_price": 41999.0, "best_ask_price": 42002.0}
			case "private/get_positions":
				resp["result"] = []map[string]interface{}{
					{"instrument_name": "BTC-PERPETUAL", "size": 10.0, "direction": "buy", "average_price": 41000.0},
				}
			case "private/buy":
				resp["result"] = map[string]interface{}{"order": map[string]interface{}{"order_id": "order-123"}}
			case "private/cancel":
				resp["result"] = map[string]interface{}{}
			default:
				resp["error"] = map[string]interface{}{"code": 1, "message": "unknown method in fake server: " + req.Method}
			}
			require.NoError(t, conn.WriteJSON(resp))
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func dialFake(t *testing.T, srv *httptest.Server) *Broker {
	b := New(Config{WSURL: wsURL(srv.URL), ClientID: "id", ClientSecret: "secret"}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx))
	t.Cleanup(b.Disconnect)
	return b
}

func TestConnect_AuthenticatesAndSetsConnected(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	b := dialFake(t, srv)
	require.True(t, b.IsConnected())
	require.Equal(t, "test-token", b.accessToken)
}

func TestGetTicker_DecodesResponse(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	b := dialFake(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ticker, err := b.GetTicker(ctx, "BTC-PERPETUAL")
	require.NoError(t, err)
	require.Equal(t, 42000.5, ticker.LastPrice)
	require.Equal(t, 41999.0, ticker.Bid)
}

func TestGetPositions_TranslatesDirection(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	b := dialFake(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	positions, err := b.GetPositions(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 10.0, positions[0].Size)
	require.Equal(t, "buy", string(positions[0].Direction))
}

func TestPlaceBuyOrder_ReturnsOrderID(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	b := dialFake(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	placed, err := b.PlaceBuyOrder(ctx, "BTC-PERPETUAL", 10, 0, "market", "razor_entry", false)
	require.NoError(t, err)
	require.Equal(t, "order-123", placed.OrderID)
}

func TestCall_ContextCancellationUnblocksWaiter(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	b := dialFake(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.call(ctx, "public/ticker", map[string]interface{}{"instrument_name": "BTC-PERPETUAL"})
	require.Error(t, err)
}
