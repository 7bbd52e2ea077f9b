// FILE: deribit.go
// Package deribit implements broker.Broker over Deribit's WebSocket
// JSON-RPC 2.0 API (https://docs.deribit.com/). Every call — public market
// data, private account reads, and order placement alike — goes out on the
// same persistent connection and is correlated to its response by request
// id, the way Deribit's own docs describe the wire protocol.
//
// The connect/read-loop shape is grounded on the pack's gorilla/websocket
// client idiom (a dialer with a handshake timeout, a single reader
// goroutine fanning messages out, a guarded connected flag); the
// per-endpoint method shape (one small method per REST-ish call, each
// building its own request body) follows the teacher's HTTP bridge broker.
//
// Wire-protocol behaviour is covered by an in-process fake-server unit
// test suite (deribit_test.go) that runs in every default `go test ./...`;
// a separate integration test that dials Deribit's live testnet endpoint
// is gated behind the "integration" build tag and skips itself without
// live credentials. internal/razor never imports this package directly,
// only the broker.Broker interface it satisfies.
package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/razorcore/execution-core/internal/broker"
)

// handshakeTimeout bounds the initial WS dial (mirrors the pack's
// websocket.Dialer{HandshakeTimeout: ...} usage).
const handshakeTimeout = 10 * time.Second

// Config holds the adapter's connection parameters.
type Config struct {
	WSURL        string
	ClientID     string
	ClientSecret string
}

// pendingCall is one in-flight request awaiting its matching response.
type pendingCall struct {
	resp chan rpcResponse
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("deribit rpc error %d: %s", e.Code, e.Message)
}

// Broker is a live broker.Broker implementation over a single Deribit WS
// connection. One Broker serves one account.
type Broker struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected int32 // atomic bool

	nextID  int64
	pending map[int64]*pendingCall

	accessToken string
}

// New constructs a disconnected Broker. Call Connect before use.
func New(cfg Config, log zerolog.Logger) *Broker {
	return &Broker{
		cfg:     cfg,
		log:     log,
		pending: make(map[int64]*pendingCall),
	}
}

// Connect dials the WS endpoint, starts the read loop, and authenticates
// using the configured client credentials.
func (b *Broker) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, b.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("deribit: dial: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	atomic.StoreInt32(&b.connected, 1)

	go b.readLoop()

	if err := b.authenticate(ctx); err != nil {
		b.Disconnect()
		return fmt.Errorf("deribit: authenticate: %w", err)
	}
	return nil
}

// Disconnect closes the connection. Safe to call more than once.
func (b *Broker) Disconnect() {
	atomic.StoreInt32(&b.connected, 0)
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether the read loop is still alive.
func (b *Broker) IsConnected() bool {
	return atomic.LoadInt32(&b.connected) == 1
}

// readLoop is the single reader goroutine: it owns conn.ReadMessage and
// dispatches every response to whichever call() is waiting on its id. A
// read error marks the connection dead and drains every pending caller
// with an error rather than leaving them blocked forever.
func (b *Broker) readLoop() {
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			atomic.StoreInt32(&b.connected, 0)
			b.log.Warn().Err(err).Msg("deribit: websocket read failed; connection considered dead")
			b.failAllPending(err)
			return
		}

		var envelope struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			b.log.Warn().Err(err).Msg("deribit: malformed message; dropped")
			continue
		}

		if envelope.Method != "" {
			// A subscription notification (heartbeat, ticker push, etc.);
			// this adapter only needs request/response calls, so these are
			// discarded without logging rather than routed anywhere.
			continue
		}

		b.mu.Lock()
		call, ok := b.pending[envelope.ID]
		if ok {
			delete(b.pending, envelope.ID)
		}
		b.mu.Unlock()
		if !ok {
			continue
		}
		call.resp <- rpcResponse{Result: envelope.Result, Error: envelope.Error}
	}
}

func (b *Broker) failAllPending(cause error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[int64]*pendingCall)
	b.mu.Unlock()
	for _, call := range pending {
		call.resp <- rpcResponse{Error: &rpcError{Code: -1, Message: cause.Error()}}
	}
}

// call sends a JSON-RPC request and blocks until its matching response
// arrives, the context is cancelled, or the connection dies.
func (b *Broker) call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("deribit: not connected")
	}
	b.nextID++
	id := b.nextID
	pc := &pendingCall{resp: make(chan rpcResponse, 1)}
	b.pending[id] = pc
	b.mu.Unlock()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	if err := conn.WriteJSON(req); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("deribit: write %s: %w", method, err)
	}

	select {
	case resp := <-pc.resp:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (b *Broker) authenticate(ctx context.Context) error {
	raw, err := b.call(ctx, "public/auth", map[string]interface{}{
		"grant_type":    "client_credentials",
		"client_id":     b.cfg.ClientID,
		"client_secret": b.cfg.ClientSecret,
	})
	if err != nil {
		return err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("deribit: decode auth response: %w", err)
	}
	b.mu.Lock()
	b.accessToken = out.AccessToken
	b.mu.Unlock()
	return nil
}

// GetTicker implements broker.Broker.
func (b *Broker) GetTicker(ctx context.Context, instrument string) (broker.Ticker, error) {
	raw, err := b.call(ctx, "public/ticker", map[string]interface{}{"instrument_name": instrument})
	if err != nil {
		return broker.Ticker{}, fmt.Errorf("deribit: get ticker: %w", err)
	}
	var out struct {
		LastPrice float64 `json:"last_price"`
		MarkPrice float64 `json:"mark_price"`
		BestBid   float64 `json:"best_bid_price"`
		BestAsk   float64 `json:"best_ask_price"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return broker.Ticker{}, fmt.Errorf("deribit: decode ticker: %w", err)
	}
	return broker.Ticker{LastPrice: out.LastPrice, MarkPrice: out.MarkPrice, Bid: out.BestBid, Ask: out.BestAsk}, nil
}

// GetCandles implements broker.Broker.
func (b *Broker) GetCandles(ctx context.Context, instrument, resolution string, count int) (broker.Candles, error) {
	endTS := time.Now().UnixMilli()
	startTS := endTS - int64(count)*resolutionToMillis(resolution)
	raw, err := b.call(ctx, "public/get_tradingview_chart_data", map[string]interface{}{
		"instrument_name": instrument,
		"resolution":      resolution,
		"start_timestamp": startTS,
		"end_timestamp":   endTS,
	})
	if err != nil {
		return broker.Candles{}, fmt.Errorf("deribit: get candles: %w", err)
	}
	var out struct {
		Open   []float64 `json:"open"`
		High   []float64 `json:"high"`
		Low    []float64 `json:"low"`
		Close  []float64 `json:"close"`
		Volume []float64 `json:"volume"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return broker.Candles{}, fmt.Errorf("deribit: decode candles: %w", err)
	}
	return broker.Candles{Open: out.Open, High: out.High, Low: out.Low, Close: out.Close, Volume: out.Volume}, nil
}

func resolutionToMillis(resolution string) int64 {
	switch resolution {
	case "1":
		return int64(time.Minute / time.Millisecond)
	case "5":
		return int64(5 * time.Minute / time.Millisecond)
	case "15":
		return int64(15 * time.Minute / time.Millisecond)
	default:
		return int64(time.Minute / time.Millisecond)
	}
}

// GetInstrument implements broker.Broker.
func (b *Broker) GetInstrument(ctx context.Context, instrument string) (broker.Instrument, error) {
	raw, err := b.call(ctx, "public/get_instrument", map[string]interface{}{"instrument_name": instrument})
	if err != nil {
		return broker.Instrument{}, fmt.Errorf("deribit: get instrument: %w", err)
	}
	var out struct {
		TickSize       float64 `json:"tick_size"`
		MinTradeAmount float64 `json:"min_trade_amount"`
		MaxLeverage    float64 `json:"max_leverage"`
		ContractSize   float64 `json:"contract_size"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return broker.Instrument{}, fmt.Errorf("deribit: decode instrument: %w", err)
	}
	return broker.Instrument{
		TickSize:       out.TickSize,
		MinTradeAmount: out.MinTradeAmount,
		MaxLeverage:    out.MaxLeverage,
		ContractSize:   out.ContractSize,
	}, nil
}

// GetPositions implements broker.Broker.
func (b *Broker) GetPositions(ctx context.Context, currency string) ([]broker.Position, error) {
	raw, err := b.call(ctx, "private/get_positions", map[string]interface{}{"currency": currency})
	if err != nil {
		return nil, fmt.Errorf("deribit: get positions: %w", err)
	}
	var out []struct {
		InstrumentName string  `json:"instrument_name"`
		Size           float64 `json:"size"`
		Direction      string  `json:"direction"`
		AveragePrice   float64 `json:"average_price"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("deribit: decode positions: %w", err)
	}
	positions := make([]broker.Position, 0, len(out))
	for _, p := range out {
		side := broker.SideBuy
		if p.Direction == "sell" {
			side = broker.SideSell
		}
		positions = append(positions, broker.Position{
			InstrumentName: p.InstrumentName,
			Size:           p.Size,
			Direction:      side,
			AveragePrice:   p.AveragePrice,
		})
	}
	return positions, nil
}

// GetOpenOrders implements broker.Broker.
func (b *Broker) GetOpenOrders(ctx context.Context, instrument string) ([]broker.OpenOrder, error) {
	raw, err := b.call(ctx, "private/get_open_orders_by_instrument", map[string]interface{}{"instrument_name": instrument})
	if err != nil {
		return nil, fmt.Errorf("deribit: get open orders: %w", err)
	}
	var out []struct {
		OrderID      string  `json:"order_id"`
		OrderType    string  `json:"order_type"`
		Price        float64 `json:"price"`
		TriggerPrice float64 `json:"trigger_price"`
		ReduceOnly   bool    `json:"reduce_only"`
		Label        string  `json:"label"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("deribit: decode open orders: %w", err)
	}
	orders := make([]broker.OpenOrder, 0, len(out))
	for _, o := range out {
		orders = append(orders, broker.OpenOrder{
			OrderID:      o.OrderID,
			OrderType:    broker.OrderType(o.OrderType),
			Price:        o.Price,
			TriggerPrice: o.TriggerPrice,
			ReduceOnly:   o.ReduceOnly,
			Label:        o.Label,
		})
	}
	return orders, nil
}

// PlaceBuyOrder implements broker.Broker.
func (b *Broker) PlaceBuyOrder(ctx context.Context, instrument string, amount, price float64, orderType broker.OrderType, label string, reduceOnly bool) (broker.PlacedOrder, error) {
	return b.placeOrder(ctx, "private/buy", instrument, amount, price, orderType, label, reduceOnly)
}

// PlaceSellOrder implements broker.Broker.
func (b *Broker) PlaceSellOrder(ctx context.Context, instrument string, amount, price float64, orderType broker.OrderType, label string, reduceOnly bool) (broker.PlacedOrder, error) {
	return b.placeOrder(ctx, "private/sell", instrument, amount, price, orderType, label, reduceOnly)
}

func (b *Broker) placeOrder(ctx context.Context, method, instrument string, amount, price float64, orderType broker.OrderType, label string, reduceOnly bool) (broker.PlacedOrder, error) {
	params := map[string]interface{}{
		"instrument_name": instrument,
		"amount":          amount,
		"type":            string(orderType),
		"label":           label,
		"reduce_only":     reduceOnly,
	}
	if orderType != broker.OrderTypeMarket {
		params["price"] = price
	}
	if orderType == broker.OrderTypeStopMarket {
		params["trigger_price"] = price
		params["trigger"] = "last_price"
	}

	raw, err := b.call(ctx, method, params)
	if err != nil {
		return broker.PlacedOrder{}, fmt.Errorf("deribit: place order: %w", err)
	}
	var out struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return broker.PlacedOrder{}, fmt.Errorf("deribit: decode placed order: %w", err)
	}
	return broker.PlacedOrder{OrderID: out.Order.OrderID}, nil
}

// CancelOrder implements broker.Broker.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := b.call(ctx, "private/cancel", map[string]interface{}{"order_id": orderID})
	if err != nil {
		return fmt.Errorf("deribit: cancel order: %w", err)
	}
	return nil
}

// GetAccountSummary implements broker.Broker.
func (b *Broker) GetAccountSummary(ctx context.Context, currency string) (broker.AccountSummary, error) {
	raw, err := b.call(ctx, "private/get_account_summary", map[string]interface{}{"currency": currency})
	if err != nil {
		return broker.AccountSummary{}, fmt.Errorf("deribit: get account summary: %w", err)
	}
	var out struct {
		Equity         float64 `json:"equity"`
		AvailableFunds float64 `json:"available_funds"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return broker.AccountSummary{}, fmt.Errorf("deribit: decode account summary: %w", err)
	}
	return broker.AccountSummary{Equity: out.Equity, AvailableFunds: out.AvailableFunds}, nil
}

var _ broker.Broker = (*Broker)(nil)
