// FILE: broker.go
// Package broker – the adapter interface the Razor executor consumes.
//
// This is a direct generalisation of the teacher's Broker interface
// (broker.go in chidi150c-coinbase) from a single spot-market surface
// (GetNowPrice/PlaceMarketQuote/GetRecentCandles) to the perpetual-futures
// surface spec.md §6 describes: ticker/candles/instrument metadata,
// signed positions, bracket order placement (market/limit/stop_market,
// reduce-only), order cancel, and account equity. Concrete venues
// (internal/broker/deribit) and a paper/mock implementation satisfy this
// interface; the executor only ever imports it, never a concrete broker.
package broker

import (
	"context"
	"time"
)

// OrderType is the kind of order placed.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// Side mirrors domain.Side to avoid an import cycle into domain from the
// lowest-level adapter package; the executor converts at its boundary.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Ticker is the latest price snapshot for an instrument.
type Ticker struct {
	LastPrice float64
	MarkPrice float64
	Bid       float64
	Ask       float64
}

// Candles is a columnar OHLCV response (matches how most REST candle
// endpoints, including Deribit's, actually shape their payload).
type Candles struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// Instrument carries the trading-rule metadata needed for sizing and
// price rounding.
type Instrument struct {
	TickSize       float64
	MinTradeAmount float64
	MaxLeverage    float64
	ContractSize   float64
}

// Position is a broker-reported open position. Size is signed: positive
// for long, negative for short; zero means flat.
type Position struct {
	InstrumentName string
	Size           float64
	Direction      Side
	AveragePrice   float64
}

// OpenOrder is a broker-reported resting order.
type OpenOrder struct {
	OrderID      string
	OrderType    OrderType
	Price        float64
	TriggerPrice float64
	ReduceOnly   bool
	Label        string
}

// PlacedOrder is the broker's acknowledgement of an order placement.
type PlacedOrder struct {
	OrderID string
}

// AccountSummary is the account-level equity snapshot.
type AccountSummary struct {
	Equity         float64
	AvailableFunds float64
}

// Broker is the minimal surface the Razor executor needs to operate
// (spec.md §6). Every method takes a context so a stuck call can be
// bounded by the caller's deadline (spec.md §5: "a stuck broker call must
// not block shutdown for more than 10s").
type Broker interface {
	IsConnected() bool

	GetTicker(ctx context.Context, instrument string) (Ticker, error)
	GetCandles(ctx context.Context, instrument, resolution string, count int) (Candles, error)
	GetInstrument(ctx context.Context, instrument string) (Instrument, error)
	GetPositions(ctx context.Context, currency string) ([]Position, error)
	GetOpenOrders(ctx context.Context, instrument string) ([]OpenOrder, error)

	PlaceBuyOrder(ctx context.Context, instrument string, amount float64, price float64, orderType OrderType, label string, reduceOnly bool) (PlacedOrder, error)
	PlaceSellOrder(ctx context.Context, instrument string, amount float64, price float64, orderType OrderType, label string, reduceOnly bool) (PlacedOrder, error)
	CancelOrder(ctx context.Context, orderID string) error

	GetAccountSummary(ctx context.Context, currency string) (AccountSummary, error)
}

// DefaultCallTimeout bounds every broker call the executor makes so a
// stuck call cannot block the hot path or shutdown indefinitely (spec.md
// §5, §7).
const DefaultCallTimeout = 5 * time.Second
