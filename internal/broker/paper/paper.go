// FILE: paper.go
// Package paper – an in-memory broker.Broker used by tests and dry runs.
//
// Adapted from the teacher's broker_paper.go (in-memory single-price
// simulator, google/uuid order ids) but extended to the futures surface:
// it tracks a single simulated position per instrument so executor tests
// can drive fills, position closes, and open-order bookkeeping without a
// network dependency.
package paper

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/razorcore/execution-core/internal/broker"
)

// Broker is a deterministic, in-memory broker.Broker implementation.
type Broker struct {
	mu sync.Mutex

	price      map[string]float64
	instrument map[string]broker.Instrument
	positions  map[string]broker.Position
	orders     map[string]broker.OpenOrder
	equity     float64
	available  float64

	// FailCancelFor, when set, makes CancelOrder fail for orders with an ID in it
	// — used to test the order-lifecycle "old stop survives a failed
	// replacement" guarantee.
	FailCancelFor map[string]bool
	// FailPlace, when true, makes every place call fail — used to test
	// "cancel any already-placed leg" failure handling.
	FailPlace bool
}

// New returns an empty paper broker seeded with generous equity.
func New() *Broker {
	return &Broker{
		price:      make(map[string]float64),
		instrument: make(map[string]broker.Instrument),
		positions:  make(map[string]broker.Position),
		orders:     make(map[string]broker.OpenOrder),
		equity:     1_000_000,
		available:  1_000_000,
	}
}

func (b *Broker) IsConnected() bool { return true }

// SetPrice sets the last-traded price an instrument will report.
func (b *Broker) SetPrice(instrument string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price[instrument] = price
}

// SetInstrument configures the trading-rule metadata for an instrument.
func (b *Broker) SetInstrument(instrument string, meta broker.Instrument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instrument[instrument] = meta
}

// SetPosition directly injects a broker-reported position, used to set up
// reconciliation scenarios (orphan adoption, ghost cleanup).
func (b *Broker) SetPosition(instrument string, pos broker.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos.Size == 0 {
		delete(b.positions, instrument)
		return
	}
	b.positions[instrument] = pos
}

// ClearPosition removes any position on instrument, simulating a fill
// that closed it out.
func (b *Broker) ClearPosition(instrument string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, instrument)
}

// SetOpenOrder injects a resting order for GetOpenOrders/reconciliation
// tests.
func (b *Broker) SetOpenOrder(instrument string, o broker.OpenOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[instrument+"/"+o.OrderID] = o
}

func (b *Broker) GetTicker(_ context.Context, instrument string) (broker.Ticker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.price[instrument]
	return broker.Ticker{LastPrice: p, MarkPrice: p, Bid: p, Ask: p}, nil
}

func (b *Broker) GetCandles(_ context.Context, _ string, _ string, count int) (broker.Candles, error) {
	// Paper broker has no historical series; the Razor executor then
	// starts from an empty candle buffer and warms up from live ticks.
	return broker.Candles{}, nil
}

func (b *Broker) GetInstrument(_ context.Context, instrument string) (broker.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if meta, ok := b.instrument[instrument]; ok {
		return meta, nil
	}
	return broker.Instrument{TickSize: 0.5, MinTradeAmount: 0.001, MaxLeverage: 20, ContractSize: 1}, nil
}

func (b *Broker) GetPositions(_ context.Context, _ string) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) GetOpenOrders(_ context.Context, instrument string) ([]broker.OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OpenOrder, 0)
	for key, o := range b.orders {
		if len(key) >= len(instrument) && key[:len(instrument)] == instrument {
			out = append(out, o)
		}
	}
	return out, nil
}

func (b *Broker) place(instrument string, side broker.Side, amount, price float64, orderType broker.OrderType, label string, reduceOnly bool) (broker.PlacedOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPlace {
		return broker.PlacedOrder{}, errPlaceFailed
	}
	id := uuid.New().String()
	fillPrice := price
	if fillPrice == 0 {
		fillPrice = b.price[instrument]
	}
	if orderType == broker.OrderTypeMarket && !reduceOnly {
		dir := broker.SideBuy
		size := amount
		if side == broker.SideSell {
			dir = broker.SideSell
			size = -amount
		}
		b.positions[instrument] = broker.Position{InstrumentName: instrument, Size: size, Direction: dir, AveragePrice: fillPrice}
	}
	if reduceOnly {
		b.orders[instrument+"/"+id] = broker.OpenOrder{
			OrderID: id, OrderType: orderType, Price: price, TriggerPrice: price, ReduceOnly: true, Label: label,
		}
	}
	return broker.PlacedOrder{OrderID: id}, nil
}

func (b *Broker) PlaceBuyOrder(_ context.Context, instrument string, amount, price float64, orderType broker.OrderType, label string, reduceOnly bool) (broker.PlacedOrder, error) {
	return b.place(instrument, broker.SideBuy, amount, price, orderType, label, reduceOnly)
}

func (b *Broker) PlaceSellOrder(_ context.Context, instrument string, amount, price float64, orderType broker.OrderType, label string, reduceOnly bool) (broker.PlacedOrder, error) {
	return b.place(instrument, broker.SideSell, amount, price, orderType, label, reduceOnly)
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCancelFor[orderID] {
		return errCancelFailed
	}
	for key, o := range b.orders {
		if o.OrderID == orderID {
			delete(b.orders, key)
			return nil
		}
	}
	return nil // already-filled/cancelled orders are not an error (spec.md §4.5)
}

func (b *Broker) GetAccountSummary(_ context.Context, _ string) (broker.AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return broker.AccountSummary{Equity: b.equity, AvailableFunds: b.available}, nil
}

type placeError string

func (e placeError) Error() string { return string(e) }

const (
	errPlaceFailed  placeError = "paper broker: simulated place failure"
	errCancelFailed placeError = "paper broker: simulated cancel failure"
)
