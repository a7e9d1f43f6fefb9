// Package agent provides the order-entry surface shared by trading
// agents and a few simple strategies.
package agent

import (
	"fmt"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

type orderOptions struct {
	symbol   string
	exchange *domain.Key
	frames   int
}

// OrderOption customizes a single order.
type OrderOption func(*orderOptions)

// WithSymbol selects the symbol. It may be omitted when the exchange
// lists exactly one.
func WithSymbol(symbol string) OrderOption {
	return func(o *orderOptions) { o.symbol = symbol }
}

// WithExchange selects the exchange by key instead of the first one the
// agent registered with.
func WithExchange(key domain.Key) OrderOption {
	return func(o *orderOptions) { o.exchange = &key }
}

// WithExpiry sets the number of ticks the order may rest.
func WithExpiry(frames int) OrderOption {
	return func(o *orderOptions) { o.frames = frames }
}

type openOrder struct {
	ex *exchange.Exchange
	id domain.OrderID
}

// Base implements exchange registration and order entry. Strategies
// embed it and call Base.Update at the top of their own Update.
type Base struct {
	sim.Meta
	exchanges []*exchange.Exchange // registration order
	open      []openOrder
}

// NewBase stamps a new agent identity from arena.
func NewBase(arena *sim.Arena) Base {
	return Base{Meta: arena.Stamp(domain.KindAgent)}
}

// OnRegister records ex as one of the agent's exchanges.
func (b *Base) OnRegister(ex *exchange.Exchange) {
	for _, e := range b.exchanges {
		if e == ex {
			return
		}
	}
	b.exchanges = append(b.exchanges, ex)
}

// Exchanges returns the exchanges the agent is registered with.
func (b *Base) Exchanges() []*exchange.Exchange {
	out := make([]*exchange.Exchange, len(b.exchanges))
	copy(out, b.exchanges)
	return out
}

// Exchange returns the default exchange, the first one registered.
func (b *Base) Exchange() (*exchange.Exchange, bool) {
	if len(b.exchanges) == 0 {
		return nil, false
	}
	return b.exchanges[0], true
}

// Update drops voided orders from the open-order list.
func (b *Base) Update() {
	live := b.open[:0]
	for _, o := range b.open {
		if order, ok := o.ex.Order(o.id); ok && !order.Voided() {
			live = append(live, o)
		}
	}
	clear(b.open[len(live):])
	b.open = live
}

// OpenOrders returns the IDs of orders not yet seen voided.
func (b *Base) OpenOrders() []domain.OrderID {
	out := make([]domain.OrderID, len(b.open))
	for i, o := range b.open {
		out[i] = o.id
	}
	return out
}

func (b *Base) resolve(opts []OrderOption) (*exchange.Exchange, string, int, error) {
	o := orderOptions{frames: domain.NoExpiry}
	for _, opt := range opts {
		opt(&o)
	}
	if len(b.exchanges) == 0 {
		return nil, "", 0, domain.ErrNoExchange
	}

	ex := b.exchanges[0]
	if o.exchange != nil {
		ex = nil
		for _, e := range b.exchanges {
			if e.Key() == *o.exchange {
				ex = e
				break
			}
		}
		if ex == nil {
			return nil, "", 0, fmt.Errorf("%w: %s", domain.ErrUnknownExchange, *o.exchange)
		}
	}

	symbol := domain.NormalizeSymbol(o.symbol)
	if symbol == "" {
		syms := ex.Symbols()
		if len(syms) != 1 {
			return nil, "", 0, &domain.ValidationError{Message: "symbol is required when the exchange lists more than one"}
		}
		symbol = syms[0]
	}
	return ex, symbol, o.frames, nil
}

// LimitOrder places a limit order and tracks it as open.
func (b *Base) LimitOrder(side domain.Side, price decimal.Decimal, size uint64, opts ...OrderOption) (domain.OrderID, error) {
	ex, symbol, frames, err := b.resolve(opts)
	if err != nil {
		return 0, err
	}
	id, err := ex.LimitOrder(b.Key(), symbol, side, price, size, frames)
	if err != nil {
		return 0, err
	}
	b.open = append(b.open, openOrder{ex: ex, id: id})
	return id, nil
}

// MarketOrder places a market order and tracks it as open until the
// book voids it.
func (b *Base) MarketOrder(side domain.Side, size uint64, opts ...OrderOption) (domain.OrderID, error) {
	ex, symbol, frames, err := b.resolve(opts)
	if err != nil {
		return 0, err
	}
	id, err := ex.MarketOrder(b.Key(), symbol, side, size, frames)
	if err != nil {
		return 0, err
	}
	b.open = append(b.open, openOrder{ex: ex, id: id})
	return id, nil
}

// Bid places a limit buy.
func (b *Base) Bid(price decimal.Decimal, size uint64, opts ...OrderOption) (domain.OrderID, error) {
	return b.LimitOrder(domain.Buy, price, size, opts...)
}

// Ask places a limit sell.
func (b *Base) Ask(price decimal.Decimal, size uint64, opts ...OrderOption) (domain.OrderID, error) {
	return b.LimitOrder(domain.Sell, price, size, opts...)
}

// Buy places a market buy.
func (b *Base) Buy(size uint64, opts ...OrderOption) (domain.OrderID, error) {
	return b.MarketOrder(domain.Buy, size, opts...)
}

// Sell places a market sell.
func (b *Base) Sell(size uint64, opts ...OrderOption) (domain.OrderID, error) {
	return b.MarketOrder(domain.Sell, size, opts...)
}

// Cancel cancels one of the agent's open orders. It returns false when
// the order is not open or was already voided.
func (b *Base) Cancel(id domain.OrderID) bool {
	for _, o := range b.open {
		if o.id == id {
			return o.ex.Cancel(b.Key(), id)
		}
	}
	return false
}

// CancelAll cancels every open order and returns how many were
// cancelled.
func (b *Base) CancelAll() int {
	n := 0
	for _, o := range b.open {
		if o.ex.Cancel(b.Key(), o.id) {
			n++
		}
	}
	return n
}

// Holdings returns the agent's holdings on its default exchange.
func (b *Base) Holdings() (domain.Holdings, error) {
	ex, ok := b.Exchange()
	if !ok {
		return domain.Holdings{}, domain.ErrNoExchange
	}
	return ex.Holdings(b.Key())
}
