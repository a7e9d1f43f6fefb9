package engine

import (
	"slices"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/sim"
)

// Executor settles crossings and fans out book notifications. The
// exchange owning the book implements it.
type Executor interface {
	ExecuteTrade(symbol string, price domain.Ticks, size uint64, buyer, seller domain.Key)
	PublishOrder(order *domain.Order)
	BookChanged(symbol string)
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price      domain.Ticks
	TotalSize  uint64
	OrderCount int
}

// OrderBook holds the resting orders of one symbol. Bids are kept in
// ascending price order and asks in descending price order, so the best
// order of each side is always at the tail. Orders placed between ticks
// wait in a pending queue and are merged in on the next Update.
type OrderBook struct {
	sim.Meta
	symbol string
	exec   Executor

	bids    []*domain.Order
	asks    []*domain.Order
	pending []*domain.Order
	index   map[domain.OrderID]*domain.Order // pending and resting orders

	lastPrice domain.Ticks
	hasLast   bool
}

// NewOrderBook creates an order book for the given symbol.
func NewOrderBook(meta sim.Meta, symbol string, exec Executor) *OrderBook {
	return &OrderBook{
		Meta:   meta,
		symbol: symbol,
		exec:   exec,
		index:  make(map[domain.OrderID]*domain.Order),
	}
}

// Symbol returns the book's symbol.
func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

// Place queues an order for insertion on the next Update. It never
// matches inline.
func (ob *OrderBook) Place(order *domain.Order) {
	ob.pending = append(ob.pending, order)
	ob.index[order.ID] = order
}

// Cancel marks a pending or resting order cancelled. The order is
// physically removed by the next purge. It returns false when the order
// is unknown or already voided.
func (ob *OrderBook) Cancel(id domain.OrderID) bool {
	o, ok := ob.index[id]
	if !ok {
		return false
	}
	return o.Cancel()
}

// Order returns a pending or resting order by ID.
func (ob *OrderBook) Order(id domain.OrderID) (*domain.Order, bool) {
	o, ok := ob.index[id]
	return o, ok
}

// Update runs the per-tick pipeline: age resting orders, insert pending
// orders, purge, match, purge, cancel leftover market orders, and
// publish the orders that made it onto the book.
func (ob *OrderBook) Update() {
	ob.age()

	incoming := ob.pending
	ob.pending = nil
	ob.insert(incoming)

	ob.purge()
	ob.match()
	ob.purge()
	ob.expireMarketOrders()

	for _, o := range incoming {
		if !o.Voided() {
			ob.exec.PublishOrder(o)
		}
	}
	ob.exec.BookChanged(ob.symbol)
}

// insert merges incoming orders into both sides with a stable linear
// merge. At equal prices resting orders keep priority over incoming
// ones, and earlier arrivals keep priority over later ones.
func (ob *OrderBook) insert(incoming []*domain.Order) {
	if len(incoming) == 0 {
		return
	}
	var bids, asks []*domain.Order
	// Walk arrivals backwards so that, after the stable sort, earlier
	// arrivals sit closer to the tail.
	for i := len(incoming) - 1; i >= 0; i-- {
		if incoming[i].IsBid() {
			bids = append(bids, incoming[i])
		} else {
			asks = append(asks, incoming[i])
		}
	}
	slices.SortStableFunc(bids, func(a, b *domain.Order) int {
		return cmpTicks(a.Price, b.Price)
	})
	slices.SortStableFunc(asks, func(a, b *domain.Order) int {
		return cmpTicks(b.Price, a.Price)
	})

	ob.bids = mergeSide(ob.bids, bids, func(in, ex *domain.Order) bool { return in.Price <= ex.Price })
	ob.asks = mergeSide(ob.asks, asks, func(in, ex *domain.Order) bool { return in.Price >= ex.Price })
}

func cmpTicks(a, b domain.Ticks) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// mergeSide merges two sequences sorted in the same direction. before
// reports whether the incoming order goes ahead of (further from the
// tail than) the existing one.
func mergeSide(existing, incoming []*domain.Order, before func(in, ex *domain.Order) bool) []*domain.Order {
	if len(incoming) == 0 {
		return existing
	}
	out := make([]*domain.Order, 0, len(existing)+len(incoming))
	i, j := 0, 0
	for i < len(existing) && j < len(incoming) {
		if before(incoming[j], existing[i]) {
			out = append(out, incoming[j])
			j++
		} else {
			out = append(out, existing[i])
			i++
		}
	}
	out = append(out, incoming[j:]...)
	out = append(out, existing[i:]...)
	return out
}

// purge drops voided orders from both sides and from the index.
func (ob *OrderBook) purge() {
	ob.bids = ob.filterLive(ob.bids)
	ob.asks = ob.filterLive(ob.asks)
}

func (ob *OrderBook) filterLive(side []*domain.Order) []*domain.Order {
	live := side[:0]
	for _, o := range side {
		if o.Voided() {
			delete(ob.index, o.ID)
			continue
		}
		live = append(live, o)
	}
	clear(side[len(live):])
	return live
}

// BestBid returns the highest-priority bid.
func (ob *OrderBook) BestBid() (*domain.Order, bool) {
	if len(ob.bids) == 0 {
		return nil, false
	}
	return ob.bids[len(ob.bids)-1], true
}

// BestAsk returns the highest-priority ask.
func (ob *OrderBook) BestAsk() (*domain.Order, bool) {
	if len(ob.asks) == 0 {
		return nil, false
	}
	return ob.asks[len(ob.asks)-1], true
}

// Bids returns a copy of the bid side, best last.
func (ob *OrderBook) Bids() []*domain.Order {
	return slices.Clone(ob.bids)
}

// Asks returns a copy of the ask side, best last.
func (ob *OrderBook) Asks() []*domain.Order {
	return slices.Clone(ob.asks)
}

// PendingCount returns the number of orders waiting for the next Update.
func (ob *OrderBook) PendingCount() int {
	return len(ob.pending)
}

// LastPrice returns the price of the last non-self trade on this book.
func (ob *OrderBook) LastPrice() (domain.Ticks, bool) {
	return ob.lastPrice, ob.hasLast
}

// TopBids returns up to n aggregated bid levels, best first.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated ask levels, best first.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// topLevels walks a side from the tail and aggregates live orders into
// at most n price levels.
func topLevels(side []*domain.Order, n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	for i := len(side) - 1; i >= 0; i-- {
		o := side[i]
		if o.Voided() {
			continue
		}
		if len(levels) > 0 && levels[len(levels)-1].Price == o.Price {
			levels[len(levels)-1].TotalSize += o.Remaining
			levels[len(levels)-1].OrderCount++
			continue
		}
		if len(levels) >= n {
			break
		}
		levels = append(levels, PriceLevel{Price: o.Price, TotalSize: o.Remaining, OrderCount: 1})
	}
	return levels
}
