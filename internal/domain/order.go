package domain

import "math"

// Side indicates whether an order buys or sells.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	return -s
}

// Ticks is a price expressed as a whole number of exchange tick sizes.
type Ticks int64

const (
	// MarketBuyPrice is the limit price of a market buy. It crosses every ask.
	MarketBuyPrice Ticks = math.MaxInt64
	// MarketSellPrice is the limit price of a market sell. It crosses every bid.
	MarketSellPrice Ticks = 0
)

// NoExpiry marks an order that rests until filled or cancelled.
const NoExpiry = -1

// OrderID is the per-kind ID of an order entity.
type OrderID int64

// Key returns the arena key of the order.
func (id OrderID) Key() Key {
	return Key{Kind: KindOrder, ID: int64(id)}
}

// Order is a single instruction to buy or sell a quantity of a symbol.
// Remaining size only decreases; once voided an order never becomes live again.
type Order struct {
	ID             OrderID
	Symbol         string
	Sender         Key
	Side           Side
	Price          Ticks
	Remaining      uint64
	FramesToExpire int // NoExpiry when unset
	CreatedAt      Tick

	expired   bool
	cancelled bool
}

// NewOrder builds a live order. A zero frame count produces an order that
// is already expired.
func NewOrder(id OrderID, symbol string, sender Key, side Side, price Ticks, size uint64, framesToExpire int, now Tick) *Order {
	return &Order{
		ID:             id,
		Symbol:         symbol,
		Sender:         sender,
		Side:           side,
		Price:          price,
		Remaining:      size,
		FramesToExpire: framesToExpire,
		CreatedAt:      now,
		expired:        framesToExpire == 0,
	}
}

// IsBid reports whether the order buys.
func (o *Order) IsBid() bool { return o.Side == Buy }

// IsAsk reports whether the order sells.
func (o *Order) IsAsk() bool { return o.Side == Sell }

// IsMarket reports whether the order carries a market sentinel price.
func (o *Order) IsMarket() bool {
	if o.Side == Buy {
		return o.Price == MarketBuyPrice
	}
	return o.Price == MarketSellPrice
}

// Voided reports whether the order is filled, expired or cancelled.
func (o *Order) Voided() bool {
	return o.Remaining == 0 || o.expired || o.cancelled
}

// Expired reports whether the expiry countdown ran out.
func (o *Order) Expired() bool { return o.expired }

// Cancelled reports whether the order was cancelled.
func (o *Order) Cancelled() bool { return o.cancelled }

// Cancel marks a live order cancelled. It returns false when the order
// was already voided.
func (o *Order) Cancel() bool {
	if o.Voided() {
		return false
	}
	o.cancelled = true
	return true
}

// Fill decrements the remaining size. Filling more than remains is an
// engine defect.
func (o *Order) Fill(n uint64) {
	if n > o.Remaining {
		panic("domain: fill exceeds remaining size")
	}
	o.Remaining -= n
}

// Age counts down one frame of the order's lifetime.
func (o *Order) Age() {
	if o.FramesToExpire == NoExpiry || o.expired {
		return
	}
	o.FramesToExpire--
	if o.FramesToExpire <= 0 {
		o.expired = true
	}
}
