package engine

import "github.com/efreitasn/marketsim/internal/domain"

// age counts down the lifetime of every resting order. Orders inserted
// during this tick are not aged until the next one.
func (ob *OrderBook) age() {
	for _, o := range ob.bids {
		o.Age()
	}
	for _, o := range ob.asks {
		o.Age()
	}
}

// expireMarketOrders cancels market orders that did not fully fill in
// the tick they were inserted. Market orders never rest.
func (ob *OrderBook) expireMarketOrders() {
	n := 0
	for _, o := range ob.bids {
		if o.Price == domain.MarketBuyPrice && o.Cancel() {
			n++
		}
	}
	for _, o := range ob.asks {
		if o.Price == domain.MarketSellPrice && o.Cancel() {
			n++
		}
	}
	if n > 0 {
		ob.purge()
	}
}
