package engine

import (
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/metrics"
)

// match crosses the best bid against the best ask until the book is no
// longer crossed. The older of the two orders sets the trade price. A
// crossing between orders of the same agent consumes both sizes without
// executing a trade.
func (ob *OrderBook) match() {
	for {
		ob.popVoided()

		bid, ok := ob.BestBid()
		if !ok {
			return
		}
		ask, ok := ob.BestAsk()
		if !ok {
			return
		}
		if bid.Price < ask.Price {
			return
		}

		price, ok := ob.tradePrice(bid, ask)
		if !ok {
			// Two market orders and no reference price: the later one goes.
			if ask.CreatedAt >= bid.CreatedAt {
				ask.Cancel()
			} else {
				bid.Cancel()
			}
			continue
		}

		size := min(bid.Remaining, ask.Remaining)
		if bid.Sender == ask.Sender {
			metrics.SelfTradesTotal.Inc()
		} else {
			ob.exec.ExecuteTrade(ob.symbol, price, size, bid.Sender, ask.Sender)
			ob.lastPrice = price
			ob.hasLast = true
		}
		bid.Fill(size)
		ask.Fill(size)
	}
}

// tradePrice picks the price of the order created first; ties go to the
// bid. Market sentinels never become trade prices.
func (ob *OrderBook) tradePrice(bid, ask *domain.Order) (domain.Ticks, bool) {
	older, other := bid, ask
	if ask.CreatedAt < bid.CreatedAt {
		older, other = ask, bid
	}
	switch {
	case !older.IsMarket():
		return older.Price, true
	case !other.IsMarket():
		return other.Price, true
	case ob.hasLast:
		return ob.lastPrice, true
	}
	return 0, false
}

// popVoided removes voided orders sitting at either tail.
func (ob *OrderBook) popVoided() {
	for len(ob.bids) > 0 && ob.bids[len(ob.bids)-1].Voided() {
		last := len(ob.bids) - 1
		delete(ob.index, ob.bids[last].ID)
		ob.bids[last] = nil
		ob.bids = ob.bids[:last]
	}
	for len(ob.asks) > 0 && ob.asks[len(ob.asks)-1].Voided() {
		last := len(ob.asks) - 1
		delete(ob.index, ob.asks[last].ID)
		ob.asks[last] = nil
		ob.asks = ob.asks[:last]
	}
}
