package exchange

import (
	"fmt"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/shopspring/decimal"
)

// Quote is the public view of a resting order. It never carries the
// sender.
type Quote struct {
	ID    domain.OrderID  `json:"id"`
	Price decimal.Decimal `json:"price"`
	Size  uint64          `json:"size"`
}

// BookInfo lists the resting orders of one book, best last on each side.
type BookInfo struct {
	Bids []Quote `json:"bids"`
	Asks []Quote `json:"asks"`
}

// PublicInfo maps each symbol to its book. Values returned by the
// exchange are shared between callers and must not be modified.
type PublicInfo map[string]BookInfo

type infoCache struct {
	info  PublicInfo
	at    domain.Tick
	valid bool
}

// PublicInfo returns the anonymized state of every book. The result is
// computed at most once per tick and book update.
func (ex *Exchange) PublicInfo() PublicInfo {
	now := ex.arena.Now()
	if ex.info.valid && ex.info.at == now {
		return ex.info.info
	}

	info := make(PublicInfo, len(ex.symbols))
	for _, sym := range ex.symbols {
		book := ex.books[sym]
		info[sym] = BookInfo{
			Bids: ex.quotes(book.Bids()),
			Asks: ex.quotes(book.Asks()),
		}
	}
	ex.info = infoCache{info: info, at: now, valid: true}
	return info
}

func (ex *Exchange) quotes(side []*domain.Order) []Quote {
	out := make([]Quote, 0, len(side))
	for _, o := range side {
		if o.Voided() {
			continue
		}
		out = append(out, Quote{ID: o.ID, Price: ex.price(o.Price), Size: o.Remaining})
	}
	return out
}

// Marker selects the reference price used to value open positions.
type Marker int

const (
	MarkMid Marker = iota
	MarkLast
	MarkPayout
	MarkZero
)

func (m Marker) String() string {
	switch m {
	case MarkMid:
		return "mid"
	case MarkLast:
		return "last"
	case MarkPayout:
		return "payout"
	case MarkZero:
		return "zero"
	}
	return fmt.Sprintf("marker(%d)", int(m))
}

// ParseMarker maps a marker name to its value.
func ParseMarker(s string) (Marker, error) {
	switch s {
	case "mid", "":
		return MarkMid, nil
	case "last":
		return MarkLast, nil
	case "payout":
		return MarkPayout, nil
	case "zero":
		return MarkZero, nil
	}
	return 0, &domain.ValidationError{Message: "marker must be one of: mid, last, payout, zero"}
}

// Mark returns the reference price of symbol under marker.
func (ex *Exchange) Mark(symbol string, marker Marker) (decimal.Decimal, error) {
	symbol = domain.NormalizeSymbol(symbol)
	book, ok := ex.books[symbol]
	if !ok {
		return decimal.Zero, domain.ErrUnknownSymbol
	}

	switch marker {
	case MarkMid:
		bid, hasBid := book.BestBid()
		ask, hasAsk := book.BestAsk()
		switch {
		case hasBid && hasAsk:
			return ex.price(bid.Price).Add(ex.price(ask.Price)).Div(decimal.NewFromInt(2)), nil
		case hasBid:
			return ex.price(bid.Price), nil
		case hasAsk:
			return ex.price(ask.Price), nil
		}
		return decimal.Zero, nil
	case MarkLast:
		if t, ok := ex.products[symbol].LastTrade(); ok {
			return t.Price, nil
		}
		return decimal.Zero, nil
	case MarkPayout:
		return ex.products[symbol].Payout(), nil
	}
	return decimal.Zero, nil
}

// MarkedPnL values agent's account as cash plus every position at its
// mark.
func (ex *Exchange) MarkedPnL(agent domain.Key, marker Marker) (decimal.Decimal, error) {
	acct, ok := ex.accounts[agent]
	if !ok {
		return decimal.Zero, domain.ErrAgentNotRegistered
	}
	pnl := acct.Cash()
	for _, sym := range ex.symbols {
		qty := acct.Position(sym)
		if qty == 0 {
			continue
		}
		mark, err := ex.Mark(sym, marker)
		if err != nil {
			return decimal.Zero, err
		}
		pnl = pnl.Add(mark.Mul(decimal.NewFromInt(qty)))
	}
	return pnl, nil
}
