package agent

import (
	"log/slog"

	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

// FixedQuoter cancels its quotes every tick and posts the same bid and
// ask again on every symbol of its default exchange.
type FixedQuoter struct {
	Base
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	Size     uint64
}

// NewFixedQuoter creates a quoter.
func NewFixedQuoter(arena *sim.Arena, bid, ask decimal.Decimal, size uint64) *FixedQuoter {
	return &FixedQuoter{Base: NewBase(arena), BidPrice: bid, AskPrice: ask, Size: size}
}

// Label names the strategy for metrics.
func (q *FixedQuoter) Label() string { return "fixed" }

func (q *FixedQuoter) Update() {
	q.Base.Update()
	q.CancelAll()

	ex, ok := q.Exchange()
	if !ok {
		return
	}
	for _, sym := range ex.Symbols() {
		if _, err := q.Bid(q.BidPrice, q.Size, WithSymbol(sym)); err != nil {
			slog.Warn("fixed quoter bid rejected", slog.String("agent", q.Key().String()), slog.String("error", err.Error()))
		}
		if _, err := q.Ask(q.AskPrice, q.Size, WithSymbol(sym)); err != nil {
			slog.Warn("fixed quoter ask rejected", slog.String("agent", q.Key().String()), slog.String("error", err.Error()))
		}
	}
}
