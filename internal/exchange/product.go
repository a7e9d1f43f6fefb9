package exchange

import (
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

// Product is a tradeable symbol: its trade history and the payoff model
// supplying dividends and the terminal payout.
type Product struct {
	sim.Meta
	arena    *sim.Arena
	symbol   string
	payoff   Payoff
	exchange *Exchange

	trades   []domain.Trade
	volume   uint64
	dividend decimal.Decimal
}

// NewProduct creates a product. A nil payoff pays out the last traded
// price.
func NewProduct(arena *sim.Arena, symbol string, payoff Payoff) *Product {
	if payoff == nil {
		payoff = LastTrade{}
	}
	p := &Product{
		Meta:     arena.Stamp(domain.KindProduct),
		arena:    arena,
		symbol:   domain.NormalizeSymbol(symbol),
		payoff:   payoff,
		dividend: decimal.Zero,
	}
	arena.Put(p.Key(), p)
	return p
}

// Symbol returns the product symbol.
func (p *Product) Symbol() string { return p.symbol }

// Payoff returns the product's payoff model.
func (p *Product) Payoff() Payoff { return p.payoff }

// Exchange returns the exchange the product is listed on, or nil.
func (p *Product) Exchange() *Exchange { return p.exchange }

// Update steps the payoff model. The dividend it yields is paid by the
// exchange on its next update.
func (p *Product) Update() {
	if d := p.payoff.Step(p, p.arena.Now()); d.IsPositive() {
		p.dividend = p.dividend.Add(d)
	}
}

// Dividend returns the unpaid per-unit dividend.
func (p *Product) Dividend() decimal.Decimal { return p.dividend }

func (p *Product) clearDividend() { p.dividend = decimal.Zero }

// Payout returns the terminal value per unit.
func (p *Product) Payout() decimal.Decimal { return p.payoff.Payout(p) }

func (p *Product) recordTrade(t domain.Trade) {
	p.trades = append(p.trades, t)
	p.volume += t.Size
}

// Volume returns the total traded size.
func (p *Product) Volume() uint64 { return p.volume }

// TradeCount returns the number of recorded trades.
func (p *Product) TradeCount() int { return len(p.trades) }

// LastTrade returns the most recent trade.
func (p *Product) LastTrade() (domain.Trade, bool) {
	if len(p.trades) == 0 {
		return domain.Trade{}, false
	}
	return p.trades[len(p.trades)-1], true
}

// TradesSince returns the trades recorded after cursor and the cursor to
// pass next time. A cursor of 0 returns the whole history.
func (p *Product) TradesSince(cursor int) ([]domain.Trade, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(p.trades) {
		return nil, len(p.trades)
	}
	out := make([]domain.Trade, len(p.trades)-cursor)
	copy(out, p.trades[cursor:])
	return out, len(p.trades)
}
