package domain

import "github.com/shopspring/decimal"

// Trade is an executed match between a buyer and a seller. Trades are
// append-only and created only by the exchange.
type Trade struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   uint64          `json:"size"`
	Buyer  Key             `json:"buyer"`
	Seller Key             `json:"seller"`
	Time   Tick            `json:"time"`
}

// Notional returns price × size.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(int64(t.Size)))
}
