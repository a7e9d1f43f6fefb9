package domain

import "github.com/shopspring/decimal"

// CashSymbol is the reserved holdings key for cash.
const CashSymbol = "USD"

// Holdings is a point-in-time copy of one agent's account on one exchange.
type Holdings struct {
	Cash      decimal.Decimal  `json:"cash"`
	Positions map[string]int64 `json:"positions"` // symbol → quantity
}

// Position returns the quantity held of symbol, or 0 if never held.
func (h Holdings) Position(symbol string) int64 {
	return h.Positions[NormalizeSymbol(symbol)]
}
