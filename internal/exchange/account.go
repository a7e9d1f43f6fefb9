package exchange

import (
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/shopspring/decimal"
)

// Account is the ledger of one agent on one exchange. Only the exchange
// mutates it.
type Account struct {
	owner     domain.Key
	cash      decimal.Decimal
	positions map[string]int64
}

func newAccount(owner domain.Key) *Account {
	return &Account{
		owner:     owner,
		cash:      decimal.Zero,
		positions: make(map[string]int64),
	}
}

// Owner returns the key of the agent owning the account.
func (a *Account) Owner() domain.Key { return a.owner }

// Cash returns the cash balance.
func (a *Account) Cash() decimal.Decimal { return a.cash }

// Position returns the quantity held of symbol, 0 if never held.
func (a *Account) Position(symbol string) int64 { return a.positions[symbol] }

// Holdings copies the account into a snapshot listing every symbol.
func (a *Account) Holdings(symbols []string) domain.Holdings {
	h := domain.Holdings{
		Cash:      a.cash,
		Positions: make(map[string]int64, len(symbols)),
	}
	for _, s := range symbols {
		h.Positions[s] = a.positions[s]
	}
	return h
}

func (a *Account) addCash(amount decimal.Decimal) {
	a.cash = a.cash.Add(amount)
}

func (a *Account) addPosition(symbol string, qty int64) {
	a.positions[symbol] += qty
}
