package domain

import "github.com/shopspring/decimal"

// EventType distinguishes book postings from executions.
type EventType string

const (
	EventBid   EventType = "bid"
	EventAsk   EventType = "ask"
	EventTrade EventType = "trade"
)

// Event is a market notification streamed to subscribers. Book events
// carry the originating order ID; trade events carry none and never
// reveal counterparties.
type Event struct {
	Type    EventType       `json:"type"`
	Symbol  string          `json:"symbol"`
	Price   decimal.Decimal `json:"price"`
	Size    uint64          `json:"size"`
	OrderID OrderID         `json:"order_id,omitempty"`
	Time    Tick            `json:"time"`
}
