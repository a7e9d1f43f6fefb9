package domain

import "errors"

// Sentinel errors for order entry and market data.
// The handler layer maps these to HTTP status codes.
var (
	ErrUnknownSymbol      = errors.New("unknown_symbol")
	ErrUnknownExchange    = errors.New("unknown_exchange")
	ErrNoExchange         = errors.New("no_exchange")
	ErrAgentNotRegistered = errors.New("agent_not_registered")
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrInvalidTickSize    = errors.New("invalid_tick_size")
)

// ValidationError represents an order-entry validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
