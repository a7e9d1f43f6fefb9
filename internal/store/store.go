// Package store persists the trade log of simulation runs. PostgreSQL is
// the durable sink, Redis an optional read-through cache in front of it,
// and the in-memory log serves tests and runs without a database.
package store

import (
	"context"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/google/uuid"
)

// TradeLog is an append-only record of executed trades, partitioned by
// run.
type TradeLog interface {
	// Append records trades for a run in the given order.
	Append(ctx context.Context, runID uuid.UUID, trades ...domain.Trade) error

	// List returns a run's trades for one symbol in execution order.
	List(ctx context.Context, runID uuid.UUID, symbol string) ([]domain.Trade, error)
}
