package store

import (
	"context"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/google/uuid"
)

// MemoryTradeLog is a thread-safe in-memory TradeLog keyed by run and
// symbol. Trades are append-only and chronological.
type MemoryTradeLog struct {
	mu     sync.RWMutex
	trades map[uuid.UUID]map[string][]domain.Trade // run → symbol → trades
}

// NewMemoryTradeLog creates an empty log.
func NewMemoryTradeLog() *MemoryTradeLog {
	return &MemoryTradeLog{
		trades: make(map[uuid.UUID]map[string][]domain.Trade),
	}
}

// Append adds trades to their symbols' chronological lists.
func (s *MemoryTradeLog) Append(_ context.Context, runID uuid.UUID, trades ...domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.trades[runID]
	if !ok {
		run = make(map[string][]domain.Trade)
		s.trades[runID] = run
	}
	for _, t := range trades {
		run[t.Symbol] = append(run[t.Symbol], t)
	}
	return nil
}

// List returns a copy of the run's trades for symbol. It returns an
// empty slice if there are none.
func (s *MemoryTradeLog) List(_ context.Context, runID uuid.UUID, symbol string) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[runID][domain.NormalizeSymbol(symbol)]
	result := make([]domain.Trade, len(trades))
	copy(result, trades)
	return result, nil
}

// Len returns the number of trades recorded for a run.
func (s *MemoryTradeLog) Len(runID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ts := range s.trades[runID] {
		n += len(ts)
	}
	return n
}
