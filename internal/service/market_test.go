package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/efreitasn/marketsim/internal/store"
)

type trader struct{ sim.Meta }

type labeled struct {
	sim.Meta
	label string
}

func (l *labeled) Label() string { return l.label }

func newTrader(ex *exchange.Exchange) *trader {
	a := &trader{Meta: ex.Arena().Stamp(domain.KindAgent)}
	ex.RegisterAgent(a)
	return a
}

// newTestExchange creates an unstarted scheduler with one unit-tick
// exchange listing AAAA and BBBB.
func newTestExchange(t *testing.T) (*sim.Scheduler, *exchange.Exchange) {
	t.Helper()
	s := sim.New(sim.Config{Iterations: 100})
	ex, err := exchange.New(s.Arena(), exchange.Config{TickSize: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("exchange.New: %v", err)
	}
	s.Add(ex)
	ex.RegisterProduct(exchange.NewProduct(s.Arena(), "AAAA", nil))
	ex.RegisterProduct(exchange.NewProduct(s.Arena(), "BBBB", nil))
	return s, ex
}

func limit(t *testing.T, ex *exchange.Exchange, a domain.Key, symbol string, side domain.Side, price int64, size uint64) {
	t.Helper()
	if _, err := ex.LimitOrder(a, symbol, side, decimal.NewFromInt(price), size, domain.NoExpiry); err != nil {
		t.Fatalf("LimitOrder: %v", err)
	}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestMarketService_Snapshots(t *testing.T) {
	s, ex := newTestExchange(t)
	log := store.NewMemoryTradeLog()
	runID := uuid.New()
	rec := store.NewRecorder(s.Arena(), runID, log, store.RecorderConfig{})
	rec.Watch(ex)
	svc := NewMarketService(s.Arena(), ex, log, runID, MarketConfig{})
	s.Add(svc)
	s.Add(rec)
	a, b := newTrader(ex), newTrader(ex)

	if svc.Snapshot() != nil {
		t.Fatal("snapshot before start should be nil")
	}
	if _, err := svc.Book("AAAA"); !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Errorf("Book before start err = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(svc.Books()) != 2 {
		t.Fatalf("Books() = %d, want 2", len(svc.Books()))
	}

	limit(t, ex, a.Key(), "AAAA", domain.Sell, 12, 5)
	limit(t, ex, b.Key(), "AAAA", domain.Buy, 10, 3)
	s.Advance()

	book, err := svc.Book("aaaa")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if len(book.Bids) != 1 || !book.Bids[0].Price.Equal(dec(10)) || book.Bids[0].Size != 3 || book.Bids[0].Orders != 1 {
		t.Errorf("bids = %+v", book.Bids)
	}
	if len(book.Asks) != 1 || !book.Asks[0].Price.Equal(dec(12)) || book.Asks[0].Size != 5 {
		t.Errorf("asks = %+v", book.Asks)
	}
	if book.Spread == nil || !book.Spread.Equal(dec(2)) {
		t.Errorf("spread = %v, want 2", book.Spread)
	}
	if book.LastPrice != nil {
		t.Errorf("last price = %v before any trade", book.LastPrice)
	}

	limit(t, ex, b.Key(), "AAAA", domain.Buy, 12, 2)
	s.Advance()

	book, _ = svc.Book("AAAA")
	if book.LastPrice == nil || !book.LastPrice.Equal(dec(12)) || book.Volume != 2 || book.Trades != 1 {
		t.Errorf("after trade: last=%v volume=%d trades=%d", book.LastPrice, book.Volume, book.Trades)
	}
	if book.Asks[0].Size != 3 {
		t.Errorf("ask size = %d, want 3", book.Asks[0].Size)
	}
	if svc.Tick() != 1 {
		t.Errorf("Tick() = %d, want 1", svc.Tick())
	}

	h, err := svc.Holdings(a.Key())
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if !h.Cash.Equal(dec(24)) || h.Position("AAAA") != -2 {
		t.Errorf("seller holdings = %+v", h)
	}
	if _, err := svc.Holdings(domain.Key{Kind: domain.KindAgent, ID: 99}); !errors.Is(err, domain.ErrAgentNotRegistered) {
		t.Errorf("unknown agent err = %v", err)
	}

	s.Finish()
	trades, err := svc.Trades(context.Background(), "AAAA")
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Size != 2 {
		t.Errorf("Trades = %+v, want one trade of 2", trades)
	}
	if _, err := svc.Trades(context.Background(), "ZZZZ"); !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Errorf("unknown symbol err = %v", err)
	}
}
