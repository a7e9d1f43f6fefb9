package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
)

type trader struct{ sim.Meta }

func newTrader(ex *exchange.Exchange) *trader {
	a := &trader{Meta: ex.Arena().Stamp(domain.KindAgent)}
	ex.RegisterAgent(a)
	return a
}

// newRecordedMarket creates a started scheduler with one AAAA exchange
// and a recorder watching it.
func newRecordedMarket(t *testing.T, log TradeLog, cfg RecorderConfig) (*sim.Scheduler, *exchange.Exchange, *Recorder) {
	t.Helper()
	s := sim.New(sim.Config{Iterations: 100})
	ex, err := exchange.New(s.Arena(), exchange.Config{TickSize: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("exchange.New: %v", err)
	}
	s.Add(ex)
	ex.RegisterProduct(exchange.NewProduct(s.Arena(), "AAAA", nil))

	r := NewRecorder(s.Arena(), uuid.New(), log, cfg)
	r.Watch(ex)
	s.Add(r)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, ex, r
}

// cross places a resting ask and a matching bid of size.
func cross(t *testing.T, ex *exchange.Exchange, seller, buyer *trader, size uint64) {
	t.Helper()
	if _, err := ex.LimitOrder(seller.Key(), "AAAA", domain.Sell, decimal.NewFromInt(10), size, domain.NoExpiry); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, err := ex.LimitOrder(buyer.Key(), "AAAA", domain.Buy, decimal.NewFromInt(10), size, domain.NoExpiry); err != nil {
		t.Fatalf("bid: %v", err)
	}
}

func TestRecorder_WritesEveryTrade(t *testing.T) {
	log := NewMemoryTradeLog()
	s, ex, r := newRecordedMarket(t, log, RecorderConfig{})
	a, b := newTrader(ex), newTrader(ex)

	cross(t, ex, a, b, 2)
	s.Advance()
	s.Advance()
	cross(t, ex, a, b, 3)
	s.Advance()
	s.Finish()

	trades, err := log.List(context.Background(), r.RunID(), "AAAA")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(trades) != 2 || trades[0].Size != 2 || trades[1].Size != 3 {
		t.Fatalf("logged trades = %+v, want sizes 2 then 3", trades)
	}
	if trades[0].Seller != a.Key() || trades[0].Buyer != b.Key() {
		t.Errorf("counterparties = %s/%s", trades[0].Seller, trades[0].Buyer)
	}

	want, _ := Digest(r.Trades())
	if r.Digest() == "" || r.Digest() != want {
		t.Errorf("Digest() = %q, want %q", r.Digest(), want)
	}
}

func TestRecorder_DigestIsDeterministic(t *testing.T) {
	run := func() string {
		s, ex, r := newRecordedMarket(t, NewMemoryTradeLog(), RecorderConfig{})
		a, b := newTrader(ex), newTrader(ex)
		for i := uint64(1); i <= 5; i++ {
			cross(t, ex, a, b, i)
			s.Advance()
		}
		s.Finish()
		return r.Digest()
	}
	if first, second := run(), run(); first != second {
		t.Errorf("digests differ: %s vs %s", first, second)
	}
}

type failingLog struct {
	mu    sync.Mutex
	calls int
}

func (f *failingLog) Append(context.Context, uuid.UUID, ...domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func (f *failingLog) List(context.Context, uuid.UUID, string) ([]domain.Trade, error) {
	return nil, nil
}

func TestRecorder_WriteErrorsDoNotStopTheRun(t *testing.T) {
	log := &failingLog{}
	s, ex, r := newRecordedMarket(t, log, RecorderConfig{})
	a, b := newTrader(ex), newTrader(ex)

	cross(t, ex, a, b, 1)
	s.Advance()
	cross(t, ex, a, b, 1)
	s.Advance()
	s.Finish()

	if log.calls != 2 {
		t.Errorf("Append calls = %d, want 2", log.calls)
	}
	if len(r.Trades()) != 2 {
		t.Errorf("Trades() = %d, want 2 even when writes fail", len(r.Trades()))
	}
}

// blockingLog holds the first Append until release is closed.
type blockingLog struct {
	*MemoryTradeLog
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingLog) Append(ctx context.Context, runID uuid.UUID, trades ...domain.Trade) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.MemoryTradeLog.Append(ctx, runID, trades...)
}

func TestRecorder_DropsBatchesWhenQueueIsFull(t *testing.T) {
	log := &blockingLog{
		MemoryTradeLog: NewMemoryTradeLog(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s, ex, r := newRecordedMarket(t, log, RecorderConfig{Buffer: 1})
	a, b := newTrader(ex), newTrader(ex)

	cross(t, ex, a, b, 1)
	s.Advance()
	<-log.entered // worker holds batch 1

	cross(t, ex, a, b, 2)
	s.Advance() // batch 2 fills the queue
	cross(t, ex, a, b, 3)
	s.Advance() // batch 3 is dropped

	close(log.release)
	s.Finish()

	trades, _ := log.List(context.Background(), r.RunID(), "AAAA")
	if len(trades) != 2 || trades[0].Size != 1 || trades[1].Size != 2 {
		t.Errorf("logged trades = %+v, want sizes 1 and 2", trades)
	}
	if len(r.Trades()) != 3 {
		t.Errorf("Trades() = %d, want all 3 collected", len(r.Trades()))
	}
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	r := NewRecorder(sim.NewArena(nil), uuid.New(), NewMemoryTradeLog(), RecorderConfig{})
	r.Close()
	r.Close()
	if r.Tier() != RecorderTier {
		t.Errorf("Tier() = %d, want %d", r.Tier(), RecorderTier)
	}
}

func TestRecorder_CollectsAfterClose(t *testing.T) {
	log := NewMemoryTradeLog()
	s, ex, r := newRecordedMarket(t, log, RecorderConfig{})
	a, b := newTrader(ex), newTrader(ex)

	r.Close()
	cross(t, ex, a, b, 4)
	s.Advance()

	if got := len(r.Trades()); got != 1 {
		t.Fatalf("Trades() = %d, want 1", got)
	}
	if n := log.Len(r.RunID()); n != 0 {
		t.Errorf("log holds %d trades written after Close, want 0", n)
	}
}
