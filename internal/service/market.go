// Package service exposes simulation state to goroutines other than the
// scheduler's. Entities in this package run at late tiers and publish
// what they observe; readers never touch live simulation objects.
package service

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/efreitasn/marketsim/internal/store"
)

// MarketTier runs the snapshot after every agent and before the
// recorder.
const MarketTier = 90

// Level is an aggregated price level, best first.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Size   uint64          `json:"size"`
	Orders int             `json:"orders"`
}

// BookView is the public state of one book at the end of a tick.
type BookView struct {
	Symbol    string           `json:"symbol"`
	Bids      []Level          `json:"bids"`
	Asks      []Level          `json:"asks"`
	Spread    *decimal.Decimal `json:"spread"`     // nil if either side is empty
	LastPrice *decimal.Decimal `json:"last_price"` // nil before the first trade
	Volume    uint64           `json:"volume"`
	Trades    int              `json:"trades"`
}

// Snapshot is an immutable copy of the market taken at the end of a tick.
type Snapshot struct {
	Tick     domain.Tick                    `json:"tick"`
	Symbols  []string                       `json:"symbols"`
	Books    map[string]BookView            `json:"books"`
	Holdings map[domain.Key]domain.Holdings `json:"-"`
}

// MarketConfig configures a MarketService.
type MarketConfig struct {
	Depth int // price levels per side
}

// DefaultMarketConfig returns sensible defaults.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{Depth: 10}
}

// MarketService publishes a Snapshot of one exchange every tick and
// serves trade history from the run's trade log.
type MarketService struct {
	sim.Meta
	ex    *exchange.Exchange
	log   store.TradeLog
	runID uuid.UUID
	cfg   MarketConfig

	current atomic.Pointer[Snapshot]
}

// NewMarketService creates the service. The first snapshot is taken on
// start.
func NewMarketService(arena *sim.Arena, ex *exchange.Exchange, log store.TradeLog, runID uuid.UUID, cfg MarketConfig) *MarketService {
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultMarketConfig().Depth
	}
	s := &MarketService{
		Meta:  arena.Stamp(domain.KindObserver),
		ex:    ex,
		log:   log,
		runID: runID,
		cfg:   cfg,
	}
	s.SetTier(MarketTier)
	return s
}

func (s *MarketService) OnStart()  { s.refresh() }
func (s *MarketService) Update()   { s.refresh() }
func (s *MarketService) OnFinish() { s.refresh() }

func (s *MarketService) refresh() {
	symbols := s.ex.Symbols()
	snap := &Snapshot{
		Tick:     s.ex.Now(),
		Symbols:  symbols,
		Books:    make(map[string]BookView, len(symbols)),
		Holdings: make(map[domain.Key]domain.Holdings),
	}
	for _, sym := range symbols {
		snap.Books[sym] = s.bookView(sym)
	}
	for _, key := range s.ex.Agents() {
		if h, err := s.ex.Holdings(key); err == nil {
			snap.Holdings[key] = h
		}
	}
	s.current.Store(snap)
}

func (s *MarketService) bookView(symbol string) BookView {
	book, _ := s.ex.Book(symbol)
	product, _ := s.ex.Product(symbol)

	v := BookView{
		Symbol: symbol,
		Bids:   s.levels(book.TopBids(s.cfg.Depth)),
		Asks:   s.levels(book.TopAsks(s.cfg.Depth)),
		Volume: product.Volume(),
		Trades: product.TradeCount(),
	}
	if len(v.Bids) > 0 && len(v.Asks) > 0 {
		spread := v.Asks[0].Price.Sub(v.Bids[0].Price)
		v.Spread = &spread
	}
	if t, ok := product.LastTrade(); ok {
		v.LastPrice = &t.Price
	}
	return v
}

func (s *MarketService) levels(in []engine.PriceLevel) []Level {
	out := make([]Level, len(in))
	for i, l := range in {
		out[i] = Level{
			Price:  decimal.NewFromInt(int64(l.Price)).Mul(s.ex.TickSize()),
			Size:   l.TotalSize,
			Orders: l.OrderCount,
		}
	}
	return out
}

// Snapshot returns the latest snapshot, or nil before the run starts.
func (s *MarketService) Snapshot() *Snapshot {
	return s.current.Load()
}

// Tick returns the tick of the latest snapshot.
func (s *MarketService) Tick() domain.Tick {
	if snap := s.current.Load(); snap != nil {
		return snap.Tick
	}
	return 0
}

// Books returns every book in listing order.
func (s *MarketService) Books() []BookView {
	snap := s.current.Load()
	if snap == nil {
		return []BookView{}
	}
	out := make([]BookView, 0, len(snap.Symbols))
	for _, sym := range snap.Symbols {
		out = append(out, snap.Books[sym])
	}
	return out
}

// Book returns the view of one book.
func (s *MarketService) Book(symbol string) (BookView, error) {
	snap := s.current.Load()
	if snap == nil {
		return BookView{}, domain.ErrUnknownSymbol
	}
	v, ok := snap.Books[domain.NormalizeSymbol(symbol)]
	if !ok {
		return BookView{}, domain.ErrUnknownSymbol
	}
	return v, nil
}

// Holdings returns an agent's holdings as of the latest snapshot.
func (s *MarketService) Holdings(agent domain.Key) (domain.Holdings, error) {
	snap := s.current.Load()
	if snap == nil {
		return domain.Holdings{}, domain.ErrAgentNotRegistered
	}
	h, ok := snap.Holdings[agent]
	if !ok {
		return domain.Holdings{}, domain.ErrAgentNotRegistered
	}
	return h, nil
}

// Trades returns the recorded trades of symbol. The log trails the
// simulation by the recorder's write queue.
func (s *MarketService) Trades(ctx context.Context, symbol string) ([]domain.Trade, error) {
	if _, err := s.Book(symbol); err != nil {
		return nil, err
	}
	return s.log.List(ctx, s.runID, symbol)
}
