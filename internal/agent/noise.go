package agent

import (
	"math/rand/v2"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

// NoiseConfig parameterizes a NoiseTrader.
type NoiseConfig struct {
	Seed       uint64
	Activity   float64         // probability of trading on a given tick
	MarketProb float64         // probability that a trade is a market order
	MaxSize    uint64          // sizes are drawn from [1, MaxSize]
	Spread     decimal.Decimal // limit prices land within mid ± Spread
	RefPrice   decimal.Decimal // used when the book is empty
	Expiry     int             // frames to expire for limit orders
}

// DefaultNoiseConfig returns a trader acting on a third of the ticks.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		Seed:       1,
		Activity:   0.3,
		MarketProb: 0.05,
		MaxSize:    20,
		Spread:     decimal.NewFromInt(2),
		RefPrice:   decimal.NewFromInt(10),
		Expiry:     20,
	}
}

// NoiseTrader posts random orders around the mid price. Two traders with
// the same seed make the same decisions given the same market.
type NoiseTrader struct {
	Base
	cfg NoiseConfig
	rng *rand.Rand
}

// NewNoiseTrader creates a seeded noise trader.
func NewNoiseTrader(arena *sim.Arena, cfg NoiseConfig) *NoiseTrader {
	def := DefaultNoiseConfig()
	if cfg.MaxSize == 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.RefPrice.IsZero() {
		cfg.RefPrice = def.RefPrice
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = def.Expiry
	}
	return &NoiseTrader{
		Base: NewBase(arena),
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
	}
}

// Label names the strategy for metrics.
func (n *NoiseTrader) Label() string { return "noise" }

func (n *NoiseTrader) Update() {
	n.Base.Update()
	if n.rng.Float64() >= n.cfg.Activity {
		return
	}
	ex, ok := n.Exchange()
	if !ok {
		return
	}
	syms := ex.Symbols()
	if len(syms) == 0 {
		return
	}

	sym := syms[n.rng.IntN(len(syms))]
	side := domain.Buy
	if n.rng.IntN(2) == 0 {
		side = domain.Sell
	}
	size := 1 + n.rng.Uint64N(n.cfg.MaxSize)

	if n.rng.Float64() < n.cfg.MarketProb {
		n.MarketOrder(side, size, WithSymbol(sym))
		return
	}

	mid, err := ex.Mark(sym, exchange.MarkMid)
	if err != nil || !mid.IsPositive() {
		mid = n.cfg.RefPrice
	}
	offset := decimal.NewFromFloat(2*n.rng.Float64() - 1).Mul(n.cfg.Spread).Round(4)
	price := decimal.Max(mid.Add(offset), ex.TickSize())
	n.LimitOrder(side, price, size, WithSymbol(sym), WithExpiry(n.cfg.Expiry))
}
