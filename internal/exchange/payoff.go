package exchange

import (
	"math/rand/v2"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

// Payoff is the economic model behind a product.
type Payoff interface {
	// Step advances the model by one tick and returns the per-unit
	// dividend due, zero if none.
	Step(p *Product, now domain.Tick) decimal.Decimal
	// Payout returns the terminal liquidation value per unit.
	Payout(p *Product) decimal.Decimal
}

// LastTrade pays out the last traded price, or zero without trades.
type LastTrade struct{}

func (LastTrade) Step(*Product, domain.Tick) decimal.Decimal { return decimal.Zero }

func (LastTrade) Payout(p *Product) decimal.Decimal {
	if t, ok := p.LastTrade(); ok {
		return t.Price
	}
	return decimal.Zero
}

// Fixed pays out a constant value.
type Fixed struct {
	Value decimal.Decimal
}

func (Fixed) Step(*Product, domain.Tick) decimal.Decimal { return decimal.Zero }

func (f Fixed) Payout(*Product) decimal.Decimal { return f.Value }

// StockConfig parameterizes a company stock.
type StockConfig struct {
	Value       float64 // starting company value
	Mu          float64 // drift per step
	Sigma       float64 // step size
	BankruptAt  float64 // value at or below which the company goes bankrupt
	UpdateEvery int64   // ticks between steps
	Seed        uint64
}

// DefaultStockConfig returns the single-company scenario defaults.
func DefaultStockConfig() StockConfig {
	return StockConfig{
		Value:       100,
		Mu:          0.001,
		Sigma:       0.02,
		BankruptAt:  10,
		UpdateEvery: 10,
		Seed:        1,
	}
}

// Stock models a company whose value follows a seeded binary random walk.
// Once the value hits the bankruptcy threshold it stops moving.
type Stock struct {
	cfg      StockConfig
	rng      *rand.Rand
	value    float64
	bankrupt bool
	bonded   bool
}

// NewStock creates a stock payoff.
func NewStock(cfg StockConfig) *Stock {
	if cfg.UpdateEvery <= 0 {
		cfg.UpdateEvery = 1
	}
	return &Stock{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		value: cfg.Value,
	}
}

// Value returns the current company value.
func (s *Stock) Value() float64 { return s.value }

// UpdateEvery returns the number of ticks between value updates.
func (s *Stock) UpdateEvery() int64 { return s.cfg.UpdateEvery }

// Bankrupt reports whether the company went bankrupt.
func (s *Stock) Bankrupt() bool { return s.bankrupt }

func (s *Stock) Step(_ *Product, now domain.Tick) decimal.Decimal {
	if s.bankrupt || int64(now)%s.cfg.UpdateEvery != 0 {
		return decimal.Zero
	}
	w := -1.0
	if s.rng.Float64() > 0.5 {
		w = 1
	}
	s.value += s.value * (s.cfg.Mu + s.cfg.Sigma*w)
	if s.value <= s.cfg.BankruptAt {
		s.value = s.cfg.BankruptAt
		s.bankrupt = true
	}
	return decimal.Zero
}

// Payout is the whole part of the company value. Shareholders get
// nothing if the company went bankrupt with bonds outstanding.
func (s *Stock) Payout(*Product) decimal.Decimal {
	if s.bankrupt && s.bonded {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.value))
}

// BondConfig parameterizes a corporate bond.
type BondConfig struct {
	Par         decimal.Decimal
	Coupon      decimal.Decimal
	CouponEvery int64       // 0 pays the coupon with the principal at the end
	Maturity    domain.Tick // -1 never matures
}

// DefaultBondConfig returns the single-company scenario defaults.
func DefaultBondConfig() BondConfig {
	return BondConfig{
		Par:         decimal.NewFromInt(100),
		Coupon:      decimal.NewFromInt(1),
		CouponEvery: 50,
		Maturity:    -1,
	}
}

// Bond is debt issued by a company stock. The stock is referenced by key
// and resolved through the arena.
type Bond struct {
	cfg    BondConfig
	arena  *sim.Arena
	stock  domain.Key
	cached *decimal.Decimal
}

// NewBond creates a bond on the given stock product. The stock's payoff
// must be a *Stock; it is marked as having bonds outstanding.
func NewBond(arena *sim.Arena, stock *Product, cfg BondConfig) *Bond {
	if s, ok := stock.Payoff().(*Stock); ok {
		s.bonded = true
	}
	return &Bond{cfg: cfg, arena: arena, stock: stock.Key()}
}

// Stock returns the key of the underlying stock product.
func (b *Bond) Stock() domain.Key { return b.stock }

func (b *Bond) underlying() (*Product, *Stock) {
	p, ok := sim.Lookup[*Product](b.arena, b.stock)
	if !ok {
		return nil, nil
	}
	s, _ := p.Payoff().(*Stock)
	return p, s
}

// matured reports whether the bond stopped paying coupons.
func (b *Bond) matured(now domain.Tick) bool {
	if b.cfg.Maturity > -1 && now >= b.cfg.Maturity {
		return true
	}
	_, s := b.underlying()
	return s != nil && s.bankrupt
}

func (b *Bond) Step(_ *Product, now domain.Tick) decimal.Decimal {
	if b.cfg.CouponEvery <= 0 || int64(now)%b.cfg.CouponEvery != 0 || b.matured(now) {
		return decimal.Zero
	}
	return b.cfg.Coupon
}

// Payout returns par while the company is solvent, plus the coupon when
// coupons are paid only at the end. After bankruptcy bondholders recover
// the company value spread over the bonds outstanding, capped at par.
// The value is fixed once the bond matures.
func (b *Bond) Payout(p *Product) decimal.Decimal {
	if b.cached != nil {
		return *b.cached
	}
	stockProduct, s := b.underlying()

	var v decimal.Decimal
	switch {
	case s == nil || !s.bankrupt:
		v = b.cfg.Par
		if b.cfg.CouponEvery == 0 {
			v = v.Add(b.cfg.Coupon)
		}
	default:
		v = b.cfg.Par
		ex := p.Exchange()
		if ex == nil {
			break
		}
		bonds := ex.TotalOutstanding(p.Symbol())
		if bonds <= 0 {
			break
		}
		shares := ex.TotalOutstanding(stockProduct.Symbol())
		recovery := decimal.NewFromFloat(s.value).
			Mul(decimal.NewFromInt(shares)).
			Div(decimal.NewFromInt(bonds)).
			Round(2)
		v = decimal.Min(recovery, b.cfg.Par)
	}

	if b.matured(p.arena.Now()) {
		b.cached = &v
	}
	return v
}
