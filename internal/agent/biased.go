package agent

import (
	"math/rand/v2"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

// BiasedQuoter quotes a company stock around its fundamental value,
// shifted by a private bias drawn at construction. It requotes once per
// stock update period at a fixed phase and stops quoting once the
// company goes bankrupt.
type BiasedQuoter struct {
	Base
	stock domain.Key
	arena *sim.Arena
	bias  float64
	edge  float64
	size  uint64
	phase int64
}

// NewBiasedQuoter creates a quoter on the stock product with the given
// key. The seed fixes its bias, size and phase.
func NewBiasedQuoter(arena *sim.Arena, stock domain.Key, updateEvery int64, seed uint64) *BiasedQuoter {
	rng := rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	if updateEvery <= 0 {
		updateEvery = 1
	}
	return &BiasedQuoter{
		Base:  NewBase(arena),
		stock: stock,
		arena: arena,
		bias:  rng.Float64()*10 - 5,
		edge:  2,
		size:  1 + rng.Uint64N(29),
		phase: rng.Int64N(updateEvery),
	}
}

// Label names the strategy for metrics.
func (q *BiasedQuoter) Label() string { return "biased" }

func (q *BiasedQuoter) Update() {
	q.Base.Update()

	product, ok := sim.Lookup[*exchange.Product](q.arena, q.stock)
	if !ok {
		return
	}
	stock, ok := product.Payoff().(*exchange.Stock)
	if !ok {
		return
	}
	if stock.Bankrupt() {
		q.CancelAll()
		return
	}

	every := stock.UpdateEvery()
	if int64(q.arena.Now())%every != q.phase {
		return
	}
	value := stock.Value()
	bid := decimal.NewFromFloat(max(0, value-q.edge+q.bias)).Round(2)
	ask := decimal.NewFromFloat(value + q.edge + q.bias).Round(2)
	frames := int(every)

	ex, ok := q.Exchange()
	if !ok {
		return
	}
	if bid.GreaterThanOrEqual(ex.TickSize()) {
		q.Bid(bid, q.size, WithSymbol(product.Symbol()), WithExpiry(frames))
	}
	if ask.GreaterThanOrEqual(ex.TickSize()) {
		q.Ask(ask, q.size, WithSymbol(product.Symbol()), WithExpiry(frames))
	}
}
