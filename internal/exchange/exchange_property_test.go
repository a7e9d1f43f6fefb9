package exchange

import (
	"testing"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Feature: market-simulator, Property 7: Cash and position conservation
// Validates: trades move cash and units between accounts without creating
// or destroying either; only order fees leave the system.

func TestProperty_Conservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{TickSize: decimal.New(5, -2)}
		if rapid.Bool().Draw(t, "withFee") {
			cfg.OrderFee = decimal.New(1, -2)
		}
		symbols := []string{"AAAA", "BBBB"}
		s, ex := newTestMarket(t, cfg, symbols...)

		agents := make([]*testAgent, rapid.IntRange(2, 5).Draw(t, "agents"))
		for i := range agents {
			agents[i] = newTestAgent(ex)
		}

		ticks := rapid.IntRange(1, 15).Draw(t, "ticks")
		for tick := 0; tick < ticks; tick++ {
			n := rapid.IntRange(0, 10).Draw(t, "orders")
			for i := 0; i < n; i++ {
				a := rapid.SampledFrom(agents).Draw(t, "agent")
				sym := rapid.SampledFrom(symbols).Draw(t, "symbol")
				side := rapid.SampledFrom([]domain.Side{domain.Buy, domain.Sell}).Draw(t, "side")
				size := rapid.Uint64Range(1, 20).Draw(t, "size")
				if rapid.IntRange(0, 5).Draw(t, "kind") == 0 {
					if _, err := ex.MarketOrder(a.Key(), sym, side, size, domain.NoExpiry); err != nil {
						t.Fatalf("MarketOrder: %v", err)
					}
					continue
				}
				cents := rapid.Int64Range(500, 1500).Draw(t, "cents")
				frames := rapid.SampledFrom([]int{domain.NoExpiry, 1, 3}).Draw(t, "frames")
				if _, err := ex.LimitOrder(a.Key(), sym, side, decimal.New(cents, -2), size, frames); err != nil {
					t.Fatalf("LimitOrder: %v", err)
				}
			}
			s.Advance()

			if got, want := ex.TotalCash(), ex.FeesCollected().Neg(); !got.Equal(want) {
				t.Fatalf("tick %d: total cash %s, want %s", tick, got, want)
			}
			for _, sym := range symbols {
				if p := ex.TotalPosition(sym); p != 0 {
					t.Fatalf("tick %d: net %s position %d, want 0", tick, sym, p)
				}
			}
		}

		s.Finish()
		for _, sym := range symbols {
			for _, a := range agents {
				if q := ex.Holding(a.Key(), sym); q != 0 {
					t.Fatalf("agent %s still holds %d %s after payout", a.Key(), q, sym)
				}
			}
		}
		// A single payout price per symbol keeps liquidation zero-sum.
		if got, want := ex.TotalCash(), ex.FeesCollected().Neg(); !got.Equal(want) {
			t.Fatalf("after payout: total cash %s, want %s", got, want)
		}
	})
}
