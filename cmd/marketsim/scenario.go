package main

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/agent"
	"github.com/efreitasn/marketsim/internal/config"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/sim"
)

// newMarket creates the scheduler and exchange and populates them with
// the configured scenario. Nothing is started.
func newMarket(cfg *config.Config, logger *slog.Logger) (*sim.Scheduler, *exchange.Exchange, error) {
	sched := sim.New(sim.Config{
		Iterations:   cfg.Iterations,
		TickInterval: cfg.TickInterval,
		PollInterval: cfg.PollInterval,
		StartPaused:  cfg.StartPaused,
		Logger:       logger,
	})
	ex, err := exchange.New(sched.Arena(), exchange.Config{
		TickSize: cfg.TickSize,
		OrderFee: cfg.OrderFee,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create exchange: %w", err)
	}
	sched.Add(ex)

	switch cfg.Scenario {
	case config.ScenarioCompany:
		populateCompany(cfg, sched, ex)
	default:
		populateFixed(cfg, sched, ex)
	}
	return sched, ex, nil
}

func addAgent(sched *sim.Scheduler, ex *exchange.Exchange, a interface {
	sim.Entity
	exchange.Agent
}) {
	ex.RegisterAgent(a)
	sched.Add(a)
}

// populateFixed lists every symbol with a last-trade payoff, one quoter
// making a 7/13 market in all of them, and the noise traders.
func populateFixed(cfg *config.Config, sched *sim.Scheduler, ex *exchange.Exchange) {
	arena := sched.Arena()
	for _, sym := range cfg.Symbols {
		ex.RegisterProduct(exchange.NewProduct(arena, sym, nil))
	}
	addAgent(sched, ex, agent.NewFixedQuoter(arena, decimal.NewFromInt(7), decimal.NewFromInt(13), 100))
	addNoise(cfg, sched, ex, decimal.NewFromInt(10))
}

// populateCompany lists the first symbol as a company stock and, when a
// second symbol is configured, a bond on it. Biased quoters make the
// stock market around its fundamental value.
func populateCompany(cfg *config.Config, sched *sim.Scheduler, ex *exchange.Exchange) {
	arena := sched.Arena()

	stockCfg := exchange.DefaultStockConfig()
	stockCfg.Seed = cfg.Seed
	stock := exchange.NewProduct(arena, cfg.Symbols[0], exchange.NewStock(stockCfg))
	ex.RegisterProduct(stock)
	if len(cfg.Symbols) > 1 {
		bond := exchange.NewBond(arena, stock, exchange.DefaultBondConfig())
		ex.RegisterProduct(exchange.NewProduct(arena, cfg.Symbols[1], bond))
	}

	for i := 0; i < cfg.NoiseTraders; i++ {
		q := agent.NewBiasedQuoter(arena, stock.Key(), stockCfg.UpdateEvery, cfg.Seed+uint64(i))
		addAgent(sched, ex, q)
	}
	addNoise(cfg, sched, ex, decimal.NewFromFloat(stockCfg.Value))
}

func addNoise(cfg *config.Config, sched *sim.Scheduler, ex *exchange.Exchange, ref decimal.Decimal) {
	for i := 0; i < cfg.NoiseTraders; i++ {
		nc := agent.DefaultNoiseConfig()
		nc.Seed = cfg.Seed + uint64(i)
		nc.RefPrice = ref
		addAgent(sched, ex, agent.NewNoiseTrader(sched.Arena(), nc))
	}
}
