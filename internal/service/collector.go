package service

import (
	"math"
	"sort"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/metrics"
	"github.com/efreitasn/marketsim/internal/sim"
)

// CollectorTier runs the collector alongside the snapshot.
const CollectorTier = 90

// Labeler is implemented by agents that report a strategy label.
type Labeler interface {
	Label() string
}

// UnlabeledAgent groups agents without a Label method.
const UnlabeledAgent = "unlabeled"

// PnLStats summarizes the marked PnL of the agents sharing a label.
type PnLStats struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Window int             // ticks averaged for volume per tick
	Marker exchange.Marker // how positions are valued for PnL
}

// DefaultCollectorConfig returns a 20-tick window marked to mid.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{Window: 20, Marker: exchange.MarkMid}
}

type volumeWindow struct {
	last    uint64
	samples []uint64
	next    int
	full    bool
}

func (w *volumeWindow) push(v uint64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *volumeWindow) mean() float64 {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	var sum uint64
	for _, v := range w.samples[:n] {
		sum += v
	}
	return float64(sum) / float64(n)
}

// Collector exports top of book, windowed volume and PnL statistics of
// one exchange as Prometheus gauges.
type Collector struct {
	sim.Meta
	ex     *exchange.Exchange
	cfg    CollectorConfig
	volume map[string]*volumeWindow
	pnl    map[string]PnLStats
}

// NewCollector creates a collector for ex.
func NewCollector(arena *sim.Arena, ex *exchange.Exchange, cfg CollectorConfig) *Collector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultCollectorConfig().Window
	}
	c := &Collector{
		Meta:   arena.Stamp(domain.KindObserver),
		ex:     ex,
		cfg:    cfg,
		volume: make(map[string]*volumeWindow),
		pnl:    make(map[string]PnLStats),
	}
	c.SetTier(CollectorTier)
	return c
}

// Update samples the exchange.
func (c *Collector) Update() {
	for _, sym := range c.ex.Symbols() {
		c.collectBook(sym)
	}
	c.collectPnL()
}

func (c *Collector) collectBook(symbol string) {
	book, _ := c.ex.Book(symbol)
	product, _ := c.ex.Product(symbol)
	tick := c.ex.TickSize().InexactFloat64()

	if lv := book.TopBids(1); len(lv) > 0 {
		metrics.BestBid.WithLabelValues(symbol).Set(float64(lv[0].Price) * tick)
		metrics.BestBidSize.WithLabelValues(symbol).Set(float64(lv[0].TotalSize))
	} else {
		metrics.BestBidSize.WithLabelValues(symbol).Set(0)
	}
	if lv := book.TopAsks(1); len(lv) > 0 {
		metrics.BestAsk.WithLabelValues(symbol).Set(float64(lv[0].Price) * tick)
		metrics.BestAskSize.WithLabelValues(symbol).Set(float64(lv[0].TotalSize))
	} else {
		metrics.BestAskSize.WithLabelValues(symbol).Set(0)
	}
	if t, ok := product.LastTrade(); ok {
		metrics.LastPrice.WithLabelValues(symbol).Set(t.Price.InexactFloat64())
	}

	w, ok := c.volume[symbol]
	if !ok {
		w = &volumeWindow{samples: make([]uint64, c.cfg.Window)}
		c.volume[symbol] = w
	}
	total := product.Volume()
	w.push(total - w.last)
	w.last = total
	metrics.VolumePerTick.WithLabelValues(symbol).Set(w.mean())
}

func (c *Collector) collectPnL() {
	byLabel := make(map[string][]float64)
	for _, key := range c.ex.Agents() {
		pnl, err := c.ex.MarkedPnL(key, c.cfg.Marker)
		if err != nil {
			continue
		}
		label := UnlabeledAgent
		if a, ok := c.ex.Agent(key); ok {
			if l, ok := a.(Labeler); ok {
				label = l.Label()
			}
		}
		byLabel[label] = append(byLabel[label], pnl.InexactFloat64())
	}

	for label, values := range byLabel {
		st := summarize(values)
		c.pnl[label] = st
		metrics.AgentPnL.WithLabelValues(label, "mean").Set(st.Mean)
		metrics.AgentPnL.WithLabelValues(label, "std").Set(st.Std)
		metrics.AgentPnL.WithLabelValues(label, "min").Set(st.Min)
		metrics.AgentPnL.WithLabelValues(label, "max").Set(st.Max)
	}
}

// summarize returns the population statistics of values, which must be
// non-empty.
func summarize(values []float64) PnLStats {
	st := PnLStats{Count: len(values), Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range values {
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - st.Mean) * (v - st.Mean)
	}
	st.Std = math.Sqrt(sq / float64(len(values)))
	return st
}

// VolumePerTick returns the windowed mean volume of symbol.
func (c *Collector) VolumePerTick(symbol string) float64 {
	if w, ok := c.volume[domain.NormalizeSymbol(symbol)]; ok {
		return w.mean()
	}
	return 0
}

// PnL returns the latest statistics for label.
func (c *Collector) PnL(label string) (PnLStats, bool) {
	st, ok := c.pnl[label]
	return st, ok
}

// Labels returns the agent labels seen so far, sorted.
func (c *Collector) Labels() []string {
	out := make([]string, 0, len(c.pnl))
	for l := range c.pnl {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
