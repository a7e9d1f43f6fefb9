// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts completed scheduler ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_ticks_total",
		Help: "Total number of scheduler ticks executed",
	})

	// TickDuration observes the wall time of one full update pass.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketsim_tick_duration_seconds",
		Help:    "Wall-clock duration of one scheduler tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// TradesTotal counts executed trades per symbol.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_trades_total",
		Help: "Total number of trades executed",
	}, []string{"symbol"})

	// VolumeTotal tracks cumulative traded size per symbol.
	VolumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_volume_total",
		Help: "Cumulative traded size",
	}, []string{"symbol"})

	// OrdersPlacedTotal counts accepted orders by side.
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_orders_placed_total",
		Help: "Total number of orders accepted by an exchange",
	}, []string{"side"})

	// OrdersCancelledTotal counts successful cancellations.
	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_orders_cancelled_total",
		Help: "Total number of orders cancelled by their sender",
	})

	// SelfTradesTotal counts crossings between orders of the same agent.
	SelfTradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_self_trades_total",
		Help: "Crossings skipped because buyer and seller were the same agent",
	})

	// EventsDroppedTotal counts events not delivered because a
	// subscriber's buffer was full.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_events_dropped_total",
		Help: "Events dropped on full subscriber buffers",
	})

	// BestBid, BestAsk and LastPrice track top of book per symbol.
	BestBid = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_best_bid",
		Help: "Best bid price",
	}, []string{"symbol"})
	BestAsk = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_best_ask",
		Help: "Best ask price",
	}, []string{"symbol"})
	BestBidSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_best_bid_size",
		Help: "Total size resting at the best bid",
	}, []string{"symbol"})
	BestAskSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_best_ask_size",
		Help: "Total size resting at the best ask",
	}, []string{"symbol"})
	LastPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_last_traded_price",
		Help: "Last traded price",
	}, []string{"symbol"})

	// VolumePerTick is the windowed mean of traded size per tick.
	VolumePerTick = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_volume_per_tick",
		Help: "Mean traded size per tick over the collector window",
	}, []string{"symbol"})

	// AgentPnL summarizes mid-marked PnL per agent label.
	AgentPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketsim_agent_pnl",
		Help: "Mid-marked PnL statistics per agent label",
	}, []string{"label", "stat"})

	// TradeLogWrites counts trade-log batches by outcome.
	TradeLogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_tradelog_writes_total",
		Help: "Trade-log batch writes by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketsim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
