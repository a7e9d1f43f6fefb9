package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/efreitasn/marketsim/internal/metrics"
)

// Deps are the components the router serves.
type Deps struct {
	Market     MarketReader
	Control    Controller
	Stream     http.HandlerFunc // websocket endpoint; nil disables /ws
	Logger     *slog.Logger
	ReadyCheck func() bool // nil means always ready
}

// NewRouter creates a chi router with all routes registered, panic
// recovery, request ids, request logging and metrics middleware.
func NewRouter(d Deps) chi.Router {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogging(logger))
	r.Use(metrics.Middleware)

	marketH := NewMarketHandler(d.Market)
	controlH := NewControlHandler(d.Control)

	// Health and metrics.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.ReadyCheck != nil && !d.ReadyCheck() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// Market data.
	r.Get("/books", marketH.ListBooks)
	r.Get("/books/{symbol}", marketH.GetBook)
	r.Get("/trades/{symbol}", marketH.GetTrades)
	r.Get("/agents/{kind}/{id}/holdings", marketH.GetHoldings)

	// Simulation control.
	r.Route("/sim", func(r chi.Router) {
		r.Get("/state", controlH.State)
		r.Post("/pause", controlH.Pause)
		r.Post("/resume", controlH.Resume)
		r.Post("/step", controlH.Step)
		r.Post("/kill", controlH.Kill)
	})

	if d.Stream != nil {
		r.Get("/ws", d.Stream)
	}

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
