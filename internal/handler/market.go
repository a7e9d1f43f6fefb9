package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/service"
)

// MarketReader is the read side of the simulation.
type MarketReader interface {
	Tick() domain.Tick
	Books() []service.BookView
	Book(symbol string) (service.BookView, error)
	Holdings(agent domain.Key) (domain.Holdings, error)
	Trades(ctx context.Context, symbol string) ([]domain.Trade, error)
}

// maxTradesLimit bounds the limit query parameter of GET /trades/{symbol}.
const maxTradesLimit = 10_000

// MarketHandler handles HTTP requests for market data.
type MarketHandler struct {
	market MarketReader
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(market MarketReader) *MarketHandler {
	return &MarketHandler{market: market}
}

type booksResponse struct {
	Tick  domain.Tick        `json:"tick"`
	Books []service.BookView `json:"books"`
}

type holdingsResponse struct {
	Agent     string           `json:"agent"`
	Tick      domain.Tick      `json:"tick"`
	Cash      decimal.Decimal  `json:"cash"`
	Positions map[string]int64 `json:"positions"`
}

type tradesResponse struct {
	Symbol string         `json:"symbol"`
	Trades []domain.Trade `json:"trades"`
}

// ListBooks handles GET /books.
func (h *MarketHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, booksResponse{
		Tick:  h.market.Tick(),
		Books: h.market.Books(),
	})
}

// GetBook handles GET /books/{symbol}.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.market.Book(chi.URLParam(r, "symbol"))
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, book)
}

// GetHoldings handles GET /agents/{kind}/{id}/holdings.
func (h *MarketHandler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "id must be a non-negative integer")
		return
	}
	key := domain.Key{Kind: domain.Kind(chi.URLParam(r, "kind")), ID: id}

	holdings, err := h.market.Holdings(key)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, holdingsResponse{
		Agent:     key.String(),
		Tick:      h.market.Tick(),
		Cash:      holdings.Cash,
		Positions: holdings.Positions,
	})
}

// GetTrades handles GET /trades/{symbol}. The optional limit query
// parameter returns only the most recent trades.
func (h *MarketHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTradesLimit {
			WriteError(w, http.StatusBadRequest, "validation_error",
				"limit must be between 1 and "+strconv.Itoa(maxTradesLimit))
			return
		}
		limit = n
	}

	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	trades, err := h.market.Trades(r.Context(), symbol)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	WriteJSON(w, http.StatusOK, tradesResponse{Symbol: symbol, Trades: trades})
}

// mapMarketError maps domain errors to HTTP error responses.
func mapMarketError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnknownSymbol):
		WriteError(w, http.StatusNotFound, "symbol_not_found", "Symbol not found")
	case errors.Is(err, domain.ErrAgentNotRegistered):
		WriteError(w, http.StatusNotFound, "agent_not_found", "Agent not registered")
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "validation_error", ve.Message)
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
