package marketdata

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"perp-ledger/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	pairs   PairSource
	feed    PriceFeed
	writer  PriceWriter
	history PriceHistory
	bus     *Bus
}

// NewHandler serves pairs and prices. writer and history may be nil when the
// configured feed is read only.
func NewHandler(pairs PairSource, feed PriceFeed, writer PriceWriter, history PriceHistory, bus *Bus) *Handler {
	return &Handler{pairs: pairs, feed: feed, writer: writer, history: history, bus: bus}
}

func (h *Handler) Pairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.pairs.Pairs(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pairs)
}

type priceResponse struct {
	Price   *Price  `json:"price"`
	History []Price `json:"history,omitempty"`
}

// Price returns the latest mark price and, with ?history=N, the last N ticks.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	symbol := NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	p, ok, err := h.feed.MarkPrice(r.Context(), symbol)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "no price for " + symbol})
		return
	}
	resp := priceResponse{Price: &p}
	if raw := r.URL.Query().Get("history"); raw != "" && h.history != nil {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "history must be between 1 and 1000"})
			return
		}
		resp.History, err = h.history.History(r.Context(), symbol, limit)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

var candleIntervals = map[string]time.Duration{
	"1s":  time.Second,
	"5s":  5 * time.Second,
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
}

// Candles aggregates the stored tick history, ?interval= (default 1m) and
// ?limit= (default 100).
func (h *Handler) Candles(w http.ResponseWriter, r *http.Request) {
	symbol := NormalizeSymbol(chi.URLParam(r, "symbol"))
	if h.history == nil {
		httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{Error: "price history is not kept"})
		return
	}
	q := r.URL.Query()
	raw := q.Get("interval")
	if raw == "" {
		raw = "1m"
	}
	interval, ok := candleIntervals[raw]
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "unsupported interval " + raw})
		return
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	ticks, err := h.history.History(r.Context(), symbol, 100000)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	candles := trimCandles(AggregateCandles(ticks, interval), limit)
	if candles == nil {
		candles = []Candle{}
	}
	httputil.WriteJSON(w, http.StatusOK, candles)
}

type setPriceRequest struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TS     int64  `json:"ts"`
}

// SetPrice accepts ticks from the trusted price publisher.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{Error: "price feed is read only"})
		return
	}
	var req setPriceRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := NormalizeSymbol(req.Symbol)
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if symbol == "" || err != nil || !price.IsPositive() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol and positive price are required"})
		return
	}
	at := time.Now().UTC()
	if req.TS > 0 {
		at = time.UnixMilli(req.TS).UTC()
	}
	if err := Push(r.Context(), h.writer, h.bus, symbol, price, at); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, Price{Symbol: symbol, Value: price, At: at})
}

// Push stores a tick and announces it on bus when one is given.
func Push(ctx context.Context, writer PriceWriter, bus *Bus, symbol string, price decimal.Decimal, at time.Time) error {
	if err := writer.SetPrice(ctx, symbol, price, at); err != nil {
		return err
	}
	if bus != nil {
		bus.Publish(Event{Type: EventPrice, Data: Price{Symbol: symbol, Value: price, At: at}})
	}
	return nil
}
