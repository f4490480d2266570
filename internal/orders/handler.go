package orders

import (
	"net/http"
	"strconv"
	"strings"

	"perp-ledger/internal/httputil"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/model"
	"perp-ledger/internal/store"
	"perp-ledger/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxFillLimit = 500

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type placeFillRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Size     string `json:"size"`
	Leverage int    `json:"leverage"`
}

func (h *Handler) PlaceFill(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeFillRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	side, ok := types.ParseSide(strings.TrimSpace(req.Side))
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "side must be LONG, SHORT, BUY or SELL"})
		return
	}
	size, err := decimal.NewFromString(strings.TrimSpace(req.Size))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid size"})
		return
	}
	leverage := req.Leverage
	if leverage == 0 {
		leverage = 1
	}
	res, err := h.svc.PlaceFill(r.Context(), FillRequest{
		UserID:   userID,
		Symbol:   req.Symbol,
		Side:     side,
		Size:     size,
		Leverage: leverage,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request, userID string) {
	positionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if positionID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "position id is required"})
		return
	}
	res, err := h.svc.ClosePosition(r.Context(), userID, positionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request, userID string) {
	views, err := h.svc.GetOpenPositions(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request, userID string) {
	summary, err := h.svc.GetAccountSummary(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request, userID string) {
	pf, err := h.svc.Portfolio(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pf)
}

// Orders lists the caller's fills, newest first.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	filter := model.FillFilter{Limit: store.DefaultFillLimit}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := types.OrderStatus(strings.ToUpper(raw))
		if !status.Valid() {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "unknown status " + raw})
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("symbol")); raw != "" {
		filter.Symbol = marketdata.NormalizeSymbol(raw)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxFillLimit {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		filter.Limit = n
	}
	fills, err := h.svc.Fills(r.Context(), userID, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fills)
}

// Halted lists accounts stopped after an invariant violation.
func (h *Handler) Halted(w http.ResponseWriter, r *http.Request) {
	halts, err := h.svc.HaltedAccounts(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, halts)
}

func (h *Handler) ResetAccount(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := h.svc.ResetAccount(r.Context(), userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
