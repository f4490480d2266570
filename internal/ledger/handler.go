package ledger

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"perp-ledger/internal/httputil"
	"perp-ledger/internal/model"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type depositRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

type withdrawRequest struct {
	Amount    string `json:"amount"`
	ToAddress string `json:"to_address"`
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, userID string) {
	var req depositRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	metadata := map[string]string{"source": SourceTransfer}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		metadata["reference"] = ref
	}
	rec, err := h.svc.Deposit(r.Context(), userID, amount, metadata)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transaction": rec, "new_balance": rec.BalanceAfter})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, userID string) {
	var req withdrawRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	toAddress := strings.TrimSpace(req.ToAddress)
	if toAddress == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "to_address is required"})
		return
	}
	rec, err := h.svc.Withdraw(r.Context(), userID, amount, toAddress)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transaction": rec, "new_balance": rec.BalanceAfter})
}

// Transactions supports ?type=, ?since= (RFC3339) and ?limit= filters.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	f := model.TransactionFilter{
		Type:      types.TransactionType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
		RelatedID: strings.TrimSpace(q.Get("related_id")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		f.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "since must be RFC3339"})
			return
		}
		f.Since = since
	}
	txs, err := h.svc.Transactions(r.Context(), userID, f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

func (h *Handler) FaucetInfo(w http.ResponseWriter, r *http.Request, userID string) {
	info, err := h.svc.FaucetInfo(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	history, err := h.svc.FaucetHistory(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if history == nil {
		history = []model.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"faucet": info, "history": history})
}

func (h *Handler) ClaimFaucet(w http.ResponseWriter, r *http.Request, userID string) {
	claim, err := h.svc.ClaimFaucet(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claim)
}
