package liquidation

import (
	"net/http"

	"perp-ledger/internal/httputil"
	"perp-ledger/internal/model"
)

type Handler struct {
	scanner *Scanner
}

func NewHandler(scanner *Scanner) *Handler {
	return &Handler{scanner: scanner}
}

// Sweep runs one sweep on demand and reports what it liquidated.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	liquidated, err := h.scanner.Sweep(r.Context())
	if liquidated == nil {
		liquidated = []model.LiquidatedPosition{}
	}
	resp := map[string]any{"liquidated": liquidated}
	if err != nil {
		resp["error"] = err.Error()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
