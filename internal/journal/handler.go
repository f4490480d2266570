package journal

import (
	"net/http"
	"strconv"

	"perp-ledger/internal/httputil"
)

type Handler struct {
	j *SQLite
}

func NewHandler(j *SQLite) *Handler {
	return &Handler{j: j}
}

// History lists the caller's closed and liquidated positions.
func (h *Handler) History(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	out, err := h.j.List(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if out == nil {
		out = []Outcome{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
