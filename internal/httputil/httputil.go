package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"perp-ledger/internal/types"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByKind = []struct {
	kind   error
	status int
	code   string
}{
	{types.ErrValidation, http.StatusBadRequest, "validation"},
	{types.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{types.ErrPriceUnavailable, http.StatusConflict, "price_unavailable"},
	{types.ErrPositionNotFound, http.StatusNotFound, "position_not_found"},
	{types.ErrNotFound, http.StatusNotFound, "not_found"},
	{types.ErrPositionNotOpen, http.StatusConflict, "position_not_open"},
	{types.ErrAccountHalted, http.StatusLocked, "account_halted"},
	{types.ErrCooldownActive, http.StatusTooManyRequests, "cooldown_active"},
	{types.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
}

// Status maps a ledger error onto an HTTP status and a stable error code.
func Status(err error) (int, string) {
	for _, s := range statusByKind {
		if errors.Is(err, s.kind) {
			return s.status, s.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// WriteError writes err with the status of its kind. Internal errors are not
// echoed back to the caller.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Status(err)
	msg := types.Reason(err)
	if errors.Is(err, types.ErrPositionNotFound) {
		msg = "position not found"
	}
	if code == "internal" {
		msg = "internal error"
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
