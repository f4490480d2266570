package types

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionNotOpen     = errors.New("position not open")
	ErrInvariantViolation  = errors.New("ledger invariant violation")
	ErrAccountHalted       = errors.New("account halted")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrLockHeld            = errors.New("lock already held")
	ErrNotFound            = errors.New("not found")
)

// LedgerError is a typed rejection with a human readable reason. It unwraps
// to one of the sentinel errors above.
type LedgerError struct {
	Kind   error
	Reason string
}

func (e *LedgerError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *LedgerError) Unwrap() error {
	return e.Kind
}

func Validation(format string, args ...any) error {
	return &LedgerError{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

func Insufficient(format string, args ...any) error {
	return &LedgerError{Kind: ErrInsufficientBalance, Reason: fmt.Sprintf(format, args...)}
}

func PriceUnavailable(symbol string) error {
	return &LedgerError{Kind: ErrPriceUnavailable, Reason: "no price available for " + symbol}
}

func NotOpen(positionID string) error {
	return &LedgerError{Kind: ErrPositionNotOpen, Reason: "position " + positionID + " changed, please retry"}
}

func Halted(reason string) error {
	return &LedgerError{Kind: ErrAccountHalted, Reason: reason}
}

func Invariant(format string, args ...any) error {
	return &LedgerError{Kind: ErrInvariantViolation, Reason: fmt.Sprintf(format, args...)}
}

// Reason returns the human readable part of err, falling back to err.Error().
func Reason(err error) string {
	var le *LedgerError
	if errors.As(err, &le) && le.Reason != "" {
		return le.Reason
	}
	return err.Error()
}
