package models

import "errors"

// Error kinds. Every ledger error wraps exactly one of these so callers can
// tell a state conflict apart from a permission failure or a funding problem.
var (
	KindInvalidInput      = errors.New("invalid input")
	KindNotFound          = errors.New("not found")
	KindForbidden         = errors.New("forbidden")
	KindConflict          = errors.New("conflict")
	KindInsufficientFunds = errors.New("insufficient funds")
	KindWindowExpired     = errors.New("window expired")
	KindPaused            = errors.New("paused")
)

var kinds = []error{
	KindInvalidInput,
	KindNotFound,
	KindForbidden,
	KindConflict,
	KindInsufficientFunds,
	KindWindowExpired,
	KindPaused,
}

// ledgerError is a sentinel that carries its kind.
type ledgerError struct {
	kind error
	msg  string
}

func (e *ledgerError) Error() string { return e.msg }

func (e *ledgerError) Unwrap() error { return e.kind }

// NewError creates a sentinel error of the given kind.
func NewError(kind error, msg string) error {
	return &ledgerError{kind: kind, msg: msg}
}

// KindOf returns the kind wrapped by err, or nil for errors outside the
// taxonomy (infrastructure failures).
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Shared errors used by more than one ledger.
var (
	ErrReentrantCall   = NewError(KindConflict, "reentrant call into ledger")
	ErrInvalidAddress  = NewError(KindInvalidInput, "invalid address")
	ErrInvalidAmount   = NewError(KindInvalidInput, "amount must be positive")
	ErrContractPaused  = NewError(KindPaused, "contract is paused")
	ErrMissingRole     = NewError(KindForbidden, "caller is missing the required role")
	ErrNothingToChange = NewError(KindConflict, "nothing to change")
)
