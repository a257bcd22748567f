package service

import (
	"errors"
	"fmt"
)

// Sentinel kinds returned by the spin orchestrator.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnknownBox           = errors.New("unknown box")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrStoreUnavailable     = errors.New("balance store unavailable")
	ErrInvalidConfiguration = errors.New("invalid box configuration")
	ErrSpinInProgress       = errors.New("spin with this idempotency key is in progress")
	ErrIdempotencyConflict  = errors.New("idempotency key belongs to another customer")
	ErrLedgerNotFound       = errors.New("ledger entry not found")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
)

// InsufficientCreditsError reports the price and the balance at check time.
type InsufficientCreditsError struct {
	Required int64
	Current  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%v: required %d, current %d", ErrInsufficientCredits, e.Required, e.Current)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
