package repository

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrNotFound     = errors.New("ledger entry not found")
	ErrDuplicate    = errors.New("ledger entry already exists")
	ErrInvalidLimit = errors.New("invalid ledger limit")
	ErrInvalidEntry = errors.New("invalid ledger entry")
)
