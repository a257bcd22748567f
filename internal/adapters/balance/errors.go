package balance

import "errors"

var (
	ErrStoreUnavailable = errors.New("balance store unavailable")
	ErrInvalidInput     = errors.New("invalid balance input")
)
