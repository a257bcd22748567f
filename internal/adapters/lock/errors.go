package lock

import "errors"

var (
	ErrLockTimeout     = errors.New("lock wait timed out")
	ErrLockUnavailable = errors.New("lock backend unavailable")
	ErrLockLost        = errors.New("lock no longer held")
	ErrEmptyKey        = errors.New("lock key is empty")
)
