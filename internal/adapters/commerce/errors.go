package commerce

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers transport failures, auth failures and 5xx.
	ErrUnavailable = errors.New("commerce backend unavailable")
	// ErrRejected covers every other non-2xx answer.
	ErrRejected    = errors.New("commerce backend rejected request")
	ErrInvalidBody = errors.New("commerce backend returned an unreadable body")
)

// APIError carries the HTTP status of a failed call. Kind is ErrUnavailable
// or ErrRejected.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Kind       error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Body)
	}
	return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Kind }

// classify maps a non-2xx status to an error kind.
func classify(status int) error {
	switch {
	case status == 401, status == 403, status >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
