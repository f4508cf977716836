package api

import (
	"errors"
	"fmt"
)

// ErrNetwork wraps transport-level failures (connect, timeout, aborted
// body). Reads failing with ErrNetwork surface a retryable error state;
// writes trigger rollback of the optimistic change.
var ErrNetwork = errors.New("network failure")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
