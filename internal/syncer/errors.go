package syncer

import (
	"errors"
	"fmt"
)

// Error taxonomy of the sync engine. Every failure is reported through Result,
// these values let callers tell them apart with errors.Is.
var (
	ErrConfiguration = errors.New("sync is not configured")
	ErrUnauthorized  = errors.New("user is not authorized to sync; contact the administrator for access")
	ErrTransport     = errors.New("transport error")
	ErrOffline       = errors.New("offline")
)

// HTTPError is returned for non-2xx backend responses
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status code: %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status code: %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return ErrTransport
}
