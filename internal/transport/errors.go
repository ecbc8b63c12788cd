package transport

import (
	"fmt"
	"net/http"
)

// TransportError reports a failed backend request. StatusCode is 0 when no
// response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsUnauthorized reports a rejected token; the caller should clear it
func (e *TransportError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsServerError reports a 5xx response
func (e *TransportError) IsServerError() bool {
	return e.StatusCode >= 500
}
