package tesla

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials is terminal: the refresh token was rejected and
// polling cannot continue until the operator reconfigures the exporter.
var ErrInvalidCredentials = errors.New("refresh token rejected by auth endpoint")

// TransientError wraps network-level failures and retryable upstream
// statuses. Callers retry with backoff instead of surfacing an outage.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient upstream error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// DecodeError marks a malformed upstream response. The previous snapshot is
// left untouched; only the failure counter moves.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s response: %v", e.Endpoint, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// StatusError is a non-2xx upstream answer that is neither an auth rejection
// nor retryable.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Code)
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
