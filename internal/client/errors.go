package client

import (
	"errors"
	"fmt"
)

// TransportError reports a failed exchange with the job service: the request
// could not be sent, or the server answered with a non-2xx status.
// Status is zero when no response was received.
type TransportError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotReadyError is returned when a job result is requested before the server
// has produced it (HTTP 202). It is expected, not exceptional.
type NotReadyError struct {
	JobID   string
	Message string
}

func (e *NotReadyError) Error() string {
	return e.Message
}

// IsNotReady reports whether err is, or wraps, a NotReadyError.
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}

// StatusCode returns the HTTP status carried by a TransportError in err's
// chain, or zero.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

func httpStatusMessage(status int) string {
	return fmt.Sprintf("HTTP %d", status)
}
