package api

import (
	"errors"
	"fmt"
)

// ServiceError reports a reachable service that answered with a non-2xx status.
type ServiceError struct {
	Op         string
	StatusCode int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: service returned HTTP %d", e.Op, e.StatusCode)
}

// TransportError reports a failure to reach the service, including timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
