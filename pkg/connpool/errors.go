package connpool

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionExhausted is wrapped by the error Connect returns after
	// MaxRetries consecutive failures.
	ErrConnectionExhausted = errors.New("connpool: connection retries exhausted")

	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("connpool: pool closed")

	// ErrUnsupportedScheme is returned by DefaultDialer for unknown
	// endpoint schemes.
	ErrUnsupportedScheme = errors.New("connpool: unsupported scheme")
)

// ExhaustedError reports an endpoint that failed every attempt. It matches
// both ErrConnectionExhausted and the last dial error with errors.Is.
type ExhaustedError struct {
	Endpoint string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("connpool: %s: %d attempts failed, last error: %v", e.Endpoint, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrConnectionExhausted, e.Last}
}
