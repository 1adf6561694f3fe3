package streamx

import (
	"errors"
	"fmt"
)

var (
	// ErrDone is returned by Producer.Next at the end of a stream.
	ErrDone = errors.New("streamx: done")

	// ErrResourceExhausted is returned by Manager.CreateStream when every
	// concurrency slot is taken.
	ErrResourceExhausted = errors.New("streamx: resource exhausted")

	// ErrDuplicateStream is returned when a stream id was already used by
	// the manager.
	ErrDuplicateStream = errors.New("streamx: duplicate stream id")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("streamx: manager closed")

	// ErrCancelled is the cause recorded for cancelled streams.
	ErrCancelled = errors.New("streamx: stream cancelled")

	// ErrChunkTimeout is the cause recorded when a producer exceeds the
	// per-chunk processing budget.
	ErrChunkTimeout = errors.New("streamx: chunk timeout")

	// ErrInvalidChunk is returned for nil chunks or chunks without a part.
	ErrInvalidChunk = errors.New("streamx: invalid chunk")
)

// ProducerError wraps a fault raised by a stream's producer.
type ProducerError struct {
	StreamID string
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("streamx: producer of stream %q failed: %v", e.StreamID, e.Err)
}

func (e *ProducerError) Unwrap() error {
	return e.Err
}

// SerializationError reports a chunk that could not be encoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("streamx: serialize chunk: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// errorKind names err for the terminal ErrorPart.
func errorKind(err error) string {
	var (
		pe *ProducerError
		se *SerializationError
	)
	switch {
	case errors.Is(err, ErrChunkTimeout):
		return "chunk_timeout"
	case errors.As(err, &se):
		return "serialization"
	case errors.As(err, &pe):
		return "producer"
	default:
		return "internal"
	}
}
