package streamx

import (
	"errors"

	"github.com/haivivi/streamx/pkg/buffer"
)

// StreamBuilder is the push side of a Producer. A goroutine feeds chunks
// with Add and finishes with Done or Abort while the consumer pulls from
// Stream(). Add blocks once size chunks are waiting, pacing the pusher.
type StreamBuilder struct {
	bb *buffer.BlockBuffer[*Chunk]
}

// NewStreamBuilder returns a builder buffering up to size chunks.
func NewStreamBuilder(size int) *StreamBuilder {
	return &StreamBuilder{bb: buffer.BlockN[*Chunk](size)}
}

// Add appends chunks in order. It fails once the consumer has closed the
// stream or the builder was finished.
func (sb *StreamBuilder) Add(chunks ...*Chunk) error {
	for _, c := range chunks {
		if c == nil || c.Part == nil {
			return ErrInvalidChunk
		}
		if err := sb.bb.Add(c); err != nil {
			return err
		}
	}
	return nil
}

// Text is shorthand for Add(NewTextChunk(s)).
func (sb *StreamBuilder) Text(s string) error {
	return sb.Add(NewTextChunk(s))
}

// Done ends the stream normally. Buffered chunks are still delivered.
func (sb *StreamBuilder) Done() error {
	return sb.bb.CloseWrite()
}

// Abort ends the stream with err; the consumer's next pull fails with it.
func (sb *StreamBuilder) Abort(err error) error {
	return sb.bb.CloseWithError(err)
}

// Stream returns the pull side.
func (sb *StreamBuilder) Stream() Producer {
	return (*builtStream)(sb)
}

type builtStream StreamBuilder

func (s *builtStream) Next() (*Chunk, error) {
	c, err := s.bb.Next()
	if errors.Is(err, buffer.ErrIteratorDone) {
		return nil, ErrDone
	}
	return c, err
}

func (s *builtStream) Close() error {
	return s.bb.CloseWithError(ErrDone)
}

func (s *builtStream) CloseWithError(err error) error {
	return s.bb.CloseWithError(err)
}
