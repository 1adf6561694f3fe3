package replay

import (
	"sync"

	"github.com/haivivi/streamx/pkg/streamx"
)

// Sequence replays materialized chunks in order. It implements
// streamx.Producer; every Next returns a copy so callers cannot alter the
// cached entry.
type Sequence struct {
	chunks []*streamx.Chunk

	mu  sync.Mutex
	pos int
	err error
}

func newSequence(chunks []*streamx.Chunk) *Sequence {
	return &Sequence{chunks: chunks}
}

// Len returns the number of chunks in the sequence.
func (s *Sequence) Len() int {
	return len(s.chunks)
}

func (s *Sequence) Next() (*streamx.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.pos >= len(s.chunks) {
		return nil, streamx.ErrDone
	}
	c := s.chunks[s.pos].Clone()
	s.pos++
	return c, nil
}

func (s *Sequence) Close() error {
	return s.CloseWithError(streamx.ErrDone)
}

func (s *Sequence) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	return nil
}

var _ streamx.Producer = (*Sequence)(nil)
