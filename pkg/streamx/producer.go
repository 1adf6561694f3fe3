package streamx

import (
	"errors"
	"io"
	"iter"
	"net/http"
	"sync"
	"sync/atomic"
)

// Producer is the pull side of a stream. Next returns chunks in order and
// ErrDone (or io.EOF) once exhausted; it may block. Close and CloseWithError
// stop the producer and must unblock a pending Next.
type Producer interface {
	Next() (*Chunk, error)
	Close() error
	CloseWithError(error) error
}

// IsDone reports whether err marks the normal end of a stream.
func IsDone(err error) bool {
	return errors.Is(err, ErrDone) || errors.Is(err, io.EOF)
}

// FromSlice returns a producer yielding chunks in order.
func FromSlice(chunks ...*Chunk) Producer {
	return &sliceProducer{chunks: chunks}
}

type sliceProducer struct {
	mu     sync.Mutex
	chunks []*Chunk
	pos    int
	err    error
}

func (p *sliceProducer) Next() (*Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.pos >= len(p.chunks) {
		return nil, ErrDone
	}
	c := p.chunks[p.pos]
	p.pos++
	return c, nil
}

func (p *sliceProducer) Close() error {
	return p.CloseWithError(ErrDone)
}

func (p *sliceProducer) CloseWithError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
	return nil
}

// FromSeq returns a producer pulling from seq. The sequence is driven with
// iter.Pull, so it runs lazily one chunk per Next call.
func FromSeq(seq iter.Seq2[*Chunk, error]) Producer {
	next, stop := iter.Pull2(seq)
	return &seqProducer{next: next, stop: stop}
}

type seqProducer struct {
	mu      sync.Mutex
	next    func() (*Chunk, error, bool)
	stop    func()
	stopped bool
	err     error

	closeErr atomic.Pointer[error]
}

func (p *seqProducer) Next() (*Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if err := p.closeErr.Load(); err != nil {
		return nil, p.finishLocked(*err)
	}
	c, err, ok := p.next()
	switch {
	case !ok:
		return nil, p.finishLocked(ErrDone)
	case err != nil:
		return nil, p.finishLocked(err)
	}
	if err := p.closeErr.Load(); err != nil {
		// Closed while the sequence was producing; drop the value.
		return nil, p.finishLocked(*err)
	}
	return c, nil
}

func (p *seqProducer) finishLocked(err error) error {
	if p.err == nil {
		p.err = err
	}
	if !p.stopped {
		p.stopped = true
		p.stop()
	}
	return p.err
}

func (p *seqProducer) Close() error {
	return p.CloseWithError(ErrDone)
}

// CloseWithError never waits for a Next in progress; the sequence is stopped
// by whichever of the two calls holds the lock last.
func (p *seqProducer) CloseWithError(err error) error {
	p.closeErr.CompareAndSwap(nil, &err)
	if p.mu.TryLock() {
		defer p.mu.Unlock()
		p.finishLocked(*p.closeErr.Load())
	}
	return nil
}

// Sink receives the framed bytes of one stream, one Write per emitted chunk,
// in order. Close is called exactly once when the stream ends.
type Sink interface {
	Write([]byte) error
	Close() error
}

// WriterSink adapts w to a Sink. When w is an http.Flusher every frame is
// flushed right away; when w is an io.Closer it is closed with the sink.
func WriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *writerSink) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (s *writerSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CollectSink is an in-memory Sink that keeps every frame.
type CollectSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	done   chan struct{}
}

// NewCollectSink creates an empty CollectSink.
func NewCollectSink() *CollectSink {
	return &CollectSink{done: make(chan struct{})}
}

func (s *CollectSink) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.frames = append(s.frames, append([]byte(nil), b...))
	return nil
}

func (s *CollectSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Done is closed when the sink is closed.
func (s *CollectSink) Done() <-chan struct{} {
	return s.done
}

// Frames returns a copy of the frames written so far.
func (s *CollectSink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// Chunks decodes every frame written so far.
func (s *CollectSink) Chunks() ([]*Chunk, error) {
	frames := s.Frames()
	out := make([]*Chunk, 0, len(frames))
	for _, b := range frames {
		f, err := DecodeFrame(b)
		if err != nil {
			return nil, err
		}
		out = append(out, f.Chunk)
	}
	return out, nil
}

// Discard is a Sink that drops everything.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Write([]byte) error { return nil }
func (discardSink) Close() error       { return nil }
