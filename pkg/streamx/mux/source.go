package mux

import (
	"context"

	"github.com/haivivi/streamx/pkg/streamx"
)

// Source is how a submitted stream produces chunks. It is either Pull or
// Push, fixed when the stream is submitted.
type Source interface {
	// open returns the producer to hand to the manager and a start
	// function to run once the stream holds a slot.
	open(ctx context.Context, cfg streamx.Config) (streamx.Producer, func())
	// discard releases a source that will never be admitted.
	discard(err error)
}

type pullSource struct {
	p streamx.Producer
}

// Pull wraps a producer the manager pulls from directly.
func Pull(p streamx.Producer) Source {
	return pullSource{p: p}
}

func (s pullSource) open(context.Context, streamx.Config) (streamx.Producer, func()) {
	return s.p, func() {}
}

func (s pullSource) discard(err error) {
	_ = s.p.CloseWithError(err)
}

type pushSource struct {
	size int
	fn   func(context.Context, *streamx.StreamBuilder) error
}

// Push wraps a function that pushes chunks into a StreamBuilder of size
// slots. fn runs on its own goroutine only after the stream is admitted; a
// nil return ends the stream, an error aborts it. A size of 0 uses the
// manager's Config.BuilderSize().
func Push(size int, fn func(ctx context.Context, sb *streamx.StreamBuilder) error) Source {
	return pushSource{size: size, fn: fn}
}

func (s pushSource) open(ctx context.Context, cfg streamx.Config) (streamx.Producer, func()) {
	size := s.size
	if size <= 0 {
		size = cfg.BuilderSize()
	}
	sb := streamx.NewStreamBuilder(size)
	start := func() {
		go func() {
			if err := s.fn(ctx, sb); err != nil {
				_ = sb.Abort(err)
				return
			}
			_ = sb.Done()
		}()
	}
	return sb.Stream(), start
}

func (pushSource) discard(error) {}
