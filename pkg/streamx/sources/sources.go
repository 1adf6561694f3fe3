// Package sources provides streamx producers backed by generative
// backends: OpenAI-compatible chat completions, Google Gemini, and a
// deterministic synthetic generator for load tests and demos.
package sources

import (
	"context"
	"errors"

	"github.com/haivivi/streamx/pkg/streamx"
)

var (
	// ErrTruncated is returned when the backend stopped at its token limit.
	ErrTruncated = errors.New("sources: output truncated")

	// ErrBlocked is returned when the backend refused or filtered the
	// output.
	ErrBlocked = errors.New("sources: output blocked")
)

// Generator pushes the chunks generated for prompt into sb. It returns nil
// when generation completed; it does not call sb.Done or sb.Abort itself.
type Generator interface {
	Generate(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error

func (f GeneratorFunc) Generate(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error {
	return f(ctx, sb, prompt)
}

// Open starts g on its own goroutine and returns the pull side. size is the
// builder capacity.
func Open(ctx context.Context, g Generator, prompt string, size int) streamx.Producer {
	sb := streamx.NewStreamBuilder(size)
	go run(ctx, g, sb, prompt)
	return sb.Stream()
}

// Pusher adapts g to the signature of mux.Push.
func Pusher(g Generator, prompt string) func(context.Context, *streamx.StreamBuilder) error {
	return func(ctx context.Context, sb *streamx.StreamBuilder) error {
		return g.Generate(ctx, sb, prompt)
	}
}

// Reopener returns a function for streamx.WithReopen that restarts g on
// prompt.
func Reopener(g Generator, prompt string, size int) func(context.Context) (streamx.Producer, error) {
	return func(ctx context.Context) (streamx.Producer, error) {
		return Open(context.WithoutCancel(ctx), g, prompt, size), nil
	}
}

func run(ctx context.Context, g Generator, sb *streamx.StreamBuilder, prompt string) {
	if err := g.Generate(ctx, sb, prompt); err != nil {
		_ = sb.Abort(err)
		return
	}
	_ = sb.Done()
}
