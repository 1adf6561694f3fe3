package sources

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/haivivi/streamx/pkg/streamx"
)

var _ Generator = (*Synthetic)(nil)

var defaultWords = strings.Fields(`the quick brown fox jumps over a lazy dog while
	streams of tokens flow through bounded slots toward eager sinks`)

// Synthetic generates pseudo-random text without a backend. The output
// depends only on Seed and the prompt, so runs are reproducible.
type Synthetic struct {
	// Chunks is how many chunks to emit. Zero emits 16.
	Chunks int `yaml:"chunks,omitempty" json:"chunks,omitzero"`
	// WordsPerChunk defaults to 3.
	WordsPerChunk int `yaml:"words_per_chunk,omitempty" json:"words_per_chunk,omitzero"`
	// Interval is the delay before each chunk.
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitzero"`
	// RepeatEvery makes every Nth chunk repeat the one before it.
	RepeatEvery int `yaml:"repeat_every,omitempty" json:"repeat_every,omitzero"`
	// FailAfter fails generation after that many chunks. Zero never fails.
	FailAfter int      `yaml:"fail_after,omitempty" json:"fail_after,omitzero"`
	Seed      uint64   `yaml:"seed,omitempty" json:"seed,omitzero"`
	Words     []string `yaml:"words,omitempty" json:"words,omitzero"`
}

func (s *Synthetic) Generate(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error {
	n := s.Chunks
	if n <= 0 {
		n = 16
	}
	per := s.WordsPerChunk
	if per <= 0 {
		per = 3
	}
	words := s.Words
	if len(words) == 0 {
		words = defaultWords
	}
	rng := rand.New(rand.NewPCG(s.Seed, xxhash.Sum64String(prompt)))

	var timer *time.Timer
	if s.Interval > 0 {
		timer = time.NewTimer(s.Interval)
		defer timer.Stop()
	}
	prev := ""
	for i := range n {
		if s.FailAfter > 0 && i == s.FailAfter {
			return fmt.Errorf("sources: synthetic failure after %d chunks", i)
		}
		if timer != nil {
			timer.Reset(s.Interval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		text := prev
		if s.RepeatEvery <= 0 || i == 0 || (i+1)%s.RepeatEvery != 0 {
			parts := make([]string, per)
			for j := range parts {
				parts[j] = words[rng.IntN(len(words))]
			}
			text = strings.Join(parts, " ") + " "
		}
		if err := sb.Add(&streamx.Chunk{Name: "synthetic", Part: streamx.Text(text)}); err != nil {
			return err
		}
		prev = text
	}
	return nil
}
