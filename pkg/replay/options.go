package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/haivivi/streamx/pkg/jsontime"
)

var (
	// ErrNotFound is returned by Persister.Load for missing or expired
	// snapshots.
	ErrNotFound = errors.New("replay: not found")

	// ErrTooLarge is returned when a stream exceeds MaxChunks or MaxBytes
	// while being materialized.
	ErrTooLarge = errors.New("replay: stream too large to cache")
)

// Options bounds the cache.
type Options struct {
	// TTL applies when GetOrCreate is called with ttl <= 0.
	TTL jsontime.Duration `yaml:"ttl,omitempty" json:"ttl,omitzero"`

	// MaxChunks and MaxBytes bound one materialized stream.
	MaxChunks int   `yaml:"max_chunks,omitempty" json:"max_chunks,omitzero"`
	MaxBytes  int64 `yaml:"max_bytes,omitempty" json:"max_bytes,omitzero"`
}

// DefaultOptions returns a 10 minute TTL and a 10000 chunk, 64 MiB limit.
func DefaultOptions() Options {
	return Options{
		TTL:       jsontime.Duration(10 * time.Minute),
		MaxChunks: 10000,
		MaxBytes:  64 << 20,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.TTL == 0 {
		o.TTL = d.TTL
	}
	if o.MaxChunks == 0 {
		o.MaxChunks = d.MaxChunks
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = d.MaxBytes
	}
	return o
}

// Validate reports invalid options.
func (o Options) Validate() error {
	if o.TTL < 0 || o.MaxChunks < 0 || o.MaxBytes < 0 {
		return fmt.Errorf("replay: invalid options: negative limit in %+v", o)
	}
	return nil
}
