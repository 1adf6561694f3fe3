package streamx

import (
	"errors"
	"fmt"
	"time"

	"github.com/haivivi/streamx/pkg/jsontime"
)

// DedupScope selects which chunks can suppress each other.
type DedupScope string

const (
	// DedupPerStream suppresses repeats within one stream only.
	DedupPerStream DedupScope = "stream"
	// DedupGlobal suppresses repeats across all streams of a manager.
	DedupGlobal DedupScope = "global"
)

const (
	DefaultChunkSize       = 4096
	DefaultTimeoutMs       = 30_000
	DefaultDedupHorizon    = 5 * time.Minute
	DefaultDedupMaxEntries = 10_000
	DefaultMetricsRetained = 10_000
)

// Config configures a Manager. It is copied at construction and never
// mutated afterwards.
type Config struct {
	MaxConcurrentStreams int  `yaml:"max_concurrent_streams" json:"max_concurrent_streams"`
	ChunkSize            int  `yaml:"chunk_size,omitempty" json:"chunk_size,omitzero"`
	RetryAttempts        int  `yaml:"retry_attempts,omitempty" json:"retry_attempts,omitzero"`
	TimeoutMs            int  `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitzero"`
	EnableCompression    bool `yaml:"enable_compression,omitempty" json:"enable_compression,omitzero"`
	EnableDeduplication  bool `yaml:"enable_deduplication,omitempty" json:"enable_deduplication,omitzero"`
	AdaptiveBuffering    bool `yaml:"adaptive_buffering,omitempty" json:"adaptive_buffering,omitzero"`

	// DedupHorizon is how long a chunk hash suppresses repeats.
	DedupHorizon jsontime.Duration `yaml:"dedup_horizon,omitempty" json:"dedup_horizon,omitzero"`
	// DedupMaxEntries bounds the dedup cache; the oldest entries go first.
	DedupMaxEntries int `yaml:"dedup_max_entries,omitempty" json:"dedup_max_entries,omitzero"`
	// DedupScope defaults to DedupPerStream.
	DedupScope DedupScope `yaml:"dedup_scope,omitempty" json:"dedup_scope,omitzero"`
	// ChunkTimeoutMs bounds the wait for a single chunk. Zero disables it.
	ChunkTimeoutMs int `yaml:"chunk_timeout_ms,omitempty" json:"chunk_timeout_ms,omitzero"`
	// MetricsRetention caps how many finished streams keep their metrics.
	MetricsRetention int `yaml:"metrics_retention,omitempty" json:"metrics_retention,omitzero"`
}

// DefaultConfig returns a Config suitable for a single process serving a
// handful of concurrent generations.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 8,
		EnableCompression:    true,
		EnableDeduplication:  true,
	}.WithDefaults()
}

// WithDefaults returns c with zero-valued tunables filled in.
func (c Config) WithDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.DedupHorizon == 0 {
		c.DedupHorizon = jsontime.Duration(DefaultDedupHorizon)
	}
	if c.DedupMaxEntries == 0 {
		c.DedupMaxEntries = DefaultDedupMaxEntries
	}
	if c.DedupScope == "" {
		c.DedupScope = DedupPerStream
	}
	if c.MetricsRetention == 0 {
		c.MetricsRetention = DefaultMetricsRetained
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrentStreams <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_streams must be positive, got %d", c.MaxConcurrentStreams))
	}
	if c.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk_size must not be negative, got %d", c.ChunkSize))
	}
	if c.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry_attempts must not be negative, got %d", c.RetryAttempts))
	}
	if c.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("timeout_ms must not be negative, got %d", c.TimeoutMs))
	}
	if c.ChunkTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("chunk_timeout_ms must not be negative, got %d", c.ChunkTimeoutMs))
	}
	if c.DedupHorizon < 0 {
		errs = append(errs, fmt.Errorf("dedup_horizon must not be negative, got %v", c.DedupHorizon))
	}
	switch c.DedupScope {
	case "", DedupPerStream, DedupGlobal:
	default:
		errs = append(errs, fmt.Errorf("unknown dedup_scope %q", c.DedupScope))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("streamx: invalid config: %w", err)
	}
	return nil
}

// Timeout returns TimeoutMs as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ChunkTimeout returns ChunkTimeoutMs as a duration.
func (c Config) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutMs) * time.Millisecond
}

// BuilderSize is the buffer size push sources should use. With adaptive
// buffering it holds roughly 64KiB worth of ChunkSize chunks instead of a
// fixed 32.
func (c Config) BuilderSize() int {
	if !c.AdaptiveBuffering || c.ChunkSize <= 0 {
		return 32
	}
	return min(max(65536/c.ChunkSize, 4), 1024)
}
