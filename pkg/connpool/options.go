package connpool

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/haivivi/streamx/pkg/jsontime"
)

// Options tunes reconnection.
type Options struct {
	InitialDelay  jsontime.Duration `yaml:"initial_delay,omitempty" json:"initial_delay,omitzero"`
	MaxDelay      jsontime.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitzero"`
	BackoffFactor float64           `yaml:"backoff_factor,omitempty" json:"backoff_factor,omitzero"`
	// MaxRetries is the total number of attempts before giving up.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitzero"`
	// Timeout bounds each attempt.
	Timeout jsontime.Duration `yaml:"timeout,omitempty" json:"timeout,omitzero"`
	// MaxJitter is the exclusive upper bound of the random delay added to
	// every backoff wait.
	MaxJitter jsontime.Duration `yaml:"max_jitter,omitempty" json:"max_jitter,omitzero"`
}

// DefaultOptions returns 100ms initial delay doubling up to 30s, five
// attempts of at most 10s each, and up to 1s of jitter.
func DefaultOptions() Options {
	return Options{
		InitialDelay:  jsontime.Duration(100 * time.Millisecond),
		MaxDelay:      jsontime.Duration(30 * time.Second),
		BackoffFactor: 2,
		MaxRetries:    5,
		Timeout:       jsontime.Duration(10 * time.Second),
		MaxJitter:     jsontime.Duration(time.Second),
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.InitialDelay == 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.BackoffFactor == 0 {
		o.BackoffFactor = d.BackoffFactor
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxJitter == 0 {
		o.MaxJitter = d.MaxJitter
	}
	return o
}

// Validate reports invalid options.
func (o Options) Validate() error {
	var errs []error
	if o.InitialDelay < 0 || o.MaxDelay < 0 || o.Timeout < 0 || o.MaxJitter < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if o.MaxDelay < o.InitialDelay {
		errs = append(errs, fmt.Errorf("max_delay %v is below initial_delay %v", o.MaxDelay, o.InitialDelay))
	}
	if o.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("backoff_factor must be at least 1, got %v", o.BackoffFactor))
	}
	if o.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be positive, got %d", o.MaxRetries))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("connpool: invalid options: %w", err)
	}
	return nil
}

// Backoff returns the wait after the failed attempt with the given 0-based
// index, before jitter: min(MaxDelay, InitialDelay * BackoffFactor^attempt).
func Backoff(o Options, attempt int) time.Duration {
	d := float64(o.InitialDelay.Std()) * math.Pow(o.BackoffFactor, float64(attempt))
	if maxd := float64(o.MaxDelay.Std()); d > maxd || math.IsInf(d, 0) || math.IsNaN(d) {
		return o.MaxDelay.Std()
	}
	return time.Duration(d)
}
