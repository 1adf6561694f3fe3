package connpool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"
)

// RetryFunc observes a failed attempt before the reconnector waits delay.
// attempt is 1-based.
type RetryFunc func(endpoint string, attempt int, delay time.Duration, err error)

// ReconnectorOption configures a Reconnector.
type ReconnectorOption func(*Reconnector)

// WithOnRetry registers fn to observe every backoff wait.
func WithOnRetry(fn RetryFunc) ReconnectorOption {
	return func(r *Reconnector) { r.onRetry = fn }
}

// WithJitter replaces the uniform jitter source. fn receives MaxJitter.
func WithJitter(fn func(max time.Duration) time.Duration) ReconnectorOption {
	return func(r *Reconnector) { r.jitter = fn }
}

// WithReconnectorLogger sets the logger. Defaults to slog.Default().
func WithReconnectorLogger(l *slog.Logger) ReconnectorOption {
	return func(r *Reconnector) { r.logger = l }
}

// Reconnector dials endpoints with bounded retries and backoff.
type Reconnector struct {
	opts    Options
	dial    Dialer
	logger  *slog.Logger
	onRetry RetryFunc
	jitter  func(time.Duration) time.Duration
	sleep   func(context.Context, time.Duration) error
}

// NewReconnector creates a Reconnector. Zero option fields take defaults;
// a nil dial uses DefaultDialer.
func NewReconnector(opts Options, dial Dialer, ropts ...ReconnectorOption) (*Reconnector, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		dial = DefaultDialer
	}
	r := &Reconnector{
		opts:   opts,
		dial:   dial,
		logger: slog.Default(),
		jitter: uniformJitter,
		sleep:  sleepCtx,
	}
	for _, o := range ropts {
		o(r)
	}
	return r, nil
}

// Options returns the effective options.
func (r *Reconnector) Options() Options {
	return r.opts
}

// Connect dials endpoint until an attempt succeeds or MaxRetries attempts
// have failed, in which case the error is an *ExhaustedError. Each attempt
// is bounded by Timeout; a timed out attempt counts as a failure.
// Cancelling ctx stops at once with ctx's error.
func (r *Reconnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	var last error
	for attempt := range r.opts.MaxRetries {
		actx, cancel := context.WithTimeout(ctx, r.opts.Timeout.Std())
		conn, err := r.dial(actx, endpoint)
		cancel()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("connpool: connected after retries", "endpoint", endpoint, "attempts", attempt+1)
			}
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connpool: connect %s: %w", endpoint, context.Cause(ctx))
		}
		last = err
		if attempt == r.opts.MaxRetries-1 {
			break
		}

		delay := Backoff(r.opts, attempt) + r.jitter(r.opts.MaxJitter.Std())
		r.logger.Debug("connpool: attempt failed", "endpoint", endpoint, "attempt", attempt+1, "delay", delay, "error", err)
		if r.onRetry != nil {
			r.onRetry(endpoint, attempt+1, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("connpool: connect %s: %w", endpoint, err)
		}
	}
	r.logger.Warn("connpool: endpoint exhausted", "endpoint", endpoint, "attempts", r.opts.MaxRetries, "error", last)
	return nil, &ExhaustedError{Endpoint: endpoint, Attempts: r.opts.MaxRetries, Last: last}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
