package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/haivivi/streamx/pkg/buffer"
)

// Telemetry receives snapshots pushed by a Reporter.
type Telemetry interface {
	Push(ctx context.Context, s Snapshot) error
}

// TelemetryFunc adapts a function to Telemetry.
type TelemetryFunc func(ctx context.Context, s Snapshot) error

func (f TelemetryFunc) Push(ctx context.Context, s Snapshot) error { return f(ctx, s) }

// LogTelemetry writes each snapshot as one structured log record.
func LogTelemetry(logger *slog.Logger) Telemetry {
	if logger == nil {
		logger = slog.Default()
	}
	return TelemetryFunc(func(ctx context.Context, s Snapshot) error {
		logger.InfoContext(ctx, "health: snapshot",
			"active", s.ActiveStreams,
			"processed", s.TotalStreamsProcessed,
			"avg_duration_s", s.AverageStreamDuration,
			"error_rate", s.ErrorRate,
			"throughput_bps", s.ThroughputEstimate,
		)
		return nil
	})
}

// HTTPTelemetry POSTs each snapshot as JSON to URL.
type HTTPTelemetry struct {
	URL    string
	Client *http.Client
}

func (h *HTTPTelemetry) Push(ctx context.Context, s Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("health: marshal snapshot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("health: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health: push snapshot: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health: push snapshot: status %s", resp.Status)
	}
	return nil
}

// Reporter pushes a snapshot to a Telemetry consumer on a fixed interval
// and keeps the most recent snapshots in memory.
type Reporter struct {
	src      SnapshotSource
	dst      Telemetry
	interval time.Duration
	history  *buffer.RingBuffer[Snapshot]
	logger   *slog.Logger
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithHistory sets how many snapshots History retains (default 64).
func WithHistory(n int) ReporterOption {
	return func(r *Reporter) { r.history = buffer.RingN[Snapshot](n) }
}

// WithReporterLogger sets the logger used for push failures.
func WithReporterLogger(l *slog.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = l }
}

// NewReporter creates a Reporter. A non-positive interval defaults to 10s.
func NewReporter(src SnapshotSource, dst Telemetry, interval time.Duration, opts ...ReporterOption) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	r := &Reporter{
		src:      src,
		dst:      dst,
		interval: interval,
		history:  buffer.RingN[Snapshot](64),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report takes one snapshot, records it and pushes it.
func (r *Reporter) Report(ctx context.Context) error {
	s := r.src.Snapshot()
	r.history.Add(s)
	if r.dst == nil {
		return nil
	}
	return r.dst.Push(ctx, s)
}

// Run reports every interval until ctx is done. Push failures are logged
// and do not stop the loop.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Report(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "health: telemetry push failed", "error", err)
			}
		}
	}
}

// History returns the retained snapshots, oldest first.
func (r *Reporter) History() []Snapshot {
	return r.history.Values()
}
