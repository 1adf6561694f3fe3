package health

import (
	"time"

	"github.com/haivivi/streamx/pkg/jsontime"
)

// Snapshot is a point-in-time aggregate of all tracked streams.
type Snapshot struct {
	At                    jsontime.Milli `json:"at" yaml:"at"`
	ActiveStreams         int            `json:"active_streams" yaml:"active_streams"`
	TotalStreamsProcessed int            `json:"total_streams_processed" yaml:"total_streams_processed"`
	// AverageStreamDuration is in seconds.
	AverageStreamDuration float64 `json:"average_stream_duration" yaml:"average_stream_duration"`
	// ErrorRate is the fraction of streams that needed at least one retry.
	ErrorRate float64 `json:"error_rate" yaml:"error_rate"`
	// ThroughputEstimate is bytes per second since the earliest stream start.
	ThroughputEstimate float64 `json:"throughput_estimate" yaml:"throughput_estimate"`
}

// SnapshotSource is anything that can produce a Snapshot, typically a
// stream manager.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// Snapshot computes the aggregate view. active is the live stream count,
// which only the stream registry knows. It takes the read lock only and has
// no side effects.
func (c *Collector) Snapshot(active int) Snapshot {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		finished    = c.pruned.streams
		tracked     = c.pruned.streams
		retried     = c.pruned.retried
		totalBytes  = c.pruned.bytes
		durationSum = c.pruned.durationSum
	)
	for _, m := range c.streams {
		tracked++
		totalBytes += m.BytesReceived
		if m.RetryCount > 0 {
			retried++
		}
		if m.EndTime != nil {
			finished++
			durationSum += m.EndTime.Sub(m.StartTime)
		}
	}

	s := Snapshot{
		At:                    jsontime.Milli(now),
		ActiveStreams:         active,
		TotalStreamsProcessed: finished,
	}
	if finished > 0 {
		s.AverageStreamDuration = durationSum.Seconds() / float64(finished)
	}
	if tracked > 0 {
		s.ErrorRate = float64(retried) / float64(tracked)
	}
	if !c.earliest.IsZero() {
		if elapsed := now.Sub(c.earliest); elapsed > 0 {
			s.ThroughputEstimate = float64(totalBytes) / elapsed.Seconds()
		}
	}
	return s
}

// SourceFunc adapts a function to SnapshotSource.
type SourceFunc func() Snapshot

func (f SourceFunc) Snapshot() Snapshot { return f() }

// Since returns how long ago the snapshot was taken.
func (s Snapshot) Since() time.Duration {
	return time.Since(s.At.Time())
}
