package health

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// StreamMetrics holds the counters of one stream. EndTime is set once, when
// the stream reaches a terminal state.
type StreamMetrics struct {
	StreamID         string     `json:"stream_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	BytesReceived    int64      `json:"bytes_received"`
	ChunksReceived   int64      `json:"chunks_received"`
	RetryCount       int        `json:"retry_count"`
	AverageChunkSize float64    `json:"average_chunk_size"`
	CompressionRatio *float64   `json:"compression_ratio,omitempty"`

	rawEmitted        int64
	compressedEmitted int64
}

// Duration returns EndTime-StartTime, or 0 while the stream is live.
func (m *StreamMetrics) Duration() time.Duration {
	if m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// pruned accumulates the contribution of metrics dropped by retention so
// snapshots stay cumulative.
type pruned struct {
	streams     int
	retried     int
	bytes       int64
	durationSum time.Duration
}

// Collector owns the metrics table.
type Collector struct {
	retain int
	now    func() time.Time

	mu       sync.RWMutex
	streams  map[string]*StreamMetrics
	finished []string
	pruned   pruned
	earliest time.Time
}

// NewCollector creates a Collector keeping at most retain finished streams
// (0 keeps all).
func NewCollector(retain int) *Collector {
	return &Collector{
		retain:  retain,
		now:     time.Now,
		streams: make(map[string]*StreamMetrics),
	}
}

// Begin creates the metrics of a newly admitted stream.
func (c *Collector) Begin(id string, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.streams[id]; ok {
		return
	}
	c.streams[id] = &StreamMetrics{StreamID: id, StartTime: start}
	if c.earliest.IsZero() || start.Before(c.earliest) {
		c.earliest = start
	}
}

// RecordReceived accounts one chunk of n bytes pulled from the producer.
func (c *Collector) RecordReceived(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.streams[id]
	if !ok || m.EndTime != nil {
		return
	}
	m.ChunksReceived++
	m.BytesReceived += int64(n)
	m.AverageChunkSize = float64(m.BytesReceived) / float64(m.ChunksReceived)
}

// RecordCompression accounts an emitted chunk whose payload went from raw to
// compressed bytes. Streams that never call it have no CompressionRatio.
func (c *Collector) RecordCompression(id string, raw, compressed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.streams[id]
	if !ok || m.EndTime != nil {
		return
	}
	m.rawEmitted += int64(raw)
	m.compressedEmitted += int64(compressed)
	if m.rawEmitted > 0 {
		r := float64(m.compressedEmitted) / float64(m.rawEmitted)
		m.CompressionRatio = &r
	}
}

// RecordRetry counts one producer retry.
func (c *Collector) RecordRetry(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.streams[id]; ok && m.EndTime == nil {
		m.RetryCount++
	}
}

// Finish sets the stream's EndTime. It returns false if the stream is
// unknown or already finished; the first EndTime is never overwritten.
func (c *Collector) Finish(id string, end time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.streams[id]
	if !ok || m.EndTime != nil {
		return false
	}
	m.EndTime = &end
	c.finished = append(c.finished, id)
	c.pruneLocked()
	return true
}

func (c *Collector) pruneLocked() {
	if c.retain <= 0 {
		return
	}
	for len(c.finished) > c.retain {
		id := c.finished[0]
		c.finished = c.finished[1:]
		m := c.streams[id]
		delete(c.streams, id)
		c.pruned.streams++
		c.pruned.bytes += m.BytesReceived
		c.pruned.durationSum += m.Duration()
		if m.RetryCount > 0 {
			c.pruned.retried++
		}
	}
}

// Metrics returns a copy of one stream's metrics.
func (c *Collector) Metrics(id string) (StreamMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.streams[id]
	if !ok {
		return StreamMetrics{}, false
	}
	return copyMetrics(m), true
}

// All returns copies of every tracked stream's metrics ordered by start
// time.
func (c *Collector) All() []StreamMetrics {
	c.mu.RLock()
	out := make([]StreamMetrics, 0, len(c.streams))
	for _, m := range c.streams {
		out = append(out, copyMetrics(m))
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b StreamMetrics) int {
		if n := a.StartTime.Compare(b.StartTime); n != 0 {
			return n
		}
		return strings.Compare(a.StreamID, b.StreamID)
	})
	return out
}

func copyMetrics(m *StreamMetrics) StreamMetrics {
	cp := *m
	if m.EndTime != nil {
		end := *m.EndTime
		cp.EndTime = &end
	}
	if m.CompressionRatio != nil {
		r := *m.CompressionRatio
		cp.CompressionRatio = &r
	}
	return cp
}

// Len returns the number of streams currently in the table.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.streams)
}
