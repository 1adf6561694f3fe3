package health

import (
	"math"
	"testing"
	"time"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCollector_Lifecycle(t *testing.T) {
	c := NewCollector(0)
	start := time.Unix(1000, 0)
	c.Begin("s1", start)
	c.RecordReceived("s1", 10)
	c.RecordReceived("s1", 30)
	c.RecordRetry("s1")

	m, ok := c.Metrics("s1")
	if !ok {
		t.Fatal("metrics missing")
	}
	if m.ChunksReceived != 2 || m.BytesReceived != 40 {
		t.Errorf("chunks=%d bytes=%d", m.ChunksReceived, m.BytesReceived)
	}
	if !approx(m.AverageChunkSize, 20) {
		t.Errorf("avg=%v", m.AverageChunkSize)
	}
	if m.RetryCount != 1 {
		t.Errorf("retries=%d", m.RetryCount)
	}
	if m.CompressionRatio != nil {
		t.Error("ratio set without compression")
	}

	end := start.Add(2 * time.Second)
	if !c.Finish("s1", end) {
		t.Fatal("first Finish returned false")
	}
	if c.Finish("s1", end.Add(time.Hour)) {
		t.Error("second Finish returned true")
	}
	m, _ = c.Metrics("s1")
	if !m.EndTime.Equal(end) {
		t.Errorf("EndTime overwritten: %v", m.EndTime)
	}
	c.RecordReceived("s1", 100)
	if m2, _ := c.Metrics("s1"); m2.BytesReceived != 40 {
		t.Error("finished stream still accepting bytes")
	}
}

func TestCollector_CompressionRatio(t *testing.T) {
	c := NewCollector(0)
	c.Begin("s", time.Now())
	c.RecordCompression("s", 10, 5)
	c.RecordCompression("s", 10, 10)
	m, _ := c.Metrics("s")
	if m.CompressionRatio == nil || !approx(*m.CompressionRatio, 0.75) {
		t.Errorf("ratio=%v", m.CompressionRatio)
	}
}

func TestSnapshot(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := NewCollector(0).Snapshot(0)
		if s.ActiveStreams != 0 || s.TotalStreamsProcessed != 0 || s.ErrorRate != 0 || s.ThroughputEstimate != 0 || s.AverageStreamDuration != 0 {
			t.Errorf("non-zero empty snapshot: %+v", s)
		}
	})

	t.Run("aggregates", func(t *testing.T) {
		c := NewCollector(0)
		base := time.Unix(5000, 0)
		c.now = func() time.Time { return base.Add(10 * time.Second) }

		c.Begin("a", base)
		c.RecordReceived("a", 500)
		c.Finish("a", base.Add(2*time.Second))

		c.Begin("b", base.Add(time.Second))
		c.RecordReceived("b", 500)
		c.RecordRetry("b")
		c.Finish("b", base.Add(5*time.Second))

		c.Begin("c", base.Add(2*time.Second))

		s := c.Snapshot(1)
		if s.ActiveStreams != 1 {
			t.Errorf("active=%d", s.ActiveStreams)
		}
		if s.TotalStreamsProcessed != 2 {
			t.Errorf("processed=%d", s.TotalStreamsProcessed)
		}
		if !approx(s.AverageStreamDuration, 3) {
			t.Errorf("avg duration=%v", s.AverageStreamDuration)
		}
		if !approx(s.ErrorRate, 1.0/3) {
			t.Errorf("error rate=%v", s.ErrorRate)
		}
		if !approx(s.ThroughputEstimate, 100) {
			t.Errorf("throughput=%v", s.ThroughputEstimate)
		}
		if !s.At.Time().Equal(base.Add(10 * time.Second)) {
			t.Errorf("At=%v", s.At)
		}
	})

	t.Run("retention keeps totals", func(t *testing.T) {
		c := NewCollector(1)
		base := time.Unix(0, 0)
		c.now = func() time.Time { return base.Add(4 * time.Second) }
		for i, id := range []string{"x", "y", "z"} {
			c.Begin(id, base)
			c.RecordReceived(id, 100)
			if i == 0 {
				c.RecordRetry(id)
			}
			c.Finish(id, base.Add(time.Second))
		}
		if c.Len() != 1 {
			t.Fatalf("retained=%d, want 1", c.Len())
		}
		if _, ok := c.Metrics("x"); ok {
			t.Error("oldest finished stream not pruned")
		}
		s := c.Snapshot(0)
		if s.TotalStreamsProcessed != 3 {
			t.Errorf("processed=%d", s.TotalStreamsProcessed)
		}
		if !approx(s.ErrorRate, 1.0/3) {
			t.Errorf("error rate=%v", s.ErrorRate)
		}
		if !approx(s.ThroughputEstimate, 75) {
			t.Errorf("throughput=%v", s.ThroughputEstimate)
		}
	})
}

func TestCollector_All(t *testing.T) {
	c := NewCollector(0)
	base := time.Unix(1000, 0)
	c.Begin("late", base.Add(time.Second))
	c.Begin("b", base)
	c.Begin("a", base)
	c.Finish("a", base.Add(time.Second))

	all := c.All()
	if len(all) != 3 {
		t.Fatalf("All=%d", len(all))
	}
	if all[0].StreamID != "a" || all[1].StreamID != "b" || all[2].StreamID != "late" {
		t.Errorf("order=%s,%s,%s", all[0].StreamID, all[1].StreamID, all[2].StreamID)
	}
	*all[0].EndTime = base.Add(time.Hour)
	if m, _ := c.Metrics("a"); !m.EndTime.Equal(base.Add(time.Second)) {
		t.Error("All returned shared EndTime")
	}
}
