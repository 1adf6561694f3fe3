package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/streamx/pkg/health"
	"github.com/haivivi/streamx/pkg/jsontime"
)

func TestOutput(t *testing.T) {
	snap := health.Snapshot{ActiveStreams: 2, TotalStreamsProcessed: 5, ErrorRate: 0.2}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(snap, OutputOptions{Format: FormatJSON, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid json %q: %v", buf.String(), err)
		}
		if got["active_streams"] != float64(2) {
			t.Errorf("json=%v", got)
		}
	})

	t.Run("yaml default", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(snap, OutputOptions{Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "total_streams_processed: 5") {
			t.Errorf("yaml=%q", buf.String())
		}
	})

	t.Run("text string", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output("hello", OutputOptions{Format: FormatText, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "hello\n" {
			t.Errorf("text=%q", buf.String())
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if err := Output(snap, OutputOptions{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
			t.Error("xml accepted")
		}
	})
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatYAML, "json": FormatJSON, "text": FormatText} {
		if got, err := ParseOutputFormat(in); err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q)=%q,%v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("table"); err == nil {
		t.Error("table accepted")
	}
}

func TestFormat(t *testing.T) {
	durations := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{999 * time.Millisecond, "999ms"},
		{1500 * time.Millisecond, "1.5s"},
		{125500 * time.Millisecond, "2m5.5s"},
	}
	for _, tt := range durations {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v)=%q, want %q", tt.d, got, tt.want)
		}
	}
	bytesTests := []struct {
		n    int64
		want string
	}{
		{1023, "1023 B"},
		{1536, "1.50 KB"},
		{1572864, "1.50 MB"},
		{1 << 30, "1.00 GB"},
	}
	for _, tt := range bytesTests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d)=%q, want %q", tt.n, got, tt.want)
		}
	}
	if got := FormatRate(2048); got != "2.00 KB/s" {
		t.Errorf("FormatRate=%q", got)
	}
	if got := FormatPercent(0.125); got != "12.5%" {
		t.Errorf("FormatPercent=%q", got)
	}
}

func TestRenderSnapshot(t *testing.T) {
	snap := health.Snapshot{
		At:                    jsontime.Milli(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		ActiveStreams:         3,
		TotalStreamsProcessed: 10,
		AverageStreamDuration: 1.5,
		ErrorRate:             0.1,
		ThroughputEstimate:    1024,
	}
	out := RenderSnapshot(snap, NewStyles(DefaultTheme))
	for _, want := range []string{"streamx health", "active streams", "3", "1.5s", "10.0%", "1.00 KB/s", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStreams(t *testing.T) {
	st := NewStyles(DefaultTheme)
	if out := RenderStreams(nil, st); !strings.Contains(out, "no streams") {
		t.Errorf("empty=%q", out)
	}
	start := time.Unix(0, 0)
	end := start.Add(2 * time.Second)
	out := RenderStreams([]health.StreamMetrics{
		{StreamID: "s-1", StartTime: start, EndTime: &end, ChunksReceived: 4, BytesReceived: 2048},
		{StreamID: "s-2", StartTime: start, RetryCount: 1},
	}, st)
	for _, want := range []string{"s-1", "2.00 KB", "2.0s", "s-2", "live", "retries=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}
