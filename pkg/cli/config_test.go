package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/streamx/pkg/streamx"
)

const sampleConfig = `
stream:
  max_concurrent_streams: 3
  timeout_ms: 5000
  enable_compression: false
  dedup_horizon: 2m
reconnect:
  initial_delay: 250ms
  max_retries: 7
warm_endpoints:
  - ws://localhost:8080/ws
telemetry:
  interval: 5s
replay:
  ttl: 1m
  backend: badger
  dir: /var/lib/streamx
sources:
  openai:
    api_key: ${STREAMX_TEST_KEY}
    model: gpt-test
  synthetic:
    chunks: 4
    repeat_every: 2
`

func TestParseConfig(t *testing.T) {
	t.Setenv("STREAMX_TEST_KEY", "sk-from-env")
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	s := cfg.Stream
	if s.MaxConcurrentStreams != 3 || s.TimeoutMs != 5000 {
		t.Errorf("stream=%+v", s)
	}
	if s.EnableCompression {
		t.Error("explicit enable_compression: false ignored")
	}
	if !s.EnableDeduplication {
		t.Error("default enable_deduplication lost")
	}
	if s.DedupHorizon.Std() != 2*time.Minute || s.ChunkSize != streamx.DefaultChunkSize {
		t.Errorf("dedup_horizon=%v chunk_size=%d", s.DedupHorizon, s.ChunkSize)
	}

	r := cfg.Reconnect
	if r.InitialDelay.Std() != 250*time.Millisecond || r.MaxRetries != 7 || r.BackoffFactor != 2 {
		t.Errorf("reconnect=%+v", r)
	}
	if len(cfg.WarmEndpoints) != 1 || cfg.WarmEndpoints[0] != "ws://localhost:8080/ws" {
		t.Errorf("warm_endpoints=%v", cfg.WarmEndpoints)
	}
	if cfg.Telemetry.Interval.Std() != 5*time.Second || cfg.Telemetry.History != 64 {
		t.Errorf("telemetry=%+v", cfg.Telemetry)
	}
	if cfg.Replay.Backend != BackendBadger || cfg.Replay.Options().TTL.Std() != time.Minute {
		t.Errorf("replay=%+v", cfg.Replay)
	}
	if dir, _ := cfg.ReplayDir(); dir != "/var/lib/streamx" {
		t.Errorf("ReplayDir=%q", dir)
	}
	if cfg.Sources.OpenAI.APIKey != "sk-from-env" || cfg.Sources.OpenAI.Model != "gpt-test" {
		t.Errorf("openai=%+v", cfg.Sources.OpenAI)
	}
	if cfg.Sources.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("gemini default model=%q", cfg.Sources.Gemini.Model)
	}
	if cfg.Sources.Synthetic.Chunks != 4 || cfg.Sources.Synthetic.RepeatEvery != 2 {
		t.Errorf("synthetic=%+v", cfg.Sources.Synthetic)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero slots", "stream: {max_concurrent_streams: 0}", "max_concurrent_streams"},
		{"bad backend", "replay: {backend: tape}", "tape"},
		{"s3 without bucket", "replay: {backend: s3}", "bucket"},
		{"bad factor", "reconnect: {backoff_factor: 0.5}", "backoff_factor"},
		{"bad yaml", "stream: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseConfig accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err=%v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamx.yaml")
	if err := os.WriteFile(path, []byte("stream: {max_concurrent_streams: 2}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.MaxConcurrentStreams != 2 || cfg.Path() != path {
		t.Errorf("cfg=%+v path=%q", cfg.Stream, cfg.Path())
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing explicit file accepted")
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.MaxConcurrentStreams != streamx.DefaultConfig().MaxConcurrentStreams {
		t.Errorf("defaults not applied: %+v", cfg.Stream)
	}
	if !strings.HasSuffix(cfg.Path(), filepath.Join(DefaultBaseDir, DefaultConfigFile)) {
		t.Errorf("Path=%q", cfg.Path())
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.MaxConcurrentStreams = 5
	cfg.Replay.Backend = BackendFile
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stream.MaxConcurrentStreams != 5 || got.Replay.Backend != BackendFile {
		t.Errorf("round trip=%+v %+v", got.Stream, got.Replay)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey("sk-1234567890abcd"); got != "sk-1****abcd" {
		t.Errorf("MaskAPIKey=%q", got)
	}
	if got := MaskAPIKey("short"); got != "****" {
		t.Errorf("MaskAPIKey(short)=%q", got)
	}
}
