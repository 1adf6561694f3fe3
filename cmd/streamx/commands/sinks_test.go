package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/haivivi/streamx/pkg/streamx"
)

func encode(t *testing.T, c *streamx.Chunk) []byte {
	t.Helper()
	b, err := streamx.EncodeChunk("s", 1, c)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFrameText(t *testing.T) {
	tests := []struct {
		name  string
		chunk *streamx.Chunk
		want  string
	}{
		{"text", streamx.NewTextChunk("hello "), "hello "},
		{"blob", streamx.NewBlobChunk("audio/ogg", []byte{1, 2, 3}), "[blob audio/ogg 3 bytes]\n"},
		{"structured", &streamx.Chunk{Part: streamx.Structured{"a": 1}}, `{"a":1}` + "\n"},
		{"error", &streamx.Chunk{Part: &streamx.ErrorPart{Kind: "timeout", Message: "slow"}}, "\n[error timeout] slow\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := frameText(encode(t, tt.chunk))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := frameText([]byte{0xc1}); err == nil {
		t.Error("garbage frame decoded")
	}
}

func TestFrameSink(t *testing.T) {
	var buf bytes.Buffer
	s := newFrameSink(noClose{&buf}, formatText)
	if err := s.Write(encode(t, streamx.NewTextChunk("a b"))); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
		t.Fatal("Done closed before Close")
	default:
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	<-s.Done()
	if buf.String() != "a b" {
		t.Errorf("buf=%q", buf.String())
	}

	var raw bytes.Buffer
	frame := encode(t, streamx.NewTextChunk("x"))
	fs := newFrameSink(&raw, formatFrames)
	_ = fs.Write(frame)
	if !bytes.Equal(raw.Bytes(), frame) {
		t.Error("msgpack sink altered the frame")
	}
}

func TestParseSinkFormat(t *testing.T) {
	for in, want := range map[string]sinkFormat{"": formatText, "text": formatText, "msgpack": formatFrames} {
		got, err := parseSinkFormat(in)
		if err != nil || got != want {
			t.Errorf("parseSinkFormat(%q)=%q,%v", in, got, err)
		}
	}
	if _, err := parseSinkFormat("json"); err == nil || !strings.Contains(err.Error(), "json") {
		t.Errorf("err=%v", err)
	}
}
