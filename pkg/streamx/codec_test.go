package streamx

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeChunk(t *testing.T) {
	tests := []struct {
		name  string
		chunk *Chunk
	}{
		{"text", &Chunk{Name: "gpt", Part: Text("hello")}},
		{"blob", NewBlobChunk("audio/pcm", []byte{1, 2, 3})},
		{"structured", &Chunk{Part: Structured{"tool": "search", "n": int64(3)}}},
		{"error", &Chunk{Part: &ErrorPart{Kind: "producer", Message: "boom"}}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeChunk("s1", uint64(i), tt.chunk)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			f, err := DecodeFrame(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if f.StreamID != "s1" || f.Seq != uint64(i) {
				t.Errorf("frame header = %q/%d", f.StreamID, f.Seq)
			}
			if f.Chunk.Name != tt.chunk.Name {
				t.Errorf("name = %q", f.Chunk.Name)
			}
			if f.IsError() != (tt.name == "error") {
				t.Errorf("IsError = %v", f.IsError())
			}
		})
	}
}

func TestEncodeChunk_Deterministic(t *testing.T) {
	a := &Chunk{Part: Structured{"a": 1, "b": 2, "c": 3, "d": 4}}
	b := &Chunk{Part: Structured{"d": 4, "c": 3, "b": 2, "a": 1}}
	ea, err := EncodeChunk("s", 0, a)
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		eb, err := EncodeChunk("s", 0, b)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(ea, eb) {
			t.Fatal("equal structured chunks encoded differently")
		}
	}
}

func TestEncodeChunk_Invalid(t *testing.T) {
	_, err := EncodeChunk("s", 0, &Chunk{})
	var se *SerializationError
	if !errors.As(err, &se) || !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("err = %v", err)
	}
	if _, err := DecodeFrame([]byte{0xc1}); err == nil {
		t.Error("decoding garbage succeeded")
	}
}
