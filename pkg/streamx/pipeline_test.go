package streamx

import (
	"testing"
	"time"
)

func TestPipeline(t *testing.T) {
	cfg := Config{EnableCompression: true, EnableDeduplication: true}.WithDefaults()
	p := NewPipeline("s", cfg, NewDedupCache(time.Minute, 0))

	out, err := p.Process(NewTextChunk("  hello   world "))
	if err != nil {
		t.Fatal(err)
	}
	if out.RawBytes != 16 || out.EmittedBytes != 11 {
		t.Errorf("raw=%d emitted=%d", out.RawBytes, out.EmittedBytes)
	}
	f, err := DecodeFrame(out.Frame)
	if err != nil {
		t.Fatal(err)
	}
	if f.Chunk.Part != Text("hello world") || f.Seq != 0 {
		t.Errorf("frame = %+v", f)
	}

	dup, err := p.Process(NewTextChunk("  hello   world "))
	if err != nil || !dup.Duplicate || dup.Frame != nil {
		t.Errorf("duplicate not suppressed: %+v %v", dup, err)
	}

	next, _ := p.Process(NewTextChunk("next"))
	if f, _ := DecodeFrame(next.Frame); f.Seq != 1 {
		t.Errorf("seq after duplicate = %d, want 1", f.Seq)
	}
	if p.Emitted() != 2 {
		t.Errorf("Emitted = %d", p.Emitted())
	}
}

func TestPipeline_Disabled(t *testing.T) {
	cfg := Config{}.WithDefaults()
	p := NewPipeline("s", cfg, NewDedupCache(time.Minute, 0))
	for range 2 {
		out, err := p.Process(NewTextChunk(" a "))
		if err != nil || out.Duplicate {
			t.Fatalf("out=%+v err=%v", out, err)
		}
		f, _ := DecodeFrame(out.Frame)
		if f.Chunk.Part != Text(" a ") {
			t.Errorf("text changed without compression: %q", f.Chunk.Part)
		}
	}
}

func TestPipeline_GlobalScope(t *testing.T) {
	cfg := Config{EnableDeduplication: true, DedupScope: DedupGlobal}.WithDefaults()
	dc := NewDedupCache(time.Minute, 0)
	a := NewPipeline("a", cfg, dc)
	b := NewPipeline("b", cfg, dc)
	if out, _ := a.Process(NewTextChunk("x")); out.Duplicate {
		t.Fatal("first chunk suppressed")
	}
	if out, _ := b.Process(NewTextChunk("x")); !out.Duplicate {
		t.Error("global scope did not suppress across streams")
	}
}

func TestPipeline_ErrorFrame(t *testing.T) {
	p := NewPipeline("s", Config{}.WithDefaults(), nil)
	b, err := p.ErrorFrame(&ProducerError{StreamID: "s", Err: ErrInvalidChunk})
	if err != nil {
		t.Fatal(err)
	}
	f, _ := DecodeFrame(b)
	ep, ok := f.Chunk.Part.(*ErrorPart)
	if !ok || ep.Kind != "producer" || ep.Message == "" {
		t.Errorf("error part = %+v", f.Chunk.Part)
	}
}
