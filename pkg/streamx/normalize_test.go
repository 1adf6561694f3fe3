package streamx

import "testing"

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"hello", "hello"},
		{"  hello  ", "hello"},
		{"a \t\n b", "a b"},
		{"one  two   three", "one two three"},
		{" x y　", "x y"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeWhitespace(tt.in); got != tt.want {
			t.Errorf("NormalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompressChunk(t *testing.T) {
	c := compressChunk(NewTextChunk(" a  b "))
	if c.Part != Text("a b") {
		t.Errorf("text part = %v", c.Part)
	}
	blob := NewBlobChunk("text/plain", []byte(" a  b "))
	if compressChunk(blob) != blob {
		t.Error("blob chunk was transformed")
	}
	s := &Chunk{Part: Structured{"k": " v  "}}
	if compressChunk(s) != s {
		t.Error("structured chunk was transformed")
	}
}
