package streamx

import (
	"strings"
	"unicode"
)

// NormalizeWhitespace collapses every run of Unicode whitespace into a single
// ASCII space and trims both ends. It is lossy and deterministic.
func NormalizeWhitespace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	pending := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pending = sb.Len() > 0
			continue
		}
		if pending {
			sb.WriteByte(' ')
			pending = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// compressChunk applies whitespace normalization to text chunks. Other parts
// are returned as is.
func compressChunk(c *Chunk) *Chunk {
	t, ok := c.Part.(Text)
	if !ok {
		return c
	}
	n := NormalizeWhitespace(string(t))
	if n == string(t) {
		return c
	}
	return &Chunk{Name: c.Name, Part: Text(n)}
}
