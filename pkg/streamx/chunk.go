package streamx

import (
	"bytes"
	"maps"
)

// Part is the payload of a Chunk.
type Part interface {
	isPart()
}

// Text is a textual part.
type Text string

// Blob is a binary part.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Structured is a structured part, typically decoded JSON from a backend.
type Structured map[string]any

// ErrorPart is the terminal error marker the manager writes to a sink
// before closing it when a stream fails.
type ErrorPart struct {
	Kind    string
	Message string
}

func (Text) isPart()       {}
func (*Blob) isPart()      {}
func (Structured) isPart() {}
func (*ErrorPart) isPart() {}

// Chunk is one discrete unit of payload within a stream.
type Chunk struct {
	// Name identifies the producer of the chunk (e.g. a model name).
	Name string
	Part Part
}

// NewTextChunk returns a chunk holding s.
func NewTextChunk(s string) *Chunk {
	return &Chunk{Part: Text(s)}
}

// NewBlobChunk returns a chunk holding a copy-free reference to data.
func NewBlobChunk(mimeType string, data []byte) *Chunk {
	return &Chunk{Part: &Blob{MIMEType: mimeType, Data: data}}
}

// IsText reports whether the chunk carries a Text part.
func (c *Chunk) IsText() bool {
	if c == nil {
		return false
	}
	_, ok := c.Part.(Text)
	return ok
}

// Clone returns a deep copy of c. Structured values are copied one level
// deep.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := &Chunk{Name: c.Name}
	switch p := c.Part.(type) {
	case *Blob:
		if p != nil {
			out.Part = &Blob{MIMEType: p.MIMEType, Data: bytes.Clone(p.Data)}
		}
	case Structured:
		out.Part = Structured(maps.Clone(map[string]any(p)))
	case *ErrorPart:
		if p != nil {
			cp := *p
			out.Part = &cp
		}
	default:
		out.Part = c.Part
	}
	return out
}

// Size returns the payload size in bytes used for throughput accounting.
// Structured parts count the bytes of their canonical encoding.
func (c *Chunk) Size() int {
	if c == nil {
		return 0
	}
	switch p := c.Part.(type) {
	case Text:
		return len(p)
	case *Blob:
		if p == nil {
			return 0
		}
		return len(p.Data)
	case Structured:
		b, err := canonicalStructured(p)
		if err != nil {
			return 0
		}
		return len(b)
	case *ErrorPart:
		if p == nil {
			return 0
		}
		return len(p.Message)
	}
	return 0
}
