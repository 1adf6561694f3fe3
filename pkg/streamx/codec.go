package streamx

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame kinds on the wire.
const (
	kindText uint8 = iota + 1
	kindBlob
	kindStructured
	kindError
)

// Frame is one decoded sink buffer.
type Frame struct {
	StreamID string
	Seq      uint64
	Chunk    *Chunk
}

// IsError reports whether the frame is the terminal error marker.
func (f *Frame) IsError() bool {
	if f == nil || f.Chunk == nil {
		return false
	}
	_, ok := f.Chunk.Part.(*ErrorPart)
	return ok
}

type wireFrame struct {
	StreamID string         `msgpack:"s"`
	Seq      uint64         `msgpack:"q"`
	Kind     uint8          `msgpack:"k"`
	Name     string         `msgpack:"n,omitempty"`
	Text     string         `msgpack:"t,omitempty"`
	MIMEType string         `msgpack:"m,omitempty"`
	Data     []byte         `msgpack:"d,omitempty"`
	Fields   map[string]any `msgpack:"f,omitempty"`
	ErrKind  string         `msgpack:"e,omitempty"`
}

// EncodeChunk serializes c as a msgpack frame. Map keys are sorted so equal
// chunks always encode to equal bytes. Failures are *SerializationError.
func EncodeChunk(streamID string, seq uint64, c *Chunk) ([]byte, error) {
	if c == nil || c.Part == nil {
		return nil, &SerializationError{Err: ErrInvalidChunk}
	}
	wf := wireFrame{StreamID: streamID, Seq: seq, Name: c.Name}
	switch p := c.Part.(type) {
	case Text:
		wf.Kind, wf.Text = kindText, string(p)
	case *Blob:
		if p == nil {
			return nil, &SerializationError{Err: ErrInvalidChunk}
		}
		wf.Kind, wf.MIMEType, wf.Data = kindBlob, p.MIMEType, p.Data
	case Structured:
		wf.Kind, wf.Fields = kindStructured, p
	case *ErrorPart:
		if p == nil {
			return nil, &SerializationError{Err: ErrInvalidChunk}
		}
		wf.Kind, wf.ErrKind, wf.Text = kindError, p.Kind, p.Message
	default:
		return nil, &SerializationError{Err: fmt.Errorf("unsupported part %T", p)}
	}
	b, err := marshalSorted(&wf)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return b, nil
}

// DecodeFrame parses a buffer produced by EncodeChunk.
func DecodeFrame(b []byte) (*Frame, error) {
	var wf wireFrame
	if err := msgpack.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("streamx: decode frame: %w", err)
	}
	c := &Chunk{Name: wf.Name}
	switch wf.Kind {
	case kindText:
		c.Part = Text(wf.Text)
	case kindBlob:
		c.Part = &Blob{MIMEType: wf.MIMEType, Data: wf.Data}
	case kindStructured:
		c.Part = Structured(wf.Fields)
	case kindError:
		c.Part = &ErrorPart{Kind: wf.ErrKind, Message: wf.Text}
	default:
		return nil, fmt.Errorf("streamx: decode frame: unknown kind %d", wf.Kind)
	}
	return &Frame{StreamID: wf.StreamID, Seq: wf.Seq, Chunk: c}, nil
}

func marshalSorted(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalStructured(p Structured) ([]byte, error) {
	return marshalSorted(map[string]any(p))
}
