package streamx

// Processed is the outcome of running one chunk through a Pipeline.
type Processed struct {
	// Frame is the encoded chunk, nil for duplicates.
	Frame []byte
	// Duplicate is set when the chunk was suppressed by deduplication.
	Duplicate bool
	// RawBytes and EmittedBytes are payload sizes before and after
	// whitespace normalization.
	RawBytes     int
	EmittedBytes int
}

// Pipeline turns the chunks of one stream into sink frames: dedup, then
// whitespace normalization of text, then msgpack encoding. It is used by a
// single goroutine and numbers emitted frames from 0.
type Pipeline struct {
	streamID string
	scope    string
	compress bool
	dedup    *DedupCache
	seq      uint64
}

// NewPipeline creates the pipeline of streamID. dedup may be nil to disable
// deduplication; cfg decides compression and dedup scope.
func NewPipeline(streamID string, cfg Config, dedup *DedupCache) *Pipeline {
	p := &Pipeline{
		streamID: streamID,
		compress: cfg.EnableCompression,
	}
	if cfg.EnableDeduplication {
		p.dedup = dedup
	}
	if cfg.DedupScope != DedupGlobal {
		p.scope = streamID
	}
	return p
}

// Process runs c through the pipeline. Duplicates return a zero Frame and no
// error. Encoding failures are *SerializationError.
func (p *Pipeline) Process(c *Chunk) (Processed, error) {
	if c == nil || c.Part == nil {
		return Processed{}, &SerializationError{Err: ErrInvalidChunk}
	}
	out := Processed{RawBytes: c.Size()}
	if p.dedup != nil {
		h, err := HashChunk(c)
		if err != nil {
			return out, err
		}
		if p.dedup.Seen(p.scope, h) {
			out.Duplicate = true
			return out, nil
		}
	}
	if p.compress {
		c = compressChunk(c)
	}
	out.EmittedBytes = c.Size()
	frame, err := EncodeChunk(p.streamID, p.seq, c)
	if err != nil {
		return out, err
	}
	p.seq++
	out.Frame = frame
	return out, nil
}

// ErrorFrame encodes the terminal error marker for cause, numbered after the
// last emitted frame.
func (p *Pipeline) ErrorFrame(cause error) ([]byte, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	frame, err := EncodeChunk(p.streamID, p.seq, &Chunk{Part: &ErrorPart{Kind: errorKind(cause), Message: msg}})
	if err != nil {
		return nil, err
	}
	p.seq++
	return frame, nil
}

// Emitted returns how many frames the pipeline has produced.
func (p *Pipeline) Emitted() uint64 {
	return p.seq
}
