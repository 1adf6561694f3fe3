package replay

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/streamx/pkg/streamx"
)

// Snapshot is the persisted form of a cache entry. Frames are the chunks
// encoded with streamx.EncodeChunk.
type Snapshot struct {
	Key        string    `msgpack:"key"`
	Frames     [][]byte  `msgpack:"frames"`
	InsertedAt time.Time `msgpack:"inserted_at"`
	ExpiresAt  time.Time `msgpack:"expires_at"`
}

func newSnapshot(e *entry) (*Snapshot, error) {
	s := &Snapshot{Key: e.key, InsertedAt: e.insertedAt, ExpiresAt: e.expiresAt}
	for i, c := range e.chunks {
		b, err := streamx.EncodeChunk(e.key, uint64(i), c)
		if err != nil {
			return nil, err
		}
		s.Frames = append(s.Frames, b)
	}
	return s, nil
}

// Chunks decodes the frames in order.
func (s *Snapshot) Chunks() ([]*streamx.Chunk, error) {
	out := make([]*streamx.Chunk, 0, len(s.Frames))
	for _, b := range s.Frames {
		f, err := streamx.DecodeFrame(b)
		if err != nil {
			return nil, err
		}
		out = append(out, f.Chunk)
	}
	return out, nil
}

// TTL returns the time left before the snapshot expires at now.
func (s *Snapshot) TTL(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Marshal encodes s as zstd-compressed msgpack.
func (s *Snapshot) Marshal() ([]byte, error) {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("replay: encode snapshot: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// UnmarshalSnapshot decodes the output of Snapshot.Marshal.
func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("replay: decompress snapshot: %w", err)
	}
	var s Snapshot
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("replay: decode snapshot: %w", err)
	}
	return &s, nil
}
