// Package streamx is the streaming core: it admits many independently
// produced chunk streams under a bounded concurrency budget, runs every chunk
// through a dedup / normalize / serialize pipeline, and delivers the framed
// bytes to a per-stream sink.
//
// # Core Types
//
// Chunk is one unit of payload. Its Part is one of:
//   - Text: textual content, eligible for whitespace normalization
//   - *Blob: binary content with a MIME type, passed through untouched
//   - Structured: a field map, passed through untouched
//   - *ErrorPart: the terminal error marker written by the manager
//
// Producer is the pull side of a stream:
//
//	type Producer interface {
//	    Next() (*Chunk, error)
//	    Close() error
//	    CloseWithError(error) error
//	}
//
// Next returns ErrDone (or io.EOF) at the end of the stream. StreamBuilder
// turns a push-style source into a Producer.
//
// Sink is the byte side of a stream. It receives one framed buffer per
// emitted chunk (see EncodeChunk / DecodeFrame) and is closed when the stream
// ends. Producer failures reach the sink as a final ErrorPart frame, never as
// a Write error.
//
// # Manager
//
// Manager owns stream lifecycles:
//
//	Created -> Active -> Closed | Cancelled | Errored
//
// It rejects admission with ErrResourceExhausted when MaxConcurrentStreams
// streams are live; package mux queues by priority instead. Cancel releases
// the slot before it returns. Every exit path releases the slot, finalizes
// the stream metrics exactly once and sweeps the dedup cache.
package streamx
