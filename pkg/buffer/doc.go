// Package buffer provides thread-safe generic buffers for streaming code.
//
//   - BlockBuffer: a fixed-capacity FIFO that blocks writers when full and
//     readers when empty. It is the hand-off point between a goroutine that
//     pushes chunks and a consumer that pulls them.
//
//   - RingBuffer: a fixed-capacity window that overwrites the oldest element
//     when full. It keeps the last N values of something (telemetry
//     snapshots, log lines) without unbounded growth.
//
// Both support concurrent use. BlockBuffer distinguishes a graceful
// CloseWrite (readers drain what is left, then see ErrIteratorDone) from
// CloseWithError (both ends fail immediately with the given error).
//
// Example:
//
//	bb := buffer.BlockN[string](16)
//	go func() {
//	    defer bb.CloseWrite()
//	    bb.Add("hello")
//	}()
//	for {
//	    v, err := bb.Next()
//	    if errors.Is(err, buffer.ErrIteratorDone) {
//	        break
//	    }
//	    ...
//	}
package buffer
