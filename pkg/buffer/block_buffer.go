package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrIteratorDone is returned by Next once the write side is closed and all
// buffered elements have been consumed.
var ErrIteratorDone = errors.New("iterator done")

// BlockBuffer is a bounded FIFO queue. Add blocks while the buffer is full and
// Next blocks while it is empty, so a fast producer is paced by its consumer.
//
// Elements live in a circular slice addressed by monotonically increasing
// head and tail counters; tail-head is the number of buffered elements.
type BlockBuffer[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf        []T
	head, tail int64
	closeWrite bool
	closeErr   error
}

// BlockN creates a BlockBuffer holding at most size elements. A size below 1
// is treated as 1.
func BlockN[T any](size int) *BlockBuffer[T] {
	if size < 1 {
		size = 1
	}
	bb := &BlockBuffer[T]{buf: make([]T, size)}
	bb.cond = sync.NewCond(&bb.mu)
	return bb
}

// Add appends v, blocking while the buffer is full. It fails once the buffer
// is closed for writing.
func (bb *BlockBuffer[T]) Add(v T) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	for {
		if bb.closeErr != nil {
			return fmt.Errorf("buffer: add to closed buffer: %w", bb.closeErr)
		}
		if bb.closeWrite {
			return fmt.Errorf("buffer: add to closed buffer: %w", io.ErrClosedPipe)
		}
		if bb.tail-bb.head < int64(len(bb.buf)) {
			break
		}
		bb.cond.Wait()
	}
	bb.buf[bb.tail%int64(len(bb.buf))] = v
	bb.tail++
	bb.cond.Broadcast()
	return nil
}

// Next removes and returns the oldest element, blocking while the buffer is
// empty. After CloseWrite it keeps returning buffered elements and then
// ErrIteratorDone; after CloseWithError it returns that error right away.
func (bb *BlockBuffer[T]) Next() (T, error) {
	var zero T
	bb.mu.Lock()
	defer bb.mu.Unlock()
	for bb.head == bb.tail {
		if bb.closeErr != nil {
			return zero, bb.closeErr
		}
		if bb.closeWrite {
			return zero, ErrIteratorDone
		}
		bb.cond.Wait()
	}
	if bb.closeErr != nil {
		return zero, bb.closeErr
	}
	idx := bb.head % int64(len(bb.buf))
	v := bb.buf[idx]
	bb.buf[idx] = zero
	bb.head++
	bb.cond.Broadcast()
	return v, nil
}

// CloseWrite stops further writes. Buffered elements remain readable.
func (bb *BlockBuffer[T]) CloseWrite() error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil || bb.closeWrite {
		return nil
	}
	bb.closeWrite = true
	bb.cond.Broadcast()
	return nil
}

// CloseWithError closes both ends. Pending and future Add and Next calls
// fail with err (io.ErrClosedPipe when err is nil). Only the first close
// takes effect.
func (bb *BlockBuffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil {
		return nil
	}
	bb.closeErr = err
	bb.closeWrite = true
	clear(bb.buf)
	bb.head, bb.tail = 0, 0
	bb.cond.Broadcast()
	return nil
}

// Close is CloseWithError(io.ErrClosedPipe).
func (bb *BlockBuffer[T]) Close() error {
	return bb.CloseWithError(io.ErrClosedPipe)
}

// Error returns the error the buffer was closed with, if any.
func (bb *BlockBuffer[T]) Error() error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.closeErr
}

// Len returns the number of buffered elements.
func (bb *BlockBuffer[T]) Len() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return int(bb.tail - bb.head)
}

// Cap returns the buffer capacity.
func (bb *BlockBuffer[T]) Cap() int {
	return len(bb.buf)
}
