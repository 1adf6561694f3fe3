package buffer

import "sync"

// RingBuffer keeps the most recent N elements. Adding to a full buffer
// overwrites the oldest element.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	buf   []T
	start int
	n     int
}

// RingN creates a RingBuffer that retains up to size elements. A size below
// 1 is treated as 1.
func RingN[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{buf: make([]T, size)}
}

// Add appends v, evicting the oldest element when full.
func (rb *RingBuffer[T]) Add(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.n < len(rb.buf) {
		rb.buf[(rb.start+rb.n)%len(rb.buf)] = v
		rb.n++
		return
	}
	rb.buf[rb.start] = v
	rb.start = (rb.start + 1) % len(rb.buf)
}

// Values returns a copy of the retained elements, oldest first.
func (rb *RingBuffer[T]) Values() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]T, rb.n)
	for i := range rb.n {
		out[i] = rb.buf[(rb.start+i)%len(rb.buf)]
	}
	return out
}

// Last returns the newest element.
func (rb *RingBuffer[T]) Last() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.n == 0 {
		var zero T
		return zero, false
	}
	return rb.buf[(rb.start+rb.n-1)%len(rb.buf)], true
}

// Len returns the number of retained elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}

// Reset drops all elements.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	clear(rb.buf)
	rb.start, rb.n = 0, 0
}
