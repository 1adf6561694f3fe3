package streamx

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Priority orders streams waiting for a slot in a multiplexer.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses "low", "normal" or "high". The empty string is
// PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("streamx: unknown priority %q", s)
}

// State is the lifecycle state of a stream.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosed
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s >= StateClosed
}

// Handle is the manager's view of one stream.
type Handle struct {
	ID       string
	Priority Priority

	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle(id string, prio Priority) *Handle {
	return &Handle{ID: id, Priority: prio, done: make(chan struct{})}
}

// State returns the current state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Done is closed once the stream has stopped and its sink is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal cause: nil for Closed, ErrCancelled (possibly
// wrapped) for Cancelled, and the failure for Errored.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) activate() bool {
	return h.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
}

// terminate moves h to a terminal state. Only the first call wins. The
// cause is stored before the state so Err is set once State is terminal.
func (h *Handle) terminate(s State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.State().Terminal() {
		return false
	}
	h.err = err
	h.state.Store(int32(s))
	return true
}
