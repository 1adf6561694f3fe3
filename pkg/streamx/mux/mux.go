// Package mux queues streams for a streamx.Manager by priority.
//
// A Mux never rejects a stream for lack of capacity. Submitted streams wait
// in a priority queue (high before normal before low, FIFO within a
// priority) and are admitted to the manager as slots free up. The mux hooks
// into the manager's terminal transitions, so a freed slot is refilled
// before the call that released it returns, unless another goroutine is
// already admitting and picks the slot up.
package mux

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haivivi/streamx/pkg/streamx"
)

// ErrClosed is the cause recorded for tickets still pending when the mux
// closes, and is returned by Submit afterwards.
var ErrClosed = errors.New("mux: closed")

// Option configures a Mux.
type Option func(*Mux)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) { m.logger = l }
}

// Ticket tracks one submitted stream.
type Ticket struct {
	ID       string
	Priority streamx.Priority

	src    Source
	sink   streamx.Sink
	opts   []streamx.StreamOption
	seq    uint64
	index  int
	ctx    context.Context
	cancel context.CancelFunc

	admitted chan struct{}
	mu       sync.Mutex
	handle   *streamx.Handle
	err      error
}

// Admitted is closed once the ticket leaves the queue, either admitted to
// the manager or withdrawn.
func (t *Ticket) Admitted() <-chan struct{} {
	return t.admitted
}

// Handle returns the stream handle, or nil while pending or if withdrawn.
func (t *Ticket) Handle() *streamx.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle
}

// Err returns why the ticket was withdrawn before admission.
func (t *Ticket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the ticket is admitted or withdrawn, or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (*streamx.Handle, error) {
	select {
	case <-t.admitted:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := t.Err(); err != nil {
		return nil, err
	}
	return t.Handle(), nil
}

func (t *Ticket) admit(h *streamx.Handle) {
	t.mu.Lock()
	t.handle = h
	t.mu.Unlock()
	close(t.admitted)
}

// withdraw ends a ticket that never reached the manager. Its sink is closed
// since no stream will ever own it.
func (t *Ticket) withdraw(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.cancel()
	close(t.admitted)
	t.src.discard(err)
	_ = t.sink.Close()
}

// Mux admits queued streams to a Manager as its slots free up.
type Mux struct {
	mgr    *streamx.Manager
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   ticketQueue
	pending map[string]*Ticket
	active  map[string]*Ticket
	seq     uint64
	closed  bool

	// dispatching is set while one goroutine admits tickets. Others set
	// redispatch instead of admitting, and the running dispatcher rechecks
	// capacity before it stops.
	dispatching bool
	redispatch  bool
}

// New creates a Mux feeding mgr and registers it for mgr's terminal events.
// Its concurrency is mgr's MaxConcurrentStreams.
func New(mgr *streamx.Manager, opts ...Option) *Mux {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mux{
		mgr:     mgr,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*Ticket),
		active:  make(map[string]*Ticket),
	}
	for _, opt := range opts {
		opt(m)
	}
	mgr.OnTerminal(m.onTerminal)
	return m
}

// Submit queues a stream. It is admitted right away if a slot is free. An
// empty id is replaced by streamx.NewStreamID().
func (m *Mux) Submit(id string, src Source, sink streamx.Sink, prio streamx.Priority, opts ...streamx.StreamOption) (*Ticket, error) {
	if src == nil {
		return nil, errors.New("mux: nil source")
	}
	if sink == nil {
		sink = streamx.Discard
	}
	if id == "" {
		id = streamx.NewStreamID()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.pending[id] != nil || m.active[id] != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", streamx.ErrDuplicateStream, id)
	}
	ctx, cancel := context.WithCancel(m.ctx)
	t := &Ticket{
		ID:       id,
		Priority: prio,
		src:      src,
		sink:     sink,
		opts:     opts,
		seq:      m.seq,
		ctx:      ctx,
		cancel:   cancel,
		admitted: make(chan struct{}),
	}
	m.seq++
	heap.Push(&m.queue, t)
	m.pending[id] = t
	m.mu.Unlock()

	m.logger.Debug("mux: stream queued", "stream", id, "priority", prio)
	m.dispatch()
	return t, nil
}

// dispatch admits pending tickets while the manager has free slots. Only
// one goroutine admits at a time, so tickets reach the manager in queue
// order. A call that finds a dispatcher running leaves the work to it.
func (m *Mux) dispatch() {
	m.mu.Lock()
	if m.dispatching {
		m.redispatch = true
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	m.mu.Unlock()

	limit := m.mgr.Config().MaxConcurrentStreams
	for {
		t := m.next(limit)
		if t == nil {
			return
		}

		p, start := t.src.open(t.ctx, m.mgr.Config())
		opts := append([]streamx.StreamOption{streamx.WithPriority(t.Priority)}, t.opts...)
		h, err := m.mgr.CreateStream(t.ctx, t.ID, p, t.sink, opts...)
		switch {
		case err == nil:
			t.admit(h)
			start()
			m.logger.Debug("mux: stream admitted", "stream", t.ID, "priority", t.Priority)
		case errors.Is(err, streamx.ErrResourceExhausted):
			// A slot was taken outside the mux. Requeue with the original
			// sequence number; the next terminal event dispatches again.
			m.mu.Lock()
			delete(m.active, t.ID)
			if m.closed {
				m.dispatching = false
				m.mu.Unlock()
				t.withdraw(ErrClosed)
				return
			}
			heap.Push(&m.queue, t)
			m.pending[t.ID] = t
			if !m.redispatch {
				m.dispatching = false
				m.mu.Unlock()
				return
			}
			m.redispatch = false
			m.mu.Unlock()
		default:
			m.mu.Lock()
			delete(m.active, t.ID)
			m.mu.Unlock()
			m.logger.Warn("mux: admission failed", "stream", t.ID, "error", err)
			t.withdraw(err)
		}
	}
}

// next pops the ticket to admit, or clears the dispatching flag and returns
// nil when nothing can be admitted and no terminal event arrived meanwhile.
func (m *Mux) next(limit int) *Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if !m.closed && m.queue.Len() > 0 && m.mgr.ActiveCount() < limit {
			t := heap.Pop(&m.queue).(*Ticket)
			delete(m.pending, t.ID)
			// Registered before CreateStream so a stream that ends at once is
			// still found by onTerminal.
			m.active[t.ID] = t
			return t
		}
		if !m.redispatch {
			m.dispatching = false
			return nil
		}
		m.redispatch = false
	}
}

func (m *Mux) onTerminal(h *streamx.Handle) {
	m.mu.Lock()
	t := m.active[h.ID]
	delete(m.active, h.ID)
	m.mu.Unlock()
	if t != nil {
		t.cancel()
	}
	m.dispatch()
}

// Cancel withdraws a pending stream or cancels an admitted one. It reports
// whether anything was cancelled.
func (m *Mux) Cancel(id string) bool {
	m.mu.Lock()
	if t := m.pending[id]; t != nil {
		heap.Remove(&m.queue, t.index)
		delete(m.pending, id)
		m.mu.Unlock()
		t.withdraw(streamx.ErrCancelled)
		return true
	}
	t := m.active[id]
	m.mu.Unlock()
	if t == nil {
		return false
	}
	m.mgr.Cancel(id)
	// The ticket context also reaches a stream still being handed to the
	// manager.
	t.cancel()
	return true
}

// Pending returns the number of queued streams.
func (m *Mux) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Active returns the number of admitted streams that have not finished.
func (m *Mux) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close withdraws every pending stream and cancels every admitted one. The
// manager itself stays open.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pending := make([]*Ticket, len(m.queue))
	copy(pending, m.queue)
	m.queue = nil
	clear(m.pending)
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, t := range pending {
		t.withdraw(ErrClosed)
	}
	for _, id := range ids {
		m.mgr.Cancel(id)
	}
	m.cancel()
	return nil
}
