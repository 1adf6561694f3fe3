package streamx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/haivivi/streamx/pkg/health"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithCollector sets the metrics collector. By default the manager creates
// its own, retaining Config.MetricsRetention finished streams.
func WithCollector(c *health.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// WithTerminalHook registers fn to run each time a stream reaches a terminal
// state. It runs right after the stream's slot is released, on the goroutine
// that terminated the stream, with no manager lock held. fn must not cancel
// the stream it is called for.
func WithTerminalHook(fn func(*Handle)) ManagerOption {
	return func(m *Manager) { m.hooks = append(m.hooks, fn) }
}

// StreamOption configures one stream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	priority Priority
	reopen   func(context.Context) (Producer, error)
}

// WithPriority sets the stream's priority.
func WithPriority(p Priority) StreamOption {
	return func(o *streamOptions) { o.priority = p }
}

// WithReopen lets the manager recover from producer faults by opening a
// fresh producer, at most Config.RetryAttempts times per stream.
func WithReopen(fn func(context.Context) (Producer, error)) StreamOption {
	return func(o *streamOptions) { o.reopen = fn }
}

// Manager admits streams under a concurrency budget and drives each one
// from its producer through a Pipeline into its sink.
//
// Every admitted stream owns a slot from CreateStream until it reaches a
// terminal state. The slot is released synchronously by Cancel, so a new
// stream can be admitted as soon as Cancel returns.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *health.Collector
	dedup   *DedupCache

	mu      sync.Mutex
	hooks   []func(*Handle)
	streams map[string]*stream
	used    map[string]struct{}
	closed  bool

	wg sync.WaitGroup
}

type stream struct {
	h      *Handle
	prod   Producer
	sink   Sink
	reopen func(context.Context) (Producer, error)
	pipe   *Pipeline

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type pullResult struct {
	chunk *Chunk
	err   error
}

// NewManager creates a Manager. cfg is validated after defaults are filled.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:     cfg,
		streams: make(map[string]*stream),
		used:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = health.NewCollector(cfg.MetricsRetention)
	}
	if cfg.EnableDeduplication {
		m.dedup = NewDedupCache(cfg.DedupHorizon.Std(), cfg.DedupMaxEntries)
	}
	return m, nil
}

// OnTerminal registers fn like WithTerminalHook on a running manager.
func (m *Manager) OnTerminal(fn func(*Handle)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Config returns the manager's configuration with defaults applied.
func (m *Manager) Config() Config {
	return m.cfg
}

// Collector returns the metrics collector.
func (m *Manager) Collector() *health.Collector {
	return m.metrics
}

// CreateStream admits a stream and starts pulling from p. An empty id is
// replaced by NewStreamID(). It fails with ErrResourceExhausted when every
// slot is taken, ErrDuplicateStream when id was used before, and
// ErrManagerClosed after Close. Cancelling ctx cancels the stream.
//
// The sink is closed when the stream ends. A failed stream gets one error
// frame before the close.
func (m *Manager) CreateStream(ctx context.Context, id string, p Producer, sink Sink, opts ...StreamOption) (*Handle, error) {
	if p == nil {
		return nil, errors.New("streamx: nil producer")
	}
	if sink == nil {
		sink = Discard
	}
	if id == "" {
		id = NewStreamID()
	}
	o := streamOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	_, used := m.used[id]
	switch {
	case m.closed:
		m.mu.Unlock()
		return nil, ErrManagerClosed
	case used:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateStream, id)
	case len(m.streams) >= m.cfg.MaxConcurrentStreams:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: all %d slots in use", ErrResourceExhausted, m.cfg.MaxConcurrentStreams)
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &stream{
		h:      newHandle(id, o.priority),
		prod:   p,
		sink:   sink,
		reopen: o.reopen,
		pipe:   NewPipeline(id, m.cfg, m.dedup),
		ctx:    sctx,
		cancel: cancel,
	}
	m.used[id] = struct{}{}
	m.streams[id] = s
	m.metrics.Begin(id, time.Now())
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("streamx: stream created", "stream", id, "priority", o.priority)
	go m.drive(s)
	return s.h, nil
}

// Cancel cancels a live stream and releases its slot before returning. It
// reports whether this call cancelled the stream; unknown and finished
// streams are left alone.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	s := m.streams[id]
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return m.finish(s, StateCancelled, ErrCancelled)
}

// Get returns the handle of a live stream.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return nil, false
	}
	return s.h, true
}

// ActiveCount returns the number of streams holding a slot.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Snapshot returns the health snapshot with the live stream count.
func (m *Manager) Snapshot() health.Snapshot {
	return m.metrics.Snapshot(m.ActiveCount())
}

// Close cancels every live stream, refuses new ones and waits for all
// stream goroutines to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	live := make([]*stream, 0, len(m.streams))
	for _, s := range m.streams {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		m.finish(s, StateCancelled, fmt.Errorf("%w: %w", ErrCancelled, ErrManagerClosed))
	}
	m.wg.Wait()
	return nil
}

// Wait blocks until every stream goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// finish performs the synchronous part of a terminal transition exactly
// once: slot release, registry removal, EndTime and hooks. Producer and sink
// teardown happen on the stream's goroutine.
func (m *Manager) finish(s *stream, state State, cause error) bool {
	won := false
	s.once.Do(func() {
		won = true
		m.mu.Lock()
		delete(m.streams, s.h.ID)
		hooks := m.hooks
		m.mu.Unlock()

		s.h.terminate(state, cause)
		m.metrics.Finish(s.h.ID, time.Now())
		s.cancel()

		attrs := []any{"stream", s.h.ID, "state", state}
		if cause != nil {
			attrs = append(attrs, "cause", cause)
		}
		if state == StateErrored {
			m.logger.Warn("streamx: stream errored", attrs...)
		} else {
			m.logger.Debug("streamx: stream finished", attrs...)
		}

		for _, fn := range hooks {
			fn(s.h)
		}
	})
	return won
}

func (m *Manager) drive(s *stream) {
	defer m.wg.Done()
	defer m.teardown(s)

	s.h.activate()
	retries := 0
	for {
		state, cause := m.drain(s)
		if state != StateErrored || s.reopen == nil || retries >= m.cfg.RetryAttempts || !isProducerFault(cause) {
			m.finish(s, state, cause)
			return
		}
		retries++
		m.metrics.RecordRetry(s.h.ID)
		m.logger.Info("streamx: reopening producer", "stream", s.h.ID, "attempt", retries, "cause", cause)
		_ = s.prod.CloseWithError(cause)

		rctx, cancel := context.WithTimeout(s.ctx, m.cfg.Timeout())
		p, err := s.reopen(rctx)
		cancel()
		if err != nil {
			m.finish(s, StateErrored, &ProducerError{StreamID: s.h.ID, Err: fmt.Errorf("reopen: %w", err)})
			return
		}
		s.prod = p
	}
}

func isProducerFault(err error) bool {
	var pe *ProducerError
	return errors.As(err, &pe)
}

// drain pulls from the current producer until it ends, fails or the stream
// is cancelled. It returns the terminal state the stream should take.
func (m *Manager) drain(s *stream) (State, error) {
	results := make(chan pullResult)
	pctx, stop := context.WithCancel(s.ctx)
	defer stop()
	go pull(pctx, s.prod, results)

	var timer *time.Timer
	var timeout <-chan time.Time
	if d := m.cfg.ChunkTimeout(); d > 0 {
		timer = time.NewTimer(d)
		defer timer.Stop()
	}
	for {
		if timer != nil {
			timer.Reset(m.cfg.ChunkTimeout())
			timeout = timer.C
		}
		select {
		case <-s.ctx.Done():
			return StateCancelled, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(s.ctx))
		case <-timeout:
			return StateErrored, fmt.Errorf("%w: no chunk within %v", ErrChunkTimeout, m.cfg.ChunkTimeout())
		case r := <-results:
			if r.err != nil {
				if IsDone(r.err) {
					return StateClosed, nil
				}
				return StateErrored, &ProducerError{StreamID: s.h.ID, Err: r.err}
			}
			if err := m.emit(s, r.chunk); err != nil {
				return StateErrored, err
			}
			runtime.Gosched()
		}
	}
}

// pull runs Next in a loop and hands each result to the driver. A result
// that arrives after ctx is done is dropped.
func pull(ctx context.Context, p Producer, out chan<- pullResult) {
	for {
		c, err := p.Next()
		select {
		case out <- pullResult{chunk: c, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) emit(s *stream, c *Chunk) error {
	if c == nil || c.Part == nil {
		return &ProducerError{StreamID: s.h.ID, Err: ErrInvalidChunk}
	}
	m.metrics.RecordReceived(s.h.ID, c.Size())
	out, err := s.pipe.Process(c)
	if err != nil {
		return err
	}
	if out.Duplicate {
		return nil
	}
	if m.cfg.EnableCompression {
		m.metrics.RecordCompression(s.h.ID, out.RawBytes, out.EmittedBytes)
	}
	// A cancelled stream must not emit; the chunk is the discarded in-flight pull.
	if s.ctx.Err() != nil {
		return nil
	}
	if err := s.sink.Write(out.Frame); err != nil {
		return fmt.Errorf("streamx: write to sink: %w", err)
	}
	return nil
}

// teardown closes the producer and sink of a stream that has reached a
// terminal state, then sweeps its dedup entries and closes Done.
func (m *Manager) teardown(s *stream) {
	defer close(s.h.done)
	cause := s.h.Err()
	if cause == nil {
		cause = ErrDone
	}
	_ = s.prod.CloseWithError(cause)

	if s.h.State() == StateErrored {
		if frame, err := s.pipe.ErrorFrame(s.h.Err()); err != nil {
			m.logger.Error("streamx: encode error frame", "stream", s.h.ID, "error", err)
		} else if err := s.sink.Write(frame); err != nil {
			m.logger.Warn("streamx: write error frame", "stream", s.h.ID, "error", err)
		}
	}
	if err := s.sink.Close(); err != nil {
		m.logger.Warn("streamx: close sink", "stream", s.h.ID, "error", err)
	}
	if m.dedup != nil {
		swept := m.dedup.Sweep()
		if m.cfg.DedupScope != DedupGlobal {
			swept += m.dedup.DropScope(s.h.ID)
		}
		if swept > 0 {
			m.logger.Debug("streamx: dedup entries swept", "stream", s.h.ID, "count", swept)
		}
	}
}
