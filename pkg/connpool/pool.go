package connpool

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Conn is a pooled connection. Closing it, or any failed Read or Write,
// removes it from its pool.
type Conn struct {
	net.Conn

	ID       string
	Endpoint string

	pool     *Pool
	once     sync.Once
	closeErr error
	done     chan struct{}
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil && !isTimeout(err) {
		c.Close()
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err != nil && !isTimeout(err) {
		c.Close()
	}
	return n, err
}

// Close deregisters and closes the connection. It is safe to call more
// than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.pool.remove(c)
		c.closeErr = c.Conn.Close()
		close(c.done)
		c.pool.logger.Debug("connpool: connection closed", "endpoint", c.Endpoint, "conn", c.ID)
	})
	return c.closeErr
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger. Defaults to slog.Default().
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithWarmConcurrency bounds parallel dials in Warm. Defaults to 4.
func WithWarmConcurrency(n int) PoolOption {
	return func(p *Pool) { p.warmLimit = n }
}

// Pool keeps live connections per endpoint.
type Pool struct {
	rc        *Reconnector
	logger    *slog.Logger
	warmLimit int
	flight    singleflight.Group

	mu     sync.Mutex
	conns  map[string][]*Conn
	closed bool
}

// NewPool creates a pool that opens connections through rc.
func NewPool(rc *Reconnector, opts ...PoolOption) *Pool {
	p := &Pool{
		rc:        rc,
		logger:    slog.Default(),
		warmLimit: 4,
		conns:     make(map[string][]*Conn),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Dial opens a new connection to endpoint and registers it.
func (p *Pool) Dial(ctx context.Context, endpoint string) (*Conn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	nc, err := p.rc.Connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		Conn:     nc,
		ID:       uuid.NewString(),
		Endpoint: endpoint,
		pool:     p,
		done:     make(chan struct{}),
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		nc.Close()
		return nil, ErrPoolClosed
	}
	p.conns[endpoint] = append(p.conns[endpoint], c)
	p.mu.Unlock()
	p.logger.Debug("connpool: connection opened", "endpoint", endpoint, "conn", c.ID)
	return c, nil
}

// Acquire returns a live connection to endpoint, dialing one if the pool
// has none. Concurrent misses on one endpoint share a single dial.
//
// A pooled connection is handed out without a liveness check. A peer that
// has gone away is noticed by the first Read or Write that fails, which
// deregisters the connection; callers retry with another Acquire.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*Conn, error) {
	if c := p.first(endpoint); c != nil {
		return c, nil
	}
	ch := p.flight.DoChan(endpoint, func() (any, error) {
		if c := p.first(endpoint); c != nil {
			return c, nil
		}
		// Detached so one caller's cancellation does not fail the others.
		return p.Dial(context.WithoutCancel(ctx), endpoint)
	})
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

func (p *Pool) first(endpoint string) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cs := p.conns[endpoint]; len(cs) > 0 {
		return cs[0]
	}
	return nil
}

// Warm dials every endpoint once, a few at a time, and returns how many
// connections were opened. Failures are logged and skipped.
func (p *Pool) Warm(ctx context.Context, endpoints []string) int {
	var (
		mu     sync.Mutex
		warmed int
		g      errgroup.Group
	)
	g.SetLimit(max(p.warmLimit, 1))
	for _, ep := range endpoints {
		g.Go(func() error {
			if _, err := p.Dial(ctx, ep); err != nil {
				p.logger.Warn("connpool: warm-up failed", "endpoint", ep, "error", err)
				return nil
			}
			mu.Lock()
			warmed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return warmed
}

// Conns returns the live connections to endpoint.
func (p *Pool) Conns(endpoint string) []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.conns[endpoint])
}

// Len returns the number of live connections across all endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, cs := range p.conns {
		n += len(cs)
	}
	return n
}

// Endpoints returns the endpoints with at least one live connection.
func (p *Pool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.conns))
	for ep := range p.conns {
		out = append(out, ep)
	}
	slices.Sort(out)
	return out
}

// Close closes every connection and rejects further dials.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	var all []*Conn
	for _, cs := range p.conns {
		all = append(all, cs...)
	}
	p.mu.Unlock()

	var errs []error
	for _, c := range all {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) remove(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs := p.conns[c.Endpoint]
	if i := slices.Index(cs, c); i >= 0 {
		cs = slices.Delete(cs, i, i+1)
	}
	if len(cs) == 0 {
		delete(p.conns, c.Endpoint)
	} else {
		p.conns[c.Endpoint] = cs
	}
}
