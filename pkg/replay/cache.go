package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haivivi/streamx/pkg/streamx"
)

// ProducerFactory starts the stream to materialize on a cache miss.
type ProducerFactory func(ctx context.Context) (streamx.Producer, error)

type entry struct {
	key        string
	chunks     []*streamx.Chunk
	size       int64
	insertedAt time.Time
	expiresAt  time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersister stores snapshots of every entry in p and consults it on
// memory misses.
func WithPersister(p Persister) Option {
	return func(c *Cache) { c.persister = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache is a TTL-bound store of materialized streams.
type Cache struct {
	opts      Options
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
	flight    singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Cache. Zero option fields take defaults.
func New(opts Options, copts ...Option) (*Cache, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		opts:    opts,
		logger:  slog.Default(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range copts {
		o(c)
	}
	return c, nil
}

// GetOrCreate returns a Sequence over the cached output for key. On a miss
// it loads a persisted snapshot or drains factory's producer completely and
// caches the result for ttl (Options.TTL when ttl <= 0). Concurrent misses
// for one key share a single materialization, which keeps running when
// the caller that started it gives up.
//
// A failing producer yields a *streamx.ProducerError and nothing is cached.
func (c *Cache) GetOrCreate(ctx context.Context, key string, factory ProducerFactory, ttl time.Duration) (*Sequence, error) {
	if e := c.lookup(key); e != nil {
		return newSequence(e.chunks), nil
	}
	if ttl <= 0 {
		ttl = c.opts.TTL.Std()
	}
	ch := c.flight.DoChan(key, func() (any, error) {
		if e := c.lookup(key); e != nil {
			return e, nil
		}
		// Detached so one caller leaving does not fail the others waiting
		// on the same key.
		fctx := context.WithoutCancel(ctx)
		if e := c.restore(fctx, key); e != nil {
			c.store(e)
			return e, nil
		}
		e, err := c.materialize(fctx, key, factory, ttl)
		if err != nil {
			return nil, err
		}
		c.store(e)
		c.persist(fctx, e)
		return e, nil
	})
	var v any
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("replay: %q: %w", key, context.Cause(ctx))
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v = res.Val
	}
	return newSequence(v.(*entry).chunks), nil
}

// Get returns a Sequence for a live in-memory entry.
func (c *Cache) Get(key string) (*Sequence, bool) {
	e := c.lookup(key)
	if e == nil {
		return nil, false
	}
	return newSequence(e.chunks), true
}

// Invalidate drops key from memory and from the persister.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.persister == nil {
		return nil
	}
	return c.persister.Delete(ctx, key)
}

// Len returns the number of in-memory entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired in-memory entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps memory, and the persister if any, every interval until ctx is
// done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n := c.Sweep()
			if c.persister != nil {
				pn, err := c.persister.Sweep(ctx)
				if err != nil {
					c.logger.Warn("replay: persister sweep failed", "error", err)
				}
				n += pn
			}
			if n > 0 {
				c.logger.Debug("replay: swept expired entries", "count", n)
			}
		}
	}
}

func (c *Cache) lookup(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *Cache) store(e *entry) {
	c.mu.Lock()
	c.entries[e.key] = e
	c.mu.Unlock()
}

func (c *Cache) materialize(ctx context.Context, key string, factory ProducerFactory, ttl time.Duration) (*entry, error) {
	p, err := factory(ctx)
	if err != nil {
		return nil, &streamx.ProducerError{StreamID: key, Err: err}
	}
	defer p.Close()

	e := &entry{key: key}
	for {
		ch, err := p.Next()
		if streamx.IsDone(err) {
			break
		}
		if err != nil {
			return nil, &streamx.ProducerError{StreamID: key, Err: err}
		}
		if ch == nil || ch.Part == nil {
			return nil, &streamx.ProducerError{StreamID: key, Err: streamx.ErrInvalidChunk}
		}
		e.chunks = append(e.chunks, ch.Clone())
		e.size += int64(ch.Size())
		if len(e.chunks) > c.opts.MaxChunks || e.size > c.opts.MaxBytes {
			p.CloseWithError(ErrTooLarge)
			return nil, fmt.Errorf("%w: %q exceeds %d chunks or %d bytes", ErrTooLarge, key, c.opts.MaxChunks, c.opts.MaxBytes)
		}
	}
	e.insertedAt = c.now()
	e.expiresAt = e.insertedAt.Add(ttl)
	c.logger.Debug("replay: materialized", "key", key, "chunks", len(e.chunks), "bytes", e.size)
	return e, nil
}

func (c *Cache) restore(ctx context.Context, key string) *entry {
	if c.persister == nil {
		return nil
	}
	snap, err := c.persister.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("replay: load snapshot failed", "key", key, "error", err)
		}
		return nil
	}
	if !c.now().Before(snap.ExpiresAt) {
		return nil
	}
	chunks, err := snap.Chunks()
	if err != nil {
		c.logger.Warn("replay: corrupt snapshot", "key", key, "error", err)
		return nil
	}
	e := &entry{key: key, chunks: chunks, insertedAt: snap.InsertedAt, expiresAt: snap.ExpiresAt}
	for _, ch := range chunks {
		e.size += int64(ch.Size())
	}
	return e
}

func (c *Cache) persist(ctx context.Context, e *entry) {
	if c.persister == nil {
		return
	}
	snap, err := newSnapshot(e)
	if err == nil {
		err = c.persister.Save(ctx, snap)
	}
	if err != nil {
		c.logger.Warn("replay: save snapshot failed", "key", e.key, "error", err)
	}
}
