package kv

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

func (e memEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// Memory is an in-memory Store. Expired entries are dropped lazily on
// access. It is safe for concurrent use.
type Memory struct {
	opts *Options
	now  func() time.Time

	mu   sync.Mutex
	data map[string]memEntry
}

// NewMemory creates an empty Memory store. opts may be nil.
func NewMemory(opts *Options) *Memory {
	return &Memory{
		opts: opts,
		now:  time.Now,
		data: make(map[string]memEntry),
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	k, err := m.opts.encode(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[string(k)]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.live(m.now()) {
		delete(m.data, string(k))
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	k, err := m.opts.encode(key)
	if err != nil {
		return err
	}
	e := memEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[string(k)] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	k, err := m.opts.encode(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, string(k))
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p, err := m.opts.prefix(prefix)
	if err != nil {
		return func(yield func(Entry, error) bool) { yield(Entry{}, err) }
	}

	m.mu.Lock()
	now := m.now()
	var out []Entry
	var keys []string
	for k, e := range m.data {
		if !strings.HasPrefix(k, string(p)) {
			continue
		}
		if !e.live(now) {
			delete(m.data, k)
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		e := m.data[k]
		out = append(out, Entry{Key: m.opts.decode([]byte(k)), Value: bytes.Clone(e.value), ExpiresAt: e.expires})
	}
	m.mu.Unlock()

	return func(yield func(Entry, error) bool) {
		for _, e := range out {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet
// dropped.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory) Close() error {
	return nil
}
