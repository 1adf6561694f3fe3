package replay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/haivivi/streamx/pkg/kv"
	"github.com/haivivi/streamx/pkg/storage"
)

// Persister stores snapshots outside the process.
type Persister interface {
	Save(ctx context.Context, s *Snapshot) error
	// Load returns ErrNotFound for missing or expired snapshots.
	Load(ctx context.Context, key string) (*Snapshot, error)
	Delete(ctx context.Context, key string) error
	// Sweep removes expired snapshots the backend does not expire itself.
	Sweep(ctx context.Context) (int, error)
}

// Cache keys may hold any byte; backends get them base64url encoded.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// KVPersister keeps snapshots in a kv.Store under Prefix, with the
// remaining TTL passed to the store.
type KVPersister struct {
	Store  kv.Store
	Prefix kv.Key
	now    func() time.Time
}

// NewKVPersister creates a KVPersister. An empty prefix defaults to
// {"replay"}.
func NewKVPersister(store kv.Store, prefix ...string) *KVPersister {
	if len(prefix) == 0 {
		prefix = []string{"replay"}
	}
	return &KVPersister{Store: store, Prefix: kv.Key(prefix), now: time.Now}
}

func (p *KVPersister) key(key string) kv.Key {
	return append(append(kv.Key{}, p.Prefix...), encodeKey(key))
}

func (p *KVPersister) Save(ctx context.Context, s *Snapshot) error {
	ttl := s.TTL(p.now())
	if ttl <= 0 {
		return nil
	}
	b, err := s.Marshal()
	if err != nil {
		return err
	}
	return p.Store.Set(ctx, p.key(s.Key), b, ttl)
}

func (p *KVPersister) Load(ctx context.Context, key string) (*Snapshot, error) {
	b, err := p.Store.Get(ctx, p.key(key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, err := UnmarshalSnapshot(b)
	if err != nil {
		return nil, err
	}
	if s.TTL(p.now()) <= 0 {
		return nil, ErrNotFound
	}
	return s, nil
}

func (p *KVPersister) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.key(key))
}

// Sweep is a no-op: kv stores expire entries themselves.
func (p *KVPersister) Sweep(context.Context) (int, error) {
	return 0, nil
}

// FilePersister writes one snapshot file per key through a FileStore.
type FilePersister struct {
	Store  storage.FileStore
	Prefix string
	now    func() time.Time
}

const snapshotExt = ".snap"

// NewFilePersister creates a FilePersister writing under prefix (default
// "replay/").
func NewFilePersister(store storage.FileStore, prefix string) *FilePersister {
	if prefix == "" {
		prefix = "replay/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &FilePersister{Store: store, Prefix: prefix, now: time.Now}
}

func (p *FilePersister) name(key string) string {
	return p.Prefix + encodeKey(key) + snapshotExt
}

func (p *FilePersister) Save(ctx context.Context, s *Snapshot) error {
	b, err := s.Marshal()
	if err != nil {
		return err
	}
	w, err := p.Store.Write(ctx, p.name(s.Key))
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		w.Close()
		return fmt.Errorf("replay: write snapshot: %w", err)
	}
	return w.Close()
}

func (p *FilePersister) Load(ctx context.Context, key string) (*Snapshot, error) {
	s, err := p.read(ctx, p.name(key))
	if err != nil {
		return nil, err
	}
	if s.TTL(p.now()) <= 0 {
		_ = p.Store.Delete(ctx, p.name(key))
		return nil, ErrNotFound
	}
	return s, nil
}

func (p *FilePersister) read(ctx context.Context, name string) (*Snapshot, error) {
	r, err := p.Store.Read(ctx, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("replay: read snapshot: %w", err)
	}
	return UnmarshalSnapshot(b)
}

func (p *FilePersister) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.name(key))
}

// Sweep deletes expired and unreadable snapshot files.
func (p *FilePersister) Sweep(ctx context.Context) (int, error) {
	names, err := p.Store.List(ctx, p.Prefix)
	if err != nil {
		return 0, err
	}
	now := p.now()
	n := 0
	for _, name := range names {
		if !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		s, err := p.read(ctx, name)
		if err == nil && s.TTL(now) > 0 {
			continue
		}
		if err := p.Store.Delete(ctx, name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

var (
	_ Persister = (*KVPersister)(nil)
	_ Persister = (*FilePersister)(nil)
)
