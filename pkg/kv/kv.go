// Package kv is the key-value layer replay snapshots persist through.
//
// Keys are paths of segments, e.g. Key{"replay", "v1", "abc"}, joined with a
// separator byte (':' unless configured). Values may carry a time-to-live
// after which the store treats them as absent.
//
// Memory is an in-process store for tests and single-node setups; Badger
// persists to disk and expires entries natively.
package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get for missing or expired keys.
	ErrNotFound = errors.New("kv: not found")

	// ErrInvalidKey is returned for empty keys or segments that contain
	// the separator.
	ErrInvalidKey = errors.New("kv: invalid key")
)

// Key is a hierarchical path.
type Key []string

// String joins the segments with ':' for display.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Entry is one listed record. ExpiresAt is zero for entries without a TTL.
type Entry struct {
	Key       Key
	Value     []byte
	ExpiresAt time.Time
}

// Store is a key-value store with path keys and optional expiry.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value at key, replacing any previous value. A positive
	// ttl makes the entry expire after that long.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields the live entries under prefix in encoded key order. An
	// empty prefix lists everything.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	Close() error
}

// DefaultSeparator joins key segments.
const DefaultSeparator byte = ':'

// Options configures key encoding.
type Options struct {
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

func (o *Options) encode(k Key) ([]byte, error) {
	if len(k) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	s := o.sep()
	var buf bytes.Buffer
	for i, seg := range k {
		if strings.IndexByte(seg, s) >= 0 {
			return nil, fmt.Errorf("%w: segment %q contains %q", ErrInvalidKey, seg, s)
		}
		if i > 0 {
			buf.WriteByte(s)
		}
		buf.WriteString(seg)
	}
	return buf.Bytes(), nil
}

// prefix returns the encoded scan prefix for p. The trailing separator keeps
// "a:b" from matching "a:bc".
func (o *Options) prefix(p Key) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := o.encode(p)
	if err != nil {
		return nil, err
	}
	return append(b, o.sep()), nil
}

func (o *Options) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{o.sep()})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}
