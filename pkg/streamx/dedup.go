package streamx

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// HashChunk returns the 64-bit xxhash of the chunk's content. The part kind
// is mixed in so a Text and a Blob with equal bytes do not collide; the
// chunk Name is ignored.
func HashChunk(c *Chunk) (uint64, error) {
	d := xxhash.New()
	switch p := c.Part.(type) {
	case Text:
		_, _ = d.Write([]byte{kindText})
		_, _ = d.WriteString(string(p))
	case *Blob:
		_, _ = d.Write([]byte{kindBlob})
		_, _ = d.WriteString(p.MIMEType)
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(p.Data)
	case Structured:
		b, err := canonicalStructured(p)
		if err != nil {
			return 0, &SerializationError{Err: err}
		}
		_, _ = d.Write([]byte{kindStructured})
		_, _ = d.Write(b)
	case *ErrorPart:
		_, _ = d.Write([]byte{kindError})
		_, _ = d.WriteString(p.Kind)
		_, _ = d.WriteString(p.Message)
	default:
		return 0, ErrInvalidChunk
	}
	return d.Sum64(), nil
}

type dedupEntry struct {
	scope      string
	hash       uint64
	insertedAt time.Time
}

// DedupCache remembers content hashes for a horizon. Entries are kept in
// insertion order, so expiry and the size bound both evict from the front.
// The insertion time lives in the entry; chunk payloads are never inspected
// for timestamps.
type DedupCache struct {
	horizon time.Duration
	limit   int
	now     func() time.Time

	mu     sync.Mutex
	order  *list.List
	scopes map[string]map[uint64]*list.Element
}

// NewDedupCache creates a cache suppressing repeats for horizon, holding at
// most limit entries (0 means unbounded).
func NewDedupCache(horizon time.Duration, limit int) *DedupCache {
	return &DedupCache{
		horizon: horizon,
		limit:   limit,
		now:     time.Now,
		order:   list.New(),
		scopes:  make(map[string]map[uint64]*list.Element),
	}
}

// Seen reports whether hash was recorded in scope within the horizon. If
// not, it records it and returns false.
func (dc *DedupCache) Seen(scope string, hash uint64) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	// Read under the lock so order stays sorted by insertedAt.
	now := dc.now()

	hashes := dc.scopes[scope]
	if el, ok := hashes[hash]; ok {
		if now.Sub(el.Value.(*dedupEntry).insertedAt) < dc.horizon {
			return true
		}
		dc.removeLocked(el)
		hashes = dc.scopes[scope]
	}
	if hashes == nil {
		hashes = make(map[uint64]*list.Element)
		dc.scopes[scope] = hashes
	}
	hashes[hash] = dc.order.PushBack(&dedupEntry{scope: scope, hash: hash, insertedAt: now})
	for dc.limit > 0 && dc.order.Len() > dc.limit {
		dc.removeLocked(dc.order.Front())
	}
	return false
}

// Sweep removes entries older than the horizon and returns how many were
// removed.
func (dc *DedupCache) Sweep() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	cutoff := dc.now().Add(-dc.horizon)
	n := 0
	for el := dc.order.Front(); el != nil; el = dc.order.Front() {
		if el.Value.(*dedupEntry).insertedAt.After(cutoff) {
			break
		}
		dc.removeLocked(el)
		n++
	}
	return n
}

// DropScope removes every entry recorded under scope.
func (dc *DedupCache) DropScope(scope string) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	hashes := dc.scopes[scope]
	n := len(hashes)
	for _, el := range hashes {
		dc.order.Remove(el)
	}
	delete(dc.scopes, scope)
	return n
}

// Len returns the number of entries.
func (dc *DedupCache) Len() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.order.Len()
}

func (dc *DedupCache) removeLocked(el *list.Element) {
	e := dc.order.Remove(el).(*dedupEntry)
	hashes := dc.scopes[e.scope]
	delete(hashes, e.hash)
	if len(hashes) == 0 {
		delete(dc.scopes, e.scope)
	}
}
