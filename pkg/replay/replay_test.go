package replay

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haivivi/streamx/pkg/kv"
	"github.com/haivivi/streamx/pkg/storage"
	"github.com/haivivi/streamx/pkg/streamx"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T, opts Options, clk *clock, copts ...Option) *Cache {
	t.Helper()
	c, err := New(opts, append([]Option{WithLogger(quiet())}, copts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if clk != nil {
		c.now = clk.Now
	}
	return c
}

// textFactory counts invocations and yields the given texts.
func textFactory(calls *atomic.Int32, texts ...string) ProducerFactory {
	return func(context.Context) (streamx.Producer, error) {
		calls.Add(1)
		chunks := make([]*streamx.Chunk, len(texts))
		for i, s := range texts {
			chunks[i] = streamx.NewTextChunk(s)
		}
		return streamx.FromSlice(chunks...), nil
	}
}

func texts(t *testing.T, p streamx.Producer) []string {
	t.Helper()
	var out []string
	for {
		c, err := p.Next()
		if streamx.IsDone(err) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, string(c.Part.(streamx.Text)))
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCache_MissThenHit(t *testing.T) {
	c := newCache(t, Options{}, nil)
	var calls atomic.Int32
	f := textFactory(&calls, "a", "b", "c")
	ctx := context.Background()

	for i := range 3 {
		seq, err := c.GetOrCreate(ctx, "k", f, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got := texts(t, seq); !equal(got, []string{"a", "b", "c"}) {
			t.Errorf("round %d: %v", i, got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("factory calls=%d, want 1", calls.Load())
	}
	if _, ok := c.Get("k"); !ok {
		t.Error("Get missed a cached key")
	}
	if _, ok := c.Get("other"); ok {
		t.Error("Get hit an unknown key")
	}
}

func TestCache_ConcurrentMissMaterializesOnce(t *testing.T) {
	c := newCache(t, Options{}, nil)
	release := make(chan struct{})
	var calls atomic.Int32
	f := func(context.Context) (streamx.Producer, error) {
		calls.Add(1)
		<-release
		return streamx.FromSlice(streamx.NewTextChunk("x")), nil
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := c.GetOrCreate(context.Background(), "k", f, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if seq.Len() != 1 {
				t.Errorf("Len=%d", seq.Len())
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("factory calls=%d, want 1", calls.Load())
	}
}

func TestCache_ProducerErrorNotCached(t *testing.T) {
	c := newCache(t, Options{}, nil)
	boom := errors.New("upstream down")
	fail := func(context.Context) (streamx.Producer, error) {
		sb := streamx.NewStreamBuilder(4)
		_ = sb.Text("partial")
		_ = sb.Abort(boom)
		return sb.Stream(), nil
	}
	_, err := c.GetOrCreate(context.Background(), "k", fail, 0)
	var pe *streamx.ProducerError
	if !errors.As(err, &pe) || !errors.Is(err, boom) || pe.StreamID != "k" {
		t.Fatalf("err=%v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len=%d after failure", c.Len())
	}

	var calls atomic.Int32
	seq, err := c.GetOrCreate(context.Background(), "k", textFactory(&calls, "ok"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := texts(t, seq); !equal(got, []string{"ok"}) {
		t.Errorf("retry=%v", got)
	}
}

func TestCache_FactoryError(t *testing.T) {
	c := newCache(t, Options{}, nil)
	boom := errors.New("cannot start")
	_, err := c.GetOrCreate(context.Background(), "k", func(context.Context) (streamx.Producer, error) {
		return nil, boom
	}, 0)
	var pe *streamx.ProducerError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Errorf("err=%v", err)
	}
}

func TestCache_TTL(t *testing.T) {
	clk := newClock()
	c := newCache(t, Options{TTL: 0}, clk)
	var calls atomic.Int32
	f := textFactory(&calls, "v")
	ctx := context.Background()

	if _, err := c.GetOrCreate(ctx, "short", f, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrCreate(ctx, "long", f, time.Hour); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)

	if _, ok := c.Get("short"); ok {
		t.Error("expired entry still served")
	}
	if n := c.Sweep(); n != 0 {
		t.Errorf("Sweep=%d, lazy lookup should have removed it", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len=%d", c.Len())
	}

	clk.Advance(time.Hour)
	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep=%d, want 1", n)
	}
	if _, err := c.GetOrCreate(ctx, "short", f, 0); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("factory calls=%d, want 3", calls.Load())
	}
}

func TestCache_TooLarge(t *testing.T) {
	c := newCache(t, Options{MaxChunks: 5}, nil)
	infinite := func(context.Context) (streamx.Producer, error) {
		var seq iter.Seq2[*streamx.Chunk, error] = func(yield func(*streamx.Chunk, error) bool) {
			for {
				if !yield(streamx.NewTextChunk("again"), nil) {
					return
				}
			}
		}
		return streamx.FromSeq(seq), nil
	}
	_, err := c.GetOrCreate(context.Background(), "inf", infinite, 0)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v", err)
	}

	c = newCache(t, Options{MaxBytes: 4}, nil)
	var calls atomic.Int32
	if _, err := c.GetOrCreate(context.Background(), "big", textFactory(&calls, "abc", "def"), 0); !errors.Is(err, ErrTooLarge) {
		t.Errorf("bytes limit err=%v", err)
	}
}

func TestCache_CallerCancelKeepsSharedMaterialize(t *testing.T) {
	c := newCache(t, Options{}, nil)
	sb := streamx.NewStreamBuilder(4)
	started := make(chan struct{})
	var calls atomic.Int32
	factory := func(context.Context) (streamx.Producer, error) {
		calls.Add(1)
		close(started)
		return sb.Stream(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(ctx, "k", factory, 0)
		first <- err
	}()
	<-started

	second := make(chan *Sequence, 1)
	go func() {
		seq, err := c.GetOrCreate(context.Background(), "k", factory, 0)
		if err != nil {
			t.Error(err)
		}
		second <- seq
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err=%v, want context.Canceled", err)
	}
	_ = sb.Text("a")
	_ = sb.Text("b")
	_ = sb.Done()

	select {
	case seq := <-second:
		if seq == nil {
			t.Fatal("second caller got no sequence")
		}
		if got := texts(t, seq); !equal(got, []string{"a", "b"}) {
			t.Errorf("second caller=%v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second caller never returned")
	}
	if calls.Load() != 1 {
		t.Errorf("factory calls=%d, want 1", calls.Load())
	}
	if _, ok := c.Get("k"); !ok {
		t.Error("shared materialization not cached")
	}
}

func TestSequence_ReturnsCopies(t *testing.T) {
	c := newCache(t, Options{}, nil)
	f := func(context.Context) (streamx.Producer, error) {
		return streamx.FromSlice(streamx.NewBlobChunk("application/octet-stream", []byte{1, 2, 3})), nil
	}
	seq, err := c.GetOrCreate(context.Background(), "b", f, 0)
	if err != nil {
		t.Fatal(err)
	}
	ch, _ := seq.Next()
	ch.Part.(*streamx.Blob).Data[0] = 9

	seq2, _ := c.Get("b")
	ch2, _ := seq2.Next()
	if ch2.Part.(*streamx.Blob).Data[0] != 1 {
		t.Error("mutating a replayed chunk changed the cache")
	}

	_ = seq2.CloseWithError(io.ErrUnexpectedEOF)
	if _, err := seq2.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Next after close=%v", err)
	}
}

func TestCache_Invalidate(t *testing.T) {
	store := kv.NewMemory(nil)
	c := newCache(t, Options{}, nil, WithPersister(NewKVPersister(store)))
	var calls atomic.Int32
	ctx := context.Background()
	if _, err := c.GetOrCreate(ctx, "k", textFactory(&calls, "v"), 0); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("persisted=%d", store.Len())
	}
	if err := c.Invalidate(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 || store.Len() != 0 {
		t.Errorf("Len=%d persisted=%d after Invalidate", c.Len(), store.Len())
	}
}

func TestCache_Run(t *testing.T) {
	c := newCache(t, Options{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run=%v", err)
	}
}

func persisters(t *testing.T) map[string]Persister {
	t.Helper()
	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b, err := kv.NewBadger(kv.BadgerOptions{InMemory: true, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]Persister{
		"kv-memory": NewKVPersister(kv.NewMemory(nil)),
		"kv-badger": NewKVPersister(b, "snapshots", "v1"),
		"file":      NewFilePersister(local, ""),
	}
}

func TestPersister_RestoresAcrossCaches(t *testing.T) {
	ctx := context.Background()
	for name, p := range persisters(t) {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			f := textFactory(&calls, "one", "two")

			first := newCache(t, Options{}, nil, WithPersister(p))
			if _, err := first.GetOrCreate(ctx, "req/1?x=y", f, time.Hour); err != nil {
				t.Fatal(err)
			}

			second := newCache(t, Options{}, nil, WithPersister(p))
			seq, err := second.GetOrCreate(ctx, "req/1?x=y", f, time.Hour)
			if err != nil {
				t.Fatal(err)
			}
			if got := texts(t, seq); !equal(got, []string{"one", "two"}) {
				t.Errorf("restored=%v", got)
			}
			if calls.Load() != 1 {
				t.Errorf("factory calls=%d, want 1", calls.Load())
			}
			if second.Len() != 1 {
				t.Error("restored entry not kept in memory")
			}
		})
	}
}

func TestFilePersister_Sweep(t *testing.T) {
	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clk := newClock()
	p := NewFilePersister(local, "snaps")
	p.now = clk.Now
	ctx := context.Background()

	for key, ttl := range map[string]time.Duration{"a": time.Minute, "b": time.Hour} {
		s := &Snapshot{Key: key, InsertedAt: clk.Now(), ExpiresAt: clk.Now().Add(ttl)}
		if err := p.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	clk.Advance(2 * time.Minute)

	if _, err := p.Load(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load expired=%v", err)
	}
	if err := p.Save(ctx, &Snapshot{Key: "c", ExpiresAt: clk.Now()}); err != nil {
		t.Fatal(err)
	}
	n, err := p.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Sweep=%d, want 1", n)
	}
	names, _ := local.List(ctx, "snaps/")
	if len(names) != 1 {
		t.Errorf("remaining=%v", names)
	}
}

func TestSnapshot_Marshal(t *testing.T) {
	e := &entry{
		key: "k",
		chunks: []*streamx.Chunk{
			{Name: "m", Part: streamx.Text("hi")},
			streamx.NewBlobChunk("image/png", []byte{0x89, 'P'}),
			{Part: streamx.Structured{"n": int64(1)}},
		},
		insertedAt: time.Unix(100, 0),
		expiresAt:  time.Unix(200, 0),
	}
	s, err := newSnapshot(e)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalSnapshot(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != "k" || !got.ExpiresAt.Equal(e.expiresAt) {
		t.Errorf("snapshot=%+v", got)
	}
	chunks, err := got.Chunks()
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 || chunks[0].Name != "m" || string(chunks[0].Part.(streamx.Text)) != "hi" {
		t.Errorf("chunks=%+v", chunks)
	}
	if _, err := UnmarshalSnapshot([]byte("not zstd")); err == nil {
		t.Error("garbage decoded")
	}
}

func TestSequence_FeedsManager(t *testing.T) {
	c := newCache(t, Options{}, nil)
	var calls atomic.Int32
	seq, err := c.GetOrCreate(context.Background(), "k", textFactory(&calls, "x", "y"), 0)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := streamx.NewManager(streamx.Config{}, streamx.WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	sink := streamx.NewCollectSink()
	if _, err := mgr.CreateStream(context.Background(), "replay-k", seq, sink); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sink.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replay stream did not finish")
	}
	chunks, err := sink.Chunks()
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Errorf("sink got %d chunks", len(chunks))
	}
}
