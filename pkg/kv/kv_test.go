package kv

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]Store{
		"memory": NewMemory(nil),
		"badger": b,
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := Key{"replay", "v1", "k1"}
			if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing: %v", err)
			}
			if err := s.Set(ctx, key, []byte("one"), 0); err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, key, []byte("two"), 0); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx, key)
			if err != nil || string(got) != "two" {
				t.Fatalf("Get=%q,%v", got, err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete: %v", err)
			}
			if err := s.Delete(ctx, Key{"never", "set"}); err != nil {
				t.Errorf("Delete missing: %v", err)
			}
		})
	}
}

func TestStore_InvalidKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, Key{"a:b"}, nil, 0); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("separator in segment: %v", err)
			}
			if _, err := s.Get(ctx, nil); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("empty key: %v", err)
			}
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []Key{{"r", "b"}, {"r", "a"}, {"rx", "c"}, {"r", "c", "d"}} {
				if err := s.Set(ctx, k, []byte(k.String()), 0); err != nil {
					t.Fatal(err)
				}
			}
			var got []string
			for e, err := range s.List(ctx, Key{"r"}) {
				if err != nil {
					t.Fatal(err)
				}
				if string(e.Value) != e.Key.String() {
					t.Errorf("value %q for key %v", e.Value, e.Key)
				}
				got = append(got, e.Key.String())
			}
			want := []string{"r:a", "r:b", "r:c:d"}
			if !slices.Equal(got, want) {
				t.Errorf("List=%v, want %v", got, want)
			}

			n := 0
			for range s.List(ctx, nil) {
				n++
				if n == 2 {
					break
				}
			}
			if n != 2 {
				t.Errorf("early break yielded %d", n)
			}
		})
	}
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(&Options{Separator: '/'})
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, Key{"s", "short"}, []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, Key{"s", "forever"}, []byte("y"), 0); err != nil {
		t.Fatal(err)
	}
	for e, err := range m.List(ctx, Key{"s"}) {
		if err != nil {
			t.Fatal(err)
		}
		if e.Key[1] == "short" && !e.ExpiresAt.Equal(now.Add(time.Minute)) {
			t.Errorf("ExpiresAt=%v", e.ExpiresAt)
		}
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, Key{"s", "short"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired Get: %v", err)
	}
	if v, err := m.Get(ctx, Key{"s", "forever"}); err != nil || string(v) != "y" {
		t.Errorf("Get forever=%q,%v", v, err)
	}
	if m.Len() != 1 {
		t.Errorf("Len=%d after lazy expiry", m.Len())
	}
}

func TestBadger_TTL(t *testing.T) {
	ctx := context.Background()
	b, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	before := time.Now()
	if err := b.Set(ctx, Key{"t", "k"}, []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	for e, err := range b.List(ctx, Key{"t"}) {
		if err != nil {
			t.Fatal(err)
		}
		lo := before.Add(time.Hour - time.Second)
		hi := time.Now().Add(time.Hour + time.Second)
		if e.ExpiresAt.Before(lo) || e.ExpiresAt.After(hi) {
			t.Errorf("ExpiresAt=%v, want about an hour from now", e.ExpiresAt)
		}
	}
}

func TestNewBadger_RequiresDir(t *testing.T) {
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Error("NewBadger without dir succeeded")
	}
}

func TestKeyString(t *testing.T) {
	if got := (Key{"a", "b"}).String(); got != "a:b" {
		t.Errorf("String=%q", got)
	}
}
