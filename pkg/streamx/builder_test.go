package streamx

import (
	"errors"
	"testing"
)

func TestStreamBuilder(t *testing.T) {
	sb := NewStreamBuilder(2)
	go func() {
		for _, s := range []string{"a", "b", "c", "d"} {
			if err := sb.Text(s); err != nil {
				return
			}
		}
		sb.Done()
	}()

	got := drainTexts(t, sb.Stream())
	if want := []string{"a", "b", "c", "d"}; !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStreamBuilder_Abort(t *testing.T) {
	boom := errors.New("boom")
	sb := NewStreamBuilder(4)
	_ = sb.Text("a")
	_ = sb.Abort(boom)
	if _, err := sb.Stream().Next(); !errors.Is(err, boom) {
		t.Errorf("Next err = %v", err)
	}
	if err := sb.Text("b"); !errors.Is(err, boom) {
		t.Errorf("Add after abort = %v", err)
	}
}

func TestStreamBuilder_ConsumerClose(t *testing.T) {
	sb := NewStreamBuilder(1)
	_ = sb.Text("a")
	added := make(chan error, 1)
	go func() { added <- sb.Text("b") }()
	_ = sb.Stream().Close()
	if err := <-added; err == nil {
		t.Error("blocked Add not released by consumer close")
	}
	if err := sb.Add(nil); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("Add(nil) = %v", err)
	}
}

func drainTexts(t *testing.T, p Producer) []string {
	t.Helper()
	var out []string
	for {
		c, err := p.Next()
		if IsDone(err) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, string(c.Part.(Text)))
	}
}

func equalStrings(a, b []string) bool {
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
