package buffer

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestBlockBuffer(t *testing.T) {
	t.Run("fifo", func(t *testing.T) {
		bb := BlockN[int](4)
		for i := range 3 {
			if err := bb.Add(i); err != nil {
				t.Fatalf("add %d: %v", i, err)
			}
		}
		if bb.Len() != 3 {
			t.Fatalf("len=%d, want 3", bb.Len())
		}
		for i := range 3 {
			v, err := bb.Next()
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if v != i {
				t.Errorf("next=%d, want %d", v, i)
			}
		}
	})

	t.Run("size=1 blocks writer", func(t *testing.T) {
		bb := BlockN[int](1)
		producerErr := make(chan error, 1)
		go func() {
			for i := range 5 {
				if err := bb.Add(i); err != nil {
					producerErr <- fmt.Errorf("add %d: %w", i, err)
					return
				}
			}
			producerErr <- bb.CloseWrite()
		}()

		var got []int
		for {
			v, err := bb.Next()
			if errors.Is(err, ErrIteratorDone) {
				break
			}
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			got = append(got, v)
		}
		if err := <-producerErr; err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(got) != "[0 1 2 3 4]" {
			t.Errorf("got=%v", got)
		}
	})

	t.Run("close write drains", func(t *testing.T) {
		bb := BlockN[string](2)
		_ = bb.Add("a")
		_ = bb.CloseWrite()
		if err := bb.Add("b"); !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("add after CloseWrite: %v", err)
		}
		v, err := bb.Next()
		if err != nil || v != "a" {
			t.Fatalf("next=%q,%v", v, err)
		}
		if _, err := bb.Next(); !errors.Is(err, ErrIteratorDone) {
			t.Errorf("next on drained buffer: %v", err)
		}
	})

	t.Run("close with error unblocks reader", func(t *testing.T) {
		bb := BlockN[int](2)
		boom := errors.New("boom")
		done := make(chan error, 1)
		go func() {
			_, err := bb.Next()
			done <- err
		}()
		time.Sleep(10 * time.Millisecond)
		_ = bb.CloseWithError(boom)
		select {
		case err := <-done:
			if !errors.Is(err, boom) {
				t.Errorf("next err=%v, want boom", err)
			}
		case <-time.After(time.Second):
			t.Fatal("reader not unblocked")
		}
		if !errors.Is(bb.Error(), boom) {
			t.Errorf("Error()=%v", bb.Error())
		}
		if err := bb.Add(1); !errors.Is(err, boom) {
			t.Errorf("add after close: %v", err)
		}
	})

	t.Run("close with error unblocks writer", func(t *testing.T) {
		bb := BlockN[int](1)
		_ = bb.Add(1)
		done := make(chan error, 1)
		go func() { done <- bb.Add(2) }()
		time.Sleep(10 * time.Millisecond)
		_ = bb.Close()
		select {
		case err := <-done:
			if !errors.Is(err, io.ErrClosedPipe) {
				t.Errorf("add err=%v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("writer not unblocked")
		}
	})
}
