package rawhttp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// trackedSource counts reads so tests can prove the transport is
// touched at most once.
type trackedSource struct {
	r      io.Reader
	reads  int
	closed bool
}

func (s *trackedSource) Read(p []byte) (int, error) {
	s.reads++
	return s.r.Read(p)
}

func (s *trackedSource) Close() error {
	s.closed = true
	return nil
}

func TestPayload_TakeTwiceReturnsCachedBytes(t *testing.T) {
	src := &trackedSource{r: strings.NewReader("hello")}
	p := NewPayload(src, 0)

	b1, err := p.Take()
	if err != nil {
		t.Fatalf("first Take: %v", err)
	}
	if string(b1) != "hello" {
		t.Fatalf("first Take=%q", string(b1))
	}
	reads := src.reads

	b2, err := p.Take()
	if err != nil {
		t.Fatalf("second Take: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("second Take=%q, want identical bytes", string(b2))
	}
	if src.reads != reads {
		t.Fatalf("second Take touched the source: %d reads, was %d", src.reads, reads)
	}
	if !src.closed {
		t.Fatal("source not closed after materialization")
	}
}

func TestPayload_TakeAfterDiscard(t *testing.T) {
	src := &trackedSource{r: strings.NewReader("hello")}
	p := NewPayload(src, 0)

	if err := p.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	reads := src.reads
	if _, err := p.Take(); !errors.Is(err, ErrBodyConsumed) {
		t.Fatalf("Take after Discard: err=%v, want ErrBodyConsumed", err)
	}
	if src.reads != reads {
		t.Fatalf("Take after Discard touched the source: %d reads, was %d", src.reads, reads)
	}
}

func TestPayload_DiscardAfterTakeKeepsBytes(t *testing.T) {
	p := NewPayload(io.NopCloser(strings.NewReader("hello")), 0)
	b1, err := p.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := p.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	b2, err := p.Take()
	if err != nil {
		t.Fatalf("Take after Discard: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("bytes lost after Discard: %q vs %q", b1, b2)
	}
}

func TestPayload_LimitExceeded(t *testing.T) {
	p := NewPayload(io.NopCloser(strings.NewReader("hello!")), 5)
	if _, err := p.Take(); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err=%v, want ErrBodyTooLarge", err)
	}
	// The failure is cached like a success.
	if _, err := p.Take(); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("repeat err=%v, want ErrBodyTooLarge", err)
	}
}

func TestPayload_LimitExact(t *testing.T) {
	p := NewPayload(io.NopCloser(strings.NewReader("hello")), 5)
	b, err := p.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("body=%q", string(b))
	}
}

func TestPayload_BytesPayload(t *testing.T) {
	p := NewBytesPayload([]byte("abc"))
	b, err := p.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if string(b) != "abc" {
		t.Fatalf("body=%q", string(b))
	}
}

func TestPayload_CloseIdempotent(t *testing.T) {
	src := &trackedSource{r: strings.NewReader("hello")}
	p := NewPayload(src, 0)
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !src.closed {
		t.Fatal("source not closed")
	}
}

func TestPayload_ConcurrentTake(t *testing.T) {
	p := NewPayload(io.NopCloser(strings.NewReader("hello")), 0)
	var wg sync.WaitGroup
	out := make([][]byte, 8)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := p.Take()
			if err != nil {
				t.Errorf("Take: %v", err)
				return
			}
			out[i] = b
		}(i)
	}
	wg.Wait()
	for i, b := range out {
		if string(b) != "hello" {
			t.Fatalf("goroutine %d saw %q", i, string(b))
		}
	}
}
