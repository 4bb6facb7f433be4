package rawhttp

import (
	"bytes"
	"io"
	"sync"
)

// Payload holds a request body behind a single-materialization slot.
// The underlying transport bytes are read at most once: the first Take
// materializes and caches them, every later Take observes the cached
// result. That is what lets body-consuming extractors run in any
// declared order without double-reading the stream.
//
// The guard is a mutex rather than a convention. Extractor evaluation is
// sequential within one request, but the caller controls the order and
// the cell must stay correct even when misused from two goroutines.
type Payload struct {
	mu        sync.Mutex
	src       io.ReadCloser
	limit     int64
	onFirst   func() error // armed by the server for Expect: 100-continue
	data      []byte
	took      bool
	discarded bool
	err       error
}

// NewPayload wraps src. limit > 0 bounds materialization; exceeding it
// fails Take with ErrBodyTooLarge.
func NewPayload(src io.ReadCloser, limit int64) *Payload {
	return &Payload{src: src, limit: limit}
}

// NewBytesPayload is a pre-materialized payload, useful for outbound
// requests and tests.
func NewBytesPayload(b []byte) *Payload {
	return &Payload{data: b, took: true}
}

// Take returns the body bytes. The first call reads the underlying
// source to completion and caches the result; later calls return the
// same bytes (or the same error) without touching the transport. Taking
// after a bare Discard fails with ErrBodyConsumed.
func (p *Payload) Take() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.took {
		return p.data, p.err
	}
	if p.discarded {
		return nil, ErrBodyConsumed
	}
	p.took = true
	p.data, p.err = p.materialize()
	return p.data, p.err
}

func (p *Payload) materialize() ([]byte, error) {
	if p.src == nil {
		return nil, nil
	}
	defer func() {
		_ = p.src.Close()
		p.src = nil
	}()
	if p.onFirst != nil {
		hook := p.onFirst
		p.onFirst = nil
		if err := hook(); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	r := io.Reader(p.src)
	if p.limit > 0 {
		r = io.LimitReader(p.src, p.limit+1)
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	if p.limit > 0 && int64(buf.Len()) > p.limit {
		return nil, ErrBodyTooLarge
	}
	return buf.Bytes(), nil
}

// Discard drains the body without caching it. If nothing has been
// materialized yet, any later Take fails with ErrBodyConsumed and never
// reads the transport again; bytes already cached by a previous Take
// stay available.
func (p *Payload) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.took || p.discarded {
		return nil
	}
	p.discarded = true
	return p.drain()
}

// Close drains whatever the handler left unread so a keep-alive
// connection can carry the next request. It is idempotent.
func (p *Payload) Close() error {
	return p.Discard()
}

func (p *Payload) drain() error {
	if p.src == nil {
		return nil
	}
	if p.onFirst != nil {
		// The peer is still waiting for a 100 Continue and has not sent
		// the body. There is nothing on the wire to drain, and the
		// source's own Close would block waiting for it. The hook stays
		// armed so continuePending keeps reporting the state.
		p.src = nil
		return nil
	}
	src := p.src
	p.src = nil
	if _, err := io.Copy(io.Discard, src); err != nil {
		_ = src.Close()
		return err
	}
	return src.Close()
}

// continuePending reports whether an armed first-read hook never fired,
// meaning the peer was never told to send the body. The server must not
// reuse such a connection: the body may still arrive.
func (p *Payload) continuePending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onFirst != nil
}

// outbound hands the transport what it should send: the cached bytes
// when the payload was materialized, otherwise the raw source. Claiming
// the source consumes the payload.
func (p *Payload) outbound() ([]byte, io.ReadCloser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.took && p.err == nil {
		return p.data, nil
	}
	if p.discarded || p.src == nil {
		return nil, nil
	}
	p.discarded = true
	src := p.src
	p.src = nil
	return nil, src
}
