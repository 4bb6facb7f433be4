package rawhttp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okapilabs/wirekit/internal/obs"
	"github.com/okapilabs/wirekit/rawhttp/internal/h1"
)

// Server serves HTTP/1.x connections, one goroutine per connection.
// The zero value is usable; most callers set Addr and Handler.
type Server struct {
	Addr    string
	Handler Handler

	// ReadHeaderTimeout bounds reading one request's start line and
	// header block.
	ReadHeaderTimeout time.Duration

	// ReadTimeout applies between keep-alive requests when IdleTimeout
	// is unset.
	ReadTimeout time.Duration

	// WriteTimeout bounds flushing the tail of a response.
	WriteTimeout time.Duration

	// IdleTimeout bounds how long a keep-alive connection may sit
	// between requests.
	IdleTimeout time.Duration

	// MaxLineBytes caps one request or header line. Default 8 KiB.
	// Exceeding it is fatal for the connection (431).
	MaxLineBytes int

	// MaxHeaderBytes caps the whole header block. Default 64 KiB.
	MaxHeaderBytes int

	// MaxBodyBytes caps body materialization through Payload.Take.
	// Zero means no cap.
	MaxBodyBytes int64

	// BaseContext, when set, supplies the root context for every
	// request accepted on l.
	BaseContext func(l net.Listener) context.Context

	// Logger and Meter default to no-ops.
	Logger obs.Logger
	Meter  obs.Meter

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	conns      map[net.Conn]*atomic.Int32
	inShutdown atomic.Bool
}

// Connection states for shutdown bookkeeping.
const (
	connIdle int32 = iota
	connActive
	connHijacked
)

const shutdownPollInterval = 10 * time.Millisecond

// ListenAndServe listens on s.Addr (":8080" when empty) and serves.
func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until the listener fails or the server
// shuts down, in which case it returns ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	if s.inShutdown.Load() {
		return ErrServerClosed
	}
	s.trackListener(l)
	defer s.untrackListener(l)
	baseCtx := context.Background()
	if s.BaseContext != nil {
		baseCtx = s.BaseContext(l)
		if baseCtx == nil {
			panic("rawhttp: BaseContext returned nil")
		}
	}
	for {
		c, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go s.serveConn(c, baseCtx)
	}
}

// Shutdown stops accepting new connections, closes idle ones and waits
// for in-flight requests to finish or ctx to expire. Hijacked
// connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	for ln := range s.listeners {
		_ = ln.Close()
	}
	s.mu.Unlock()
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if s.quiesce() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close shuts the server down immediately, dropping in-flight requests.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	for ln := range s.listeners {
		_ = ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
	return nil
}

// quiesce closes idle connections and reports whether no request is in
// flight.
func (s *Server) quiesce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiet := true
	for c, st := range s.conns {
		if st.Load() == connActive {
			quiet = false
			continue
		}
		_ = c.Close()
		delete(s.conns, c)
	}
	return quiet
}

func (s *Server) trackListener(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]struct{})
	}
	s.listeners[l] = struct{}{}
}

func (s *Server) untrackListener(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
}

func (s *Server) trackConn(c net.Conn) *atomic.Int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[net.Conn]*atomic.Int32)
	}
	st := new(atomic.Int32)
	s.conns[c] = st
	return st
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) serveConn(c net.Conn, baseCtx context.Context) {
	state := s.trackConn(c)
	hijacked := false
	defer func() {
		if !hijacked {
			_ = c.Close()
		}
		s.untrackConn(c)
	}()
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	alive := true
	for alive && !s.inShutdown.Load() {
		if s.ReadHeaderTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadHeaderTimeout))
		}
		rr := &h1.Reader{BR: br, MaxLineBytes: s.lineLimit(), MaxHeaderBytes: s.headerLimit()}
		pr, err := rr.ReadRequest()
		if err != nil {
			s.replyParseError(bw, err)
			return
		}
		state.Store(connActive)
		start := time.Now()

		hdr := Header(pr.Header)
		ka := pr.Proto == "HTTP/1.1"
		connVal := strings.ToLower(hdr.Get("Connection"))
		if pr.Proto == "HTTP/1.1" {
			if connVal == "close" {
				ka = false
			}
		} else if connVal == "keep-alive" {
			ka = true
		}

		var u *url.URL
		if strings.HasPrefix(pr.RequestURI, "http://") || strings.HasPrefix(pr.RequestURI, "https://") {
			u, err = url.Parse(pr.RequestURI)
		} else {
			u, err = url.ParseRequestURI(pr.RequestURI)
		}
		if err != nil {
			_ = h1.WriteResponse(bw, 400, "", nil, nil, false)
			_ = bw.Flush()
			return
		}

		body := NewPayload(pr.Body, s.MaxBodyBytes)
		reqID := hdr.Get("X-Request-Id")
		if reqID == "" {
			reqID = genID()
		}
		ctx := WithRequestID(baseCtx, reqID)
		corrID := hdr.Get("X-Correlation-Id")
		if corrID != "" {
			ctx = WithCorrelationID(ctx, corrID)
		}

		r := &Request{
			Method:        pr.Method,
			URL:           u,
			RequestURI:    pr.RequestURI,
			Proto:         pr.Proto,
			Header:        hdr,
			Body:          body,
			Host:          hdr.Get("Host"),
			ContentLength: pr.ContentLength,
			RemoteAddr:    c.RemoteAddr().String(),
			RequestID:     reqID,
			CorrelationID: corrID,
			ctx:           ctx,
		}

		srw := &connResponseWriter{
			c:         c,
			br:        br,
			bw:        bw,
			proto:     pr.Proto,
			keepAlive: ka,
			headResp:  pr.Method == "HEAD",
			hdr:       Header{},
		}
		srw.hdr.Set("X-Request-Id", reqID)

		// Send 100 Continue only when the handler actually reads the
		// body. A handler that rejects the request without reading
		// never triggers it; the writer then announces the close the
		// loop performs below.
		if strings.EqualFold(hdr.Get("Expect"), "100-continue") {
			body.onFirst = func() error {
				if srw.wroteHdr {
					return nil
				}
				if err := h1.WriteContinue(bw); err != nil {
					return err
				}
				return bw.Flush()
			}
			srw.pendingBody = body.continuePending
		}

		panicked := s.dispatch(srw, r)

		if srw.hijacked {
			hijacked = true
			state.Store(connHijacked)
			return
		}
		if srw.aborted {
			// Mid-response panic: drop the connection so the peer sees
			// the truncation instead of a falsely complete body.
			return
		}

		// A client still waiting for 100 Continue may send the body at
		// any time; the connection cannot carry another request.
		pending := body.continuePending()
		bodyErr := body.Close()

		if s.WriteTimeout > 0 {
			_ = c.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		}
		if err := srw.finish(); err != nil {
			return
		}

		elapsed := time.Since(start)
		s.meter().Counter("rawhttp_server_requests_total", 1,
			obs.L("method", r.Method),
			obs.L("status", strconv.Itoa(srw.status)))
		s.meter().Histogram("rawhttp_server_request_seconds", elapsed.Seconds(),
			obs.L("method", r.Method))
		s.logf(obs.Debug, "%s %s -> %d in %s id=%s", r.Method, r.RequestURI, srw.status, elapsed, reqID)

		if panicked || pending || bodyErr != nil || !srw.reusable() {
			alive = false
			state.Store(connIdle)
			break
		}
		state.Store(connIdle)
		if s.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		} else if s.ReadTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		} else {
			_ = c.SetReadDeadline(time.Time{})
		}
	}
}

// dispatch runs the handler with panic containment. A panic before the
// first header write turns into a 500; either way the connection is
// closed afterwards.
func (s *Server) dispatch(w *connResponseWriter, r *Request) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			s.logf(obs.Error, "panic serving %s %s: %v", r.Method, r.RequestURI, v)
			s.meter().Counter("rawhttp_server_panics_total", 1,
				obs.L("method", r.Method))
			if !w.wroteHdr && !w.hijacked {
				w.keepAlive = false
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(500)
			} else if !w.hijacked {
				w.aborted = true
			}
		}
	}()
	h := s.Handler
	if h == nil {
		h = HandlerFunc(func(w ResponseWriter, r *Request) {
			_ = Text(w, 404, "not found")
		})
	}
	h.ServeHTTP(w, r)
	return false
}

// replyParseError answers a request that never parsed. An unparsable
// start line closes the connection with no response at all; oversized
// headers get 431, header-stage errors a best-effort 400. Disconnects
// and timeouts get no reply either way.
func (s *Server) replyParseError(bw *bufio.Writer, err error) {
	var status int
	switch {
	case errors.Is(err, h1.ErrHeaderTooLarge), errors.Is(err, h1.ErrLineTooLong):
		status = 431
	case errors.Is(err, h1.ErrMalformedHeader),
		errors.Is(err, h1.ErrContentLength), errors.Is(err, h1.ErrTransferCoding):
		status = 400
	case errors.Is(err, h1.ErrMalformedLine):
		// The start line itself was unparsable; there is no telling
		// this peer speaks HTTP at all.
		s.meter().Counter("rawhttp_server_parse_errors_total", 1,
			obs.L("status", "closed"))
		return
	default:
		// Disconnect or idle timeout, not a protocol error.
		return
	}
	s.meter().Counter("rawhttp_server_parse_errors_total", 1,
		obs.L("status", strconv.Itoa(status)))
	_ = h1.WriteResponse(bw, status, "", nil, nil, false)
	_ = bw.Flush()
}

func (s *Server) lineLimit() int {
	if s.MaxLineBytes <= 0 {
		return 8 << 10
	}
	return s.MaxLineBytes
}

func (s *Server) headerLimit() int {
	if s.MaxHeaderBytes <= 0 {
		return 64 << 10
	}
	return s.MaxHeaderBytes
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Logf(level, format, args...)
}

func (s *Server) meter() obs.Meter {
	if s.Meter == nil {
		return obs.NopMeter{}
	}
	return s.Meter
}

// connResponseWriter streams the response to the client. For HTTP/1.1
// keep-alive responses without a Content-Length it switches to chunked
// framing; bodyless responses (HEAD, 1xx, 204, 304) send headers only.
type connResponseWriter struct {
	c         net.Conn
	br        *bufio.Reader
	bw        *bufio.Writer
	proto     string
	keepAlive bool
	headResp  bool
	status    int
	wroteHdr  bool
	chunked   bool
	suppress  bool
	hijacked  bool
	aborted   bool
	hdr       Header

	// pendingBody, when set, reports whether the request body is gated
	// behind an unsent 100 Continue at header-writing time.
	pendingBody func() bool
}

func (w *connResponseWriter) Header() Header {
	if w.hdr == nil {
		w.hdr = Header{}
	}
	return w.hdr
}

func (w *connResponseWriter) decideChunked() bool {
	if strings.EqualFold(w.hdr.Get("Connection"), "close") {
		w.keepAlive = false
	}
	if w.suppress {
		return false
	}
	hasCL := w.hdr.Get("Content-Length") != ""
	return w.proto == "HTTP/1.1" && w.keepAlive && !hasCL
}

func (w *connResponseWriter) startIfNeeded() error {
	if w.wroteHdr {
		return nil
	}
	if w.status == 0 {
		w.status = 200
	}
	if w.pendingBody != nil && w.pendingBody() {
		// The peer was never told to send its body and may still do so;
		// this connection cannot carry another request.
		w.keepAlive = false
	}
	w.suppress = w.headResp || noResponseBody(w.status)
	w.chunked = w.decideChunked()
	// Drop any user Connection header; the writer emits its own.
	if w.hdr != nil {
		w.hdr.Del("Connection")
	}
	ka := w.keepAlive && (w.chunked || w.suppress || w.hdr.Get("Content-Length") != "")
	if err := h1.StartResponse(w.bw, w.status, "", map[string][]string(w.hdr), w.chunked, ka); err != nil {
		return err
	}
	w.wroteHdr = true
	return nil
}

func (w *connResponseWriter) WriteHeader(status int) {
	if w.wroteHdr || w.hijacked {
		return
	}
	if status == 0 {
		status = 200
	}
	w.status = status
	_ = w.startIfNeeded() // best-effort; an error resurfaces on Flush
}

func (w *connResponseWriter) Write(p []byte) (int, error) {
	if w.hijacked {
		return 0, ErrHijacked
	}
	if !w.wroteHdr {
		if err := w.startIfNeeded(); err != nil {
			return 0, err
		}
	}
	if w.suppress {
		// Bodyless response: accept and drop, so HEAD handlers can
		// share code with GET.
		return len(p), nil
	}
	if w.chunked {
		n, err := h1.WriteChunked(w.bw, p)
		if err != nil {
			return n, err
		}
		// Flush each chunk so clients see data as it is produced.
		if err := w.bw.Flush(); err != nil {
			return n, err
		}
		return n, nil
	}
	return w.bw.Write(p)
}

func (w *connResponseWriter) Flush() error {
	if w.hijacked {
		return ErrHijacked
	}
	if !w.wroteHdr {
		if err := w.startIfNeeded(); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}

// Hijack yields the connection to the handler, before any response
// bytes have been written.
func (w *connResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if w.hijacked {
		return nil, nil, ErrHijacked
	}
	if w.wroteHdr {
		return nil, nil, ErrResponseStarted
	}
	w.hijacked = true
	_ = w.c.SetDeadline(time.Time{})
	return w.c, bufio.NewReadWriter(w.br, w.bw), nil
}

// finish completes the response after the handler returns: an untouched
// writer still produces a valid empty 200, a chunked body gets its
// terminator.
func (w *connResponseWriter) finish() error {
	if !w.wroteHdr {
		if err := w.startIfNeeded(); err != nil {
			return err
		}
	}
	if w.chunked {
		if err := h1.EndChunked(w.bw); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}

// reusable reports whether the response left the connection in a state
// where the next request can be parsed.
func (w *connResponseWriter) reusable() bool {
	return w.keepAlive && (w.chunked || w.suppress || w.hdr.Get("Content-Length") != "")
}

func noResponseBody(status int) bool {
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}
