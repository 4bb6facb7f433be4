package rawhttp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okapilabs/wirekit/internal/obs"
	"github.com/okapilabs/wirekit/rawhttp/internal/h1"
)

// BasicTransport is a minimal HTTP/1.1 transport with a per-host
// connection pool, optional proxy and TLS support. It aims to be small
// and predictable for libraries that need explicit control.
type BasicTransport struct {
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleConnTimeout time.Duration
	MaxConnsPerHost int
	TLSConfig       *tls.Config

	// Proxy returns the proxy URL to use for a given request. When nil,
	// ProxyFromEnvironment applies. Only http proxies are supported.
	Proxy func(*Request) (*url.URL, error)

	Logger obs.Logger
	Meter  obs.Meter

	mu    sync.Mutex
	idle  map[string][]*pooledConn // key: scheme://host:port or proxy form
	conns map[string]int           // total conns per key, idle and in use
	once  sync.Once
	stop  chan struct{}
}

type pooledConn struct {
	c       net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	lastUse time.Time
}

// DefaultTransport is used by Client when Transport is nil.
var DefaultTransport = &BasicTransport{
	DialTimeout:     5 * time.Second,
	IdleConnTimeout: 30 * time.Second,
	MaxConnsPerHost: 8,
}

// NewBasicTransport returns a BasicTransport with defaults, carrying its
// own pool so library clients stay isolated from each other.
func NewBasicTransport() *BasicTransport {
	return &BasicTransport{
		DialTimeout:     5 * time.Second,
		IdleConnTimeout: 30 * time.Second,
		MaxConnsPerHost: 8,
	}
}

func (t *BasicTransport) RoundTrip(r *Request) (*Response, error) {
	t.once.Do(func() { t.startCleanup() })
	rtStart := time.Now()
	if r == nil || r.URL == nil {
		return nil, errors.New("rawhttp: nil request or URL")
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("rawhttp: unsupported scheme %q", scheme)
	}

	var proxyURL *url.URL
	if t.Proxy != nil {
		if u, err := t.Proxy(r); err == nil {
			proxyURL = u
		}
	} else if u, err := ProxyFromEnvironment(r); err == nil {
		proxyURL = u
	}

	addr := hostPort(r.URL)
	var key string
	var dialFn func(context.Context) (net.Conn, error)
	var useProxyHTTP bool
	switch {
	case proxyURL != nil && proxyURL.Scheme == "http" && scheme == "http":
		// Plain HTTP via proxy: the proxy connection serves any target.
		proxyAddr := hostPort(proxyURL)
		key = "proxy-http://" + proxyAddr
		useProxyHTTP = true
		dialFn = func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: t.DialTimeout}
			return d.DialContext(ctx, "tcp", proxyAddr)
		}
	case proxyURL != nil && proxyURL.Scheme == "http":
		// https through the proxy needs a dedicated CONNECT tunnel.
		proxyAddr := hostPort(proxyURL)
		key = "proxy-tunnel://" + proxyAddr + "->" + addr
		dialFn = func(ctx context.Context) (net.Conn, error) {
			return t.dialTunnel(ctx, proxyAddr, addr, proxyURL, r)
		}
	default:
		key = scheme + "://" + addr
		dialFn = func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: t.DialTimeout}
			if scheme == "https" {
				td := tls.Dialer{NetDialer: &d, Config: t.tlsConfigFor(r.URL.Host)}
				return td.DialContext(ctx, "tcp", addr)
			}
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	pc, err := t.getConn(key, func() (net.Conn, error) { return dialFn(r.Context()) })
	if err != nil {
		t.logf(obs.Error, "dial %s failed: %v", key, err)
		t.metricCounter("rawhttp_client_requests_error", 1, obs.L("stage", "dial"))
		return nil, err
	}
	// A pooled conn may carry a stale idle deadline.
	_ = pc.c.SetDeadline(time.Time{})
	setWriteDeadlineWithContext(pc.c, t.WriteTimeout, r.Context())

	target := r.RequestURI
	if target == "" {
		if r.URL.Opaque != "" {
			target = r.URL.Opaque
		} else {
			target = r.URL.RequestURI()
			if target == "" {
				target = "/"
			}
		}
	}
	if useProxyHTTP {
		target = absoluteURL(r.URL)
	}

	hdr := r.Header
	if hdr == nil {
		hdr = Header{}
	}
	if hdr.Get("X-Request-Id") == "" {
		if id, ok := RequestIDFrom(r.Context()); ok {
			hdr.Set("X-Request-Id", id)
		} else if r.RequestID != "" {
			hdr.Set("X-Request-Id", r.RequestID)
		} else {
			hdr.Set("X-Request-Id", genID())
		}
	}
	if hdr.Get("X-Correlation-Id") == "" {
		if cid, ok := CorrelationIDFrom(r.Context()); ok {
			hdr.Set("X-Correlation-Id", cid)
		} else if r.CorrelationID != "" {
			hdr.Set("X-Correlation-Id", r.CorrelationID)
		}
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if hdr.Get("Host") == "" && host != "" {
		hdr.Set("Host", host)
	}
	if !strings.EqualFold(hdr.Get("Connection"), "close") {
		hdr.Set("Connection", "keep-alive")
	}
	if useProxyHTTP && hdr.Get("Proxy-Authorization") == "" {
		if h := proxyAuthHeader(proxyURL); h != "" {
			hdr.Set("Proxy-Authorization", h)
		}
	}

	// Body: cached payload bytes travel with an exact Content-Length;
	// a raw source streams, chunked when the length is unknown.
	var bodyRdr io.Reader
	var bodySrc io.ReadCloser
	cl := int64(0)
	if r.Body != nil {
		var data []byte
		data, bodySrc = r.Body.outbound()
		switch {
		case bodySrc != nil:
			bodyRdr = bodySrc
			cl = r.ContentLength
		default:
			bodyRdr = bytes.NewReader(data)
			cl = int64(len(data))
		}
	}

	err = h1.WriteRequest(pc.bw, &h1.OutboundRequest{
		Method:        r.Method,
		Target:        target,
		Header:        map[string][]string(hdr),
		Body:          bodyRdr,
		ContentLength: cl,
	})
	if bodySrc != nil {
		_ = bodySrc.Close()
	}
	if err == nil {
		err = pc.bw.Flush()
	}
	if err != nil {
		t.closeConn(key, pc)
		t.logf(obs.Warn, "write request failed: %v", err)
		t.metricCounter("rawhttp_client_requests_error", 1, obs.L("stage", "write"))
		return nil, err
	}
	t.metricCounter("rawhttp_client_requests_total", 1, obs.L("method", r.Method))

	setReadDeadlineWithContext(pc.c, t.ReadTimeout, r.Context())
	rd := &h1.Reader{BR: pc.br, MaxLineBytes: 8 << 10, MaxHeaderBytes: 64 << 10}
	pres, err := rd.ReadResponse(r.Method)
	if err != nil {
		t.closeConn(key, pc)
		t.logf(obs.Warn, "read response failed: %v", err)
		t.metricCounter("rawhttp_client_requests_error", 1, obs.L("stage", "read"))
		return nil, err
	}

	// Reuse needs delimited framing and a server that does not insist
	// on closing.
	rh := Header(pres.Header)
	reuse := pres.Chunked || pres.ContentLength >= 0
	if strings.EqualFold(rh.Get("Connection"), "close") {
		reuse = false
	}

	reason := pres.Reason
	if reason == "" {
		reason = h1.Reason(pres.StatusCode)
	}
	resp := &Response{
		Status:        fmt.Sprintf("%d %s", pres.StatusCode, reason),
		StatusCode:    pres.StatusCode,
		Proto:         pres.Proto,
		Header:        rh,
		ContentLength: pres.ContentLength,
		Request:       r,
	}
	t.metricCounter("rawhttp_client_responses_total", 1,
		obs.L("status", strconv.Itoa(pres.StatusCode)))
	t.metricHistogram("rawhttp_client_roundtrip_seconds", time.Since(rtStart).Seconds(),
		obs.L("method", r.Method),
		obs.L("status", strconv.Itoa(pres.StatusCode)))

	// The body wrapper returns the connection to the pool on Close.
	resp.Body = &clientBody{ReadCloser: pres.Body, t: t, key: key, pc: pc, reusable: reuse}
	return resp, nil
}

// dialTunnel opens a CONNECT tunnel through an HTTP proxy and wraps it
// in TLS for the target.
func (t *BasicTransport) dialTunnel(ctx context.Context, proxyAddr, target string, proxyURL *url.URL, r *Request) (net.Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(c)
	hdr := map[string][]string{
		"Host":       {target},
		"Connection": {"keep-alive"},
	}
	if h := proxyAuthHeader(proxyURL); h != "" {
		hdr["Proxy-Authorization"] = []string{h}
	}
	err = h1.WriteRequest(bw, &h1.OutboundRequest{Method: "CONNECT", Target: target, Header: hdr})
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	rd := &h1.Reader{BR: bufio.NewReader(c), MaxLineBytes: 8 << 10, MaxHeaderBytes: 64 << 10}
	pres, err := rd.ReadResponse("CONNECT")
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if pres.StatusCode != 200 {
		_ = c.Close()
		return nil, fmt.Errorf("rawhttp: proxy CONNECT failed: %d", pres.StatusCode)
	}
	tc := tls.Client(c, t.tlsConfigFor(r.URL.Host))
	if dl, ok := ctx.Deadline(); ok {
		_ = tc.SetDeadline(dl)
	}
	if err := tc.Handshake(); err != nil {
		_ = c.Close()
		return nil, err
	}
	_ = tc.SetDeadline(time.Time{})
	return tc, nil
}

// tlsConfigFor clones the configured TLS config and fills in SNI and
// ALPN when the caller left them empty.
func (t *BasicTransport) tlsConfigFor(host string) *tls.Config {
	cfg := t.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = hostNoPort(host)
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"http/1.1"}
	}
	return cfg
}

func (t *BasicTransport) getConn(key string, dial func() (net.Conn, error)) (*pooledConn, error) {
	t.mu.Lock()
	if t.idle == nil {
		t.idle = make(map[string][]*pooledConn)
	}
	if t.conns == nil {
		t.conns = make(map[string]int)
	}
	if list := t.idle[key]; len(list) > 0 {
		pc := list[len(list)-1]
		t.idle[key] = list[:len(list)-1]
		t.mu.Unlock()
		t.metricCounter("rawhttp_client_conn_reuse_total", 1)
		return pc, nil
	}
	if t.MaxConnsPerHost > 0 && t.conns[key] >= t.MaxConnsPerHost {
		t.mu.Unlock()
		return nil, fmt.Errorf("rawhttp: max connections per host reached for %s", key)
	}
	t.mu.Unlock()
	c, err := dial()
	if err != nil {
		return nil, err
	}
	pc := &pooledConn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), lastUse: time.Now()}
	t.mu.Lock()
	t.conns[key]++
	t.mu.Unlock()
	t.metricCounter("rawhttp_client_conn_dial_total", 1)
	return pc, nil
}

func (t *BasicTransport) putConn(key string, pc *pooledConn) {
	if pc == nil || pc.c == nil {
		return
	}
	if t.IdleConnTimeout > 0 {
		_ = pc.c.SetReadDeadline(time.Now().Add(t.IdleConnTimeout))
	} else {
		_ = pc.c.SetReadDeadline(time.Time{})
	}
	pc.lastUse = time.Now()
	t.mu.Lock()
	if t.idle == nil {
		t.idle = make(map[string][]*pooledConn)
	}
	t.idle[key] = append(t.idle[key], pc)
	t.mu.Unlock()
}

func (t *BasicTransport) closeConn(key string, pc *pooledConn) {
	if pc != nil && pc.c != nil {
		_ = pc.c.Close()
	}
	t.mu.Lock()
	if t.conns[key] > 0 {
		t.conns[key]--
	}
	t.mu.Unlock()
}

// clientBody returns the connection to the pool, or closes it, when the
// response body is closed. Close drains the remainder first so the
// connection is positioned at the next response.
type clientBody struct {
	io.ReadCloser
	t        *BasicTransport
	key      string
	pc       *pooledConn
	reusable bool
	closed   bool
}

func (b *clientBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	reusable := b.reusable
	if b.ReadCloser != nil {
		if _, err := io.Copy(io.Discard, b.ReadCloser); err != nil {
			reusable = false
		}
		if err := b.ReadCloser.Close(); err != nil {
			reusable = false
		}
	}
	if reusable && b.pc != nil {
		b.t.putConn(b.key, b.pc)
	} else {
		b.t.closeConn(b.key, b.pc)
	}
	return nil
}

func hostPort(u *url.URL) string {
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}
	return host
}

// hostNoPort strips an optional port and IPv6 brackets from a host.
func hostNoPort(h string) string {
	if strings.HasPrefix(h, "[") {
		if i := strings.Index(h, "]"); i >= 0 {
			return h[1:i]
		}
		return strings.TrimPrefix(h, "[")
	}
	if strings.Count(h, ":") == 1 {
		return h[:strings.Index(h, ":")]
	}
	return h
}

// absoluteURL builds the absolute-form target used with plain HTTP
// proxies, without userinfo.
func absoluteURL(u *url.URL) string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	switch {
	case u.Opaque != "":
		b.WriteString(u.Opaque)
	case u.RawPath != "":
		b.WriteString(u.RawPath)
	case u.Path != "":
		if !strings.HasPrefix(u.Path, "/") {
			b.WriteString("/")
		}
		b.WriteString(u.Path)
	default:
		b.WriteString("/")
	}
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

func proxyAuthHeader(u *url.URL) string {
	if u == nil || u.User == nil {
		return ""
	}
	user := u.User.Username()
	pass, _ := u.User.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// Deadline helpers combine explicit timeouts with the request context.
func setWriteDeadlineWithContext(c net.Conn, writeTO time.Duration, ctx context.Context) {
	var d time.Time
	if writeTO > 0 {
		d = time.Now().Add(writeTO)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	if !d.IsZero() {
		_ = c.SetWriteDeadline(d)
	}
}

func setReadDeadlineWithContext(c net.Conn, readTO time.Duration, ctx context.Context) {
	var d time.Time
	if readTO > 0 {
		d = time.Now().Add(readTO)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	if !d.IsZero() {
		_ = c.SetReadDeadline(d)
	}
}

func (t *BasicTransport) logf(level obs.Level, format string, args ...interface{}) {
	lg := t.Logger
	if lg == nil {
		return
	}
	lg.Logf(level, format, args...)
}

func (t *BasicTransport) metricCounter(name string, value float64, labels ...obs.Label) {
	t.getMeter().Counter(name, value, labels...)
}

func (t *BasicTransport) metricHistogram(name string, value float64, labels ...obs.Label) {
	t.getMeter().Histogram(name, value, labels...)
}

func (t *BasicTransport) getMeter() obs.Meter {
	if t.Meter != nil {
		return t.Meter
	}
	return obs.NopMeter{}
}

// startCleanup launches a goroutine that closes expired idle
// connections.
func (t *BasicTransport) startCleanup() {
	if t.stop == nil {
		t.stop = make(chan struct{})
	}
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.pruneIdle()
			case <-t.stop:
				return
			}
		}
	}()
}

func (t *BasicTransport) pruneIdle() {
	if t.IdleConnTimeout <= 0 {
		return
	}
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, list := range t.idle {
		kept := list[:0]
		for _, pc := range list {
			if now.Sub(pc.lastUse) > t.IdleConnTimeout {
				_ = pc.c.Close()
				if t.conns[key] > 0 {
					t.conns[key]--
				}
				t.metricCounter("rawhttp_client_conn_idle_closed_total", 1)
				continue
			}
			kept = append(kept, pc)
		}
		if len(kept) == 0 {
			delete(t.idle, key)
		} else {
			t.idle[key] = kept
		}
	}
}

// CloseIdleConnections closes all idle pooled connections immediately.
func (t *BasicTransport) CloseIdleConnections() {
	t.mu.Lock()
	for key, list := range t.idle {
		for _, pc := range list {
			_ = pc.c.Close()
			if t.conns[key] > 0 {
				t.conns[key]--
			}
		}
		delete(t.idle, key)
	}
	t.mu.Unlock()
}

// Close stops background cleanup and closes idle connections. Active
// connections are not forcibly closed.
func (t *BasicTransport) Close() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.CloseIdleConnections()
}

// ProxyFromEnvironment resolves a proxy URL from HTTP_PROXY,
// HTTPS_PROXY and ALL_PROXY, honoring NO_PROXY. It behaves like
// net/http.ProxyFromEnvironment for the common cases.
func ProxyFromEnvironment(r *Request) (*url.URL, error) {
	if r == nil || r.URL == nil {
		return nil, nil
	}
	host := strings.ToLower(r.URL.Hostname())
	port := r.URL.Port()
	if port == "" {
		if r.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	if noProxyMatch(host, port) {
		return nil, nil
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	var proxyStr string
	if scheme == "https" {
		proxyStr = firstEnv("HTTPS_PROXY", "https_proxy")
	} else {
		proxyStr = firstEnv("HTTP_PROXY", "http_proxy")
	}
	if proxyStr == "" {
		proxyStr = firstEnv("ALL_PROXY", "all_proxy")
	}
	if proxyStr == "" {
		return nil, nil
	}
	return url.Parse(proxyStr)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// noProxyMatch reports whether NO_PROXY exempts host:port from
// proxying. Entries may be hosts, domain suffixes, CIDR ranges or "*",
// each optionally with a port.
func noProxyMatch(host, port string) bool {
	v := firstEnv("NO_PROXY", "no_proxy")
	if v == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if p == "*" {
			return true
		}
		if i := strings.Index(p, "://"); i >= 0 {
			p = p[i+3:]
		}
		if strings.Contains(p, "/") {
			// CIDR entries apply only when the host is an IP.
			if ip := net.ParseIP(host); ip != nil {
				if _, cidr, err := net.ParseCIDR(p); err == nil && cidr.Contains(ip) {
					return true
				}
			}
			continue
		}
		patPort := ""
		if strings.HasPrefix(p, "[") {
			if i := strings.Index(p, "]:"); i >= 0 {
				patPort = p[i+2:]
			}
		} else if i := strings.LastIndex(p, ":"); i != -1 && strings.Count(p, ":") == 1 {
			patPort = p[i+1:]
			p = p[:i]
		}
		if patPort != "" && port != patPort {
			continue
		}
		p = hostNoPort(p)
		if host == p {
			return true
		}
		if strings.HasPrefix(p, ".") {
			if strings.HasSuffix(host, p) {
				return true
			}
		} else if strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}
