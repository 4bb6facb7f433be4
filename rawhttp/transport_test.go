package rawhttp

import (
	"bufio"
	"io"
	"net"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestProxyFromEnvironment_NO_PROXY_CIDR(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:8080")
	t.Setenv("NO_PROXY", "10.0.0.0/8,localhost")

	u1, _ := url.Parse("http://10.10.10.10/")
	r1 := &Request{Method: "GET", URL: u1}
	if got, _ := ProxyFromEnvironment(r1); got != nil {
		t.Fatalf("expected no proxy for CIDR match, got %v", got)
	}

	u2, _ := url.Parse("http://example.com/")
	r2 := &Request{Method: "GET", URL: u2}
	if got, _ := ProxyFromEnvironment(r2); got == nil {
		t.Fatalf("expected proxy for example.com")
	}
}

func TestProxyFromEnvironment_NO_PROXY_Suffix(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:8080")
	t.Setenv("NO_PROXY", ".internal.example,exact.test")

	for _, tc := range []struct {
		url    string
		direct bool
	}{
		{"http://svc.internal.example/", true},
		{"http://internal.example/", false}, // dot-prefixed entries match subdomains only
		{"http://exact.test/", true},
		{"http://sub.exact.test/", true},
		{"http://otherexact.test/", false},
	} {
		u, _ := url.Parse(tc.url)
		r := &Request{Method: "GET", URL: u}
		got, _ := ProxyFromEnvironment(r)
		if direct := got == nil; direct != tc.direct {
			t.Fatalf("%s: direct=%v, want %v", tc.url, direct, tc.direct)
		}
	}
}

func TestProxyFromEnvironment_NO_PROXY_Port(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:8080")
	t.Setenv("NO_PROXY", "example.com:8443")

	u1, _ := url.Parse("http://example.com:8443/")
	if got, _ := ProxyFromEnvironment(&Request{Method: "GET", URL: u1}); got != nil {
		t.Fatalf("expected no proxy for matching port, got %v", got)
	}
	u2, _ := url.Parse("http://example.com/")
	if got, _ := ProxyFromEnvironment(&Request{Method: "GET", URL: u2}); got == nil {
		t.Fatal("expected proxy when the port differs")
	}
}

func TestProxyFromEnvironment_Star(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:8080")
	t.Setenv("NO_PROXY", "*")
	u, _ := url.Parse("http://anything.example/")
	if got, _ := ProxyFromEnvironment(&Request{Method: "GET", URL: u}); got != nil {
		t.Fatalf("expected no proxy under NO_PROXY=*, got %v", got)
	}
}

func TestHostNoPort(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"[::1]", "::1"},
		{"[::1]:8080", "::1"},
		{"2001:db8::1", "2001:db8::1"}, // bare IPv6, no port to strip
	} {
		if got := hostNoPort(tc.in); got != tc.want {
			t.Fatalf("hostNoPort(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAbsoluteURL(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"http://h/p?q=1", "http://h/p?q=1"},
		{"http://h", "http://h/"},
		{"http://h:8080/a/b", "http://h:8080/a/b"},
	} {
		u, err := url.Parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got := absoluteURL(u); got != tc.want {
			t.Fatalf("absoluteURL(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

// scriptedServer answers every request on every accepted connection
// with the given raw response bytes and counts accepts.
func scriptedServer(t *testing.T, response string) (string, *atomic.Int64, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var accepts atomic.Int64
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					// Requests here carry no body; skip to the blank line.
					sawAny := false
					for {
						line, err := br.ReadString('\n')
						if err != nil {
							return
						}
						sawAny = true
						if line == "\r\n" {
							break
						}
					}
					if !sawAny {
						return
					}
					if _, err := io.WriteString(c, response); err != nil {
						return
					}
				}
			}(c)
		}
	}()
	return ln.Addr().String(), &accepts, func() { _ = ln.Close() }
}

func TestTransport_PoolsKeepAliveConnections(t *testing.T) {
	addr, accepts, stop := scriptedServer(t,
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: keep-alive\r\n\r\nok")
	defer stop()

	tr := NewBasicTransport()
	defer tr.Close()
	c := &Client{Transport: tr}
	for i := 0; i < 3; i++ {
		res, err := c.Get("http://" + addr + "/")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		b, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()
		if string(b) != "ok" {
			t.Fatalf("body=%q", string(b))
		}
	}
	if n := accepts.Load(); n != 1 {
		t.Fatalf("server accepted %d connections, want 1", n)
	}
}

func TestTransport_RespectsConnectionClose(t *testing.T) {
	addr, accepts, stop := scriptedServer(t,
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	defer stop()

	tr := NewBasicTransport()
	defer tr.Close()
	c := &Client{Transport: tr}
	for i := 0; i < 2; i++ {
		res, err := c.Get("http://" + addr + "/")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		_, _ = io.ReadAll(res.Body)
		_ = res.Body.Close()
	}
	if n := accepts.Load(); n != 2 {
		t.Fatalf("server accepted %d connections, want 2 (close after each)", n)
	}
}

func TestTransport_RejectsUnknownScheme(t *testing.T) {
	tr := NewBasicTransport()
	defer tr.Close()
	u, _ := url.Parse("ftp://example.com/file")
	if _, err := tr.RoundTrip(&Request{Method: "GET", URL: u}); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestTransport_MaxConnsPerHost(t *testing.T) {
	addr, _, stop := scriptedServer(t,
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: keep-alive\r\n\r\nok")
	defer stop()

	tr := NewBasicTransport()
	tr.MaxConnsPerHost = 1
	defer tr.Close()
	c := &Client{Transport: tr}

	res, err := c.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// The body is still open, so the single allowed connection is busy.
	u, _ := url.Parse("http://" + addr + "/")
	if _, err := tr.RoundTrip(&Request{Method: "GET", URL: u, Header: Header{}}); err == nil {
		t.Fatal("expected max-conns error while the first body is open")
	}
	_, _ = io.ReadAll(res.Body)
	_ = res.Body.Close()

	// Closing the body returned the connection; the next request rides it.
	res2, err := c.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get after release: %v", err)
	}
	_, _ = io.ReadAll(res2.Body)
	_ = res2.Body.Close()
}
