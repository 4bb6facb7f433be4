package rawhttp

import (
	"context"
	"net/url"
)

// Request is an HTTP request as seen by handlers and issued by clients.
type Request struct {
	// Method is the HTTP method (GET, POST, ...).
	Method string

	// URL is the parsed request target. On the server it is derived
	// from RequestURI; on the client it names the resource to fetch.
	URL *url.URL

	// Proto is the protocol version, e.g. "HTTP/1.1".
	Proto string

	// Header holds the request header fields. Keys are canonicalized.
	Header Header

	// Body is the request payload. Handlers and extractors share the
	// one materialization it performs; see Payload.
	Body *Payload

	// GetBody optionally yields a fresh copy of the body for clients
	// that need to replay a request, e.g. across a 307 redirect.
	GetBody func() (*Payload, error)

	// Host is the value for the Host header. On the server it records
	// what the peer sent.
	Host string

	// ContentLength is the declared body length. -1 means unknown,
	// which on the wire becomes chunked transfer coding.
	ContentLength int64

	// RemoteAddr is the network address of the peer, server side only.
	RemoteAddr string

	// RequestURI is the unparsed request target from the request line,
	// server side only.
	RequestURI string

	// RequestID identifies this request in logs. The server generates
	// one when the X-Request-Id header is absent.
	RequestID string

	// CorrelationID carries the X-Correlation-Id header when present,
	// so related requests can be grouped across services.
	CorrelationID string

	ctx    context.Context
	params []Param
}

// Param is one captured path segment.
type Param struct {
	Key   string
	Value string
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of r with its context replaced.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("rawhttp: nil context")
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// PathValue returns the captured value for the named route parameter,
// or "" when the route declares no such parameter.
func (r *Request) PathValue(name string) string {
	for _, p := range r.params {
		if p.Key == name {
			return p.Value
		}
	}
	return ""
}

// PathParams returns all captured route parameters in declaration order.
func (r *Request) PathParams() []Param {
	return r.params
}

func (r *Request) setParams(ps []Param) {
	r.params = ps
}
