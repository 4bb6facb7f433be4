package rawhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transport sends a single HTTP request and returns its response.
type Transport interface {
	RoundTrip(*Request) (*Response, error)
}

// RedirectPolicy can veto a redirect hop. next is the request about to
// be sent, via the requests already sent, oldest first.
type RedirectPolicy func(next *Request, via []*Request) error

const defaultUserAgent = "rawhttp-client/1.0"
const defaultMaxRedirects = 10

// Client issues requests through a Transport, applying default headers
// and following redirects. The zero value uses DefaultTransport.
type Client struct {
	Transport Transport

	// Timeout bounds the whole exchange including redirects, applied
	// as a deadline on the request context. Zero means none.
	Timeout time.Duration

	// MaxRedirects caps redirect hops. Zero means 10; negative
	// disables following redirects.
	MaxRedirects int

	// RedirectPolicy, when set, runs before each hop and can abort it.
	RedirectPolicy RedirectPolicy

	// UserAgent replaces the default User-Agent header.
	UserAgent string
}

func (c *Client) transport() Transport {
	if c.Transport != nil {
		return c.Transport
	}
	return DefaultTransport
}

// NewRequest builds an outbound request. Buffer-backed bodies
// (bytes.Buffer, bytes.Reader, strings.Reader) are snapshotted, giving
// the request an exact Content-Length and a replayable GetBody; any
// other reader streams with chunked framing unless the caller sets
// ContentLength.
func NewRequest(ctx context.Context, method, rawurl string, body io.Reader) (*Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("rawhttp: request URL must be absolute")
	}
	r := &Request{
		Method: method,
		URL:    u,
		Proto:  "HTTP/1.1",
		Header: Header{},
		Host:   u.Host,
		ctx:    ctx,
	}
	if body == nil {
		return r, nil
	}
	switch body.(type) {
	case *bytes.Buffer, *bytes.Reader, *strings.Reader:
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		r.Body = NewBytesPayload(data)
		r.ContentLength = int64(len(data))
		r.GetBody = func() (*Payload, error) { return NewBytesPayload(data), nil }
	default:
		rc, ok := body.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(body)
		}
		r.Body = NewPayload(rc, 0)
		r.ContentLength = -1
	}
	return r, nil
}

// Do sends req and follows redirects per the client configuration. The
// caller must close the response body; Close drains it so the
// underlying connection can be pooled.
func (c *Client) Do(req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("rawhttp: nil request or URL")
	}
	ctx := req.Context()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		// The transport turns the deadline into connection deadlines,
		// so releasing the context here does not cut off body reads.
		defer cancel()
		req = req.WithContext(ctx)
	}

	maxHops := c.MaxRedirects
	if maxHops == 0 {
		maxHops = defaultMaxRedirects
	}
	var via []*Request
	for {
		if req.Header == nil {
			req.Header = Header{}
		}
		if req.Header.Get("User-Agent") == "" {
			ua := c.UserAgent
			if ua == "" {
				ua = defaultUserAgent
			}
			req.Header.Set("User-Agent", ua)
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "*/*")
		}

		resp, err := c.transport().RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Request = req

		if maxHops < 0 || !redirectStatus(resp.StatusCode) {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		u, err := req.URL.Parse(loc)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		if len(via) >= maxHops {
			_ = resp.Body.Close()
			return nil, ErrTooManyRedirects
		}
		via = append(via, req)

		next := &Request{
			Method: req.Method,
			URL:    u,
			Proto:  "HTTP/1.1",
			Header: redirectHeaders(req.Header, req.URL, u),
			Host:   u.Host,
			ctx:    ctx,
		}
		switch resp.StatusCode {
		case 301, 302, 303:
			// The redirected request is a bodyless GET, except HEAD
			// stays HEAD.
			if req.Method != "HEAD" {
				next.Method = "GET"
			}
			next.Header.Del("Content-Type")
		case 307, 308:
			if req.Body != nil {
				if req.GetBody == nil {
					_ = resp.Body.Close()
					return nil, errors.New("rawhttp: cannot replay request body for redirect")
				}
				p, err := req.GetBody()
				if err != nil {
					_ = resp.Body.Close()
					return nil, err
				}
				next.Body = p
				next.GetBody = req.GetBody
				next.ContentLength = req.ContentLength
			}
		}
		if c.RedirectPolicy != nil {
			if err := c.RedirectPolicy(next, via); err != nil {
				_ = resp.Body.Close()
				return nil, err
			}
		}
		// Drain before the next hop so the connection returns to the
		// pool instead of being torn down.
		_ = resp.Body.Close()
		req = next
	}
}

// Get issues a GET request.
func (c *Client) Get(rawurl string) (*Response, error) {
	req, err := NewRequest(context.Background(), "GET", rawurl, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Head issues a HEAD request.
func (c *Client) Head(rawurl string) (*Response, error) {
	req, err := NewRequest(context.Background(), "HEAD", rawurl, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post issues a POST with the given content type.
func (c *Client) Post(rawurl, contentType string, body io.Reader) (*Response, error) {
	req, err := NewRequest(context.Background(), "POST", rawurl, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// PostJSON encodes v and POSTs it as application/json.
func (c *Client) PostJSON(rawurl string, v any) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.Post(rawurl, "application/json", bytes.NewReader(b))
}

// PostForm URL-encodes data and POSTs it as a form.
func (c *Client) PostForm(rawurl string, data url.Values) (*Response, error) {
	return c.Post(rawurl, "application/x-www-form-urlencoded", strings.NewReader(data.Encode()))
}

// Put issues a PUT with the given content type.
func (c *Client) Put(rawurl, contentType string, body io.Reader) (*Response, error) {
	req, err := NewRequest(context.Background(), "PUT", rawurl, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// Patch issues a PATCH with the given content type.
func (c *Client) Patch(rawurl, contentType string, body io.Reader) (*Response, error) {
	req, err := NewRequest(context.Background(), "PATCH", rawurl, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// Delete issues a DELETE request.
func (c *Client) Delete(rawurl string) (*Response, error) {
	req, err := NewRequest(context.Background(), "DELETE", rawurl, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// MultipartFile is one file part for PostMultipart.
type MultipartFile struct {
	Field string
	Name  string
	Data  []byte
}

// PostMultipart sends fields and files as multipart/form-data under a
// fresh random boundary.
func (c *Client) PostMultipart(rawurl string, fields map[string]string, files ...MultipartFile) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary("rawhttp-" + uuid.NewString()); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.Post(rawurl, mw.FormDataContentType(), &buf)
}

func redirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// redirectHeaders copies headers to the next hop, dropping per-request
// framing fields and, across hosts, credentials.
func redirectHeaders(h Header, from, to *url.URL) Header {
	nh := h.Clone()
	if nh == nil {
		return Header{}
	}
	nh.Del("Host")
	nh.Del("Content-Length")
	if !strings.EqualFold(from.Hostname(), to.Hostname()) {
		nh.Del("Authorization")
		nh.Del("Cookie")
		nh.Del("Proxy-Authorization")
	}
	return nh
}
