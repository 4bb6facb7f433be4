package h1

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Parse errors. The server decides per class whether a best-effort
// response is still possible or the connection is closed silently.
var (
	ErrMalformedLine   = errors.New("h1: malformed start line")
	ErrMalformedHeader = errors.New("h1: malformed header")
	ErrLineTooLong     = errors.New("h1: header line too long")
	ErrHeaderTooLarge  = errors.New("h1: header block too large")
	ErrContentLength   = errors.New("h1: invalid content length")
	ErrTransferCoding  = errors.New("h1: unsupported transfer coding")
)

// ParsedRequest is a minimal representation parsed from the wire.
// ContentLength is -1 for chunked bodies. Body is lazy: no body byte is
// pulled from the transport until it is read, and Close drains whatever
// remains so the connection can carry the next request.
type ParsedRequest struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        map[string][]string
	ContentLength int64
	Body          io.ReadCloser
}

// ParsedResponse is the client-side counterpart. Chunked reports the
// framing in use; when both ContentLength is -1 and Chunked is false the
// body is close-delimited and the connection cannot be reused.
type ParsedResponse struct {
	Proto         string
	StatusCode    int
	Reason        string
	Header        map[string][]string
	ContentLength int64
	Chunked       bool
	Body          io.ReadCloser
}

// Reader parses HTTP/1.x messages from a buffered stream.
// MaxLineBytes bounds a single line, MaxHeaderBytes the whole header
// block; zero means no bound.
type Reader struct {
	BR             *bufio.Reader
	MaxLineBytes   int
	MaxHeaderBytes int
}

func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, ErrMalformedLine
	}
	method, uri, proto := parts[0], parts[1], parts[2]
	if !validToken(method) {
		return nil, ErrMalformedLine
	}
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, ErrMalformedLine
	}
	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}
	cl, body, err := r.requestBody(hdr)
	if err != nil {
		return nil, err
	}
	return &ParsedRequest{
		Method:        method,
		RequestURI:    uri,
		Proto:         proto,
		Header:        hdr,
		ContentLength: cl,
		Body:          body,
	}, nil
}

// ReadResponse parses a status line and headers. reqMethod is the method
// of the request this response answers; HEAD responses carry framing
// headers but no body bytes.
func (r *Reader) ReadResponse(reqMethod string) (*ParsedResponse, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, ErrMalformedLine
	}
	proto := parts[0]
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, ErrMalformedLine
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, ErrMalformedLine
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}
	pr := &ParsedResponse{
		Proto:      proto,
		StatusCode: code,
		Reason:     reason,
		Header:     hdr,
	}
	switch {
	case noBodyStatus(code) || reqMethod == "HEAD" ||
		(reqMethod == "CONNECT" && code >= 200 && code < 300):
		pr.ContentLength = 0
		pr.Body = emptyBody()
	case hasChunkedTE(hdr):
		pr.ContentLength = -1
		pr.Chunked = true
		pr.Body = NewChunkedReader(r.BR, r.MaxLineBytes)
	default:
		if v := getHeader(hdr, "Content-Length"); v != "" {
			n, err := parseContentLength(hdr)
			if err != nil {
				return nil, err
			}
			pr.ContentLength = n
			if n > 0 {
				pr.Body = NewLimitedReader(r.BR, n)
			} else {
				pr.Body = emptyBody()
			}
		} else {
			// Close-delimited: everything until EOF is body.
			pr.ContentLength = -1
			pr.Body = io.NopCloser(r.BR)
		}
	}
	return pr, nil
}

// requestBody decides request framing from headers. Chunked
// Transfer-Encoding takes precedence over Content-Length; with neither
// present the body is empty (requests are never close-delimited).
func (r *Reader) requestBody(hdr map[string][]string) (int64, io.ReadCloser, error) {
	if te, ok := hdr[canonicalHeaderKey("Transfer-Encoding")]; ok {
		if !onlyChunked(te) {
			return 0, nil, ErrTransferCoding
		}
		return -1, NewChunkedReader(r.BR, r.MaxLineBytes), nil
	}
	if v := getHeader(hdr, "Content-Length"); v != "" {
		n, err := parseContentLength(hdr)
		if err != nil {
			return 0, nil, err
		}
		if n > 0 {
			return n, NewLimitedReader(r.BR, n), nil
		}
		return 0, emptyBody(), nil
	}
	return 0, emptyBody(), nil
}

func (r *Reader) readHeaders() (map[string][]string, error) {
	h := make(map[string][]string)
	total := 0
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		total += len(line)
		if r.MaxHeaderBytes > 0 && total > r.MaxHeaderBytes {
			return nil, ErrHeaderTooLarge
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, ErrMalformedHeader
		}
		k := strings.TrimSpace(line[:i])
		if !validToken(k) {
			return nil, ErrMalformedHeader
		}
		v := strings.TrimSpace(line[i+1:])
		addHeader(h, k, v)
	}
	return h, nil
}

func (r *Reader) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.BR.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if r.MaxLineBytes > 0 && sb.Len() > r.MaxLineBytes {
			return "", ErrLineTooLong
		}
	}
	return sb.String(), nil
}

// parseContentLength folds every Content-Length occurrence, including
// comma-joined values, and requires them to agree.
func parseContentLength(hdr map[string][]string) (int64, error) {
	vv := hdr[canonicalHeaderKey("Content-Length")]
	var out int64 = -1
	for _, raw := range vv {
		for _, tok := range strings.Split(raw, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				return 0, ErrContentLength
			}
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil || n < 0 {
				return 0, ErrContentLength
			}
			if out >= 0 && out != n {
				return 0, ErrContentLength
			}
			out = n
		}
	}
	if out < 0 {
		return 0, ErrContentLength
	}
	return out, nil
}

// onlyChunked reports whether the Transfer-Encoding values name chunked
// and nothing else. Any other coding is unsupported here.
func onlyChunked(vv []string) bool {
	seen := false
	for _, v := range vv {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok == "" {
				continue
			}
			if tok != "chunked" {
				return false
			}
			seen = true
		}
	}
	return seen
}

func noBodyStatus(code int) bool {
	if code >= 100 && code < 200 {
		return true
	}
	return code == 204 || code == 304
}

func emptyBody() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

// NewLimitedReader reads exactly n bytes from br; Close drains whatever
// the caller left unread so the connection can be reused.
func NewLimitedReader(br *bufio.Reader, n int64) io.ReadCloser {
	return &limitedBody{lr: &io.LimitedReader{R: br, N: n}}
}

type limitedBody struct {
	lr *io.LimitedReader
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.lr.Read(p)
	if err == io.EOF && b.lr.N > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (b *limitedBody) Close() error {
	buf := make([]byte, 1024)
	for b.lr.N > 0 {
		n := int64(len(buf))
		if n > b.lr.N {
			n = b.lr.N
		}
		if _, err := io.ReadFull(b.lr, buf[:n]); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func addHeader(h map[string][]string, k, v string) {
	hk := canonicalHeaderKey(k)
	h[hk] = append(h[hk], v)
}

func getHeader(h map[string][]string, k string) string {
	hk := canonicalHeaderKey(k)
	if vv, ok := h[hk]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

func hasChunkedTE(h map[string][]string) bool {
	vv, ok := h[canonicalHeaderKey("Transfer-Encoding")]
	if !ok {
		return false
	}
	return onlyChunked(vv)
}

// validToken reports whether s is a legal HTTP token (header name,
// method). Separators and control bytes are rejected.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			continue
		}
		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
			continue
		default:
			return false
		}
	}
	return true
}

// Very small canonicalizer to avoid importing textproto here.
func canonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = byte(c - 'a' + 'A')
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}
