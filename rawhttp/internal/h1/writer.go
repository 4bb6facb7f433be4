package h1

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteResponse writes a complete fixed-body HTTP/1.1 response. A
// Content-Length header is emitted exactly once: the caller's value wins
// if present, otherwise the body length is used. hdr keys should be
// canonicalized by the caller.
func WriteResponse(bw *bufio.Writer, status int, reason string, hdr map[string][]string, body []byte, keepAlive bool) error {
	if reason == "" {
		reason = defaultReason(status)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, reason); err != nil {
		return err
	}
	wroteCL := false
	for k, vv := range hdr {
		if k == "Connection" {
			continue
		}
		if k == "Content-Length" {
			wroteCL = true
		}
		for _, v := range vv {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, SanitizeHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	if !wroteCL {
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body)); err != nil {
			return err
		}
	}
	if err := writeConnection(bw, keepAlive); err != nil {
		return err
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// StartResponse writes the status line and headers, including
// Connection and optional Transfer-Encoding: chunked. It does not
// write any body bytes. Chunked framing and Content-Length are mutually
// exclusive: enabling chunked drops any Content-Length header.
func StartResponse(bw *bufio.Writer, status int, reason string, hdr map[string][]string, chunked, keepAlive bool) error {
	if reason == "" {
		reason = defaultReason(status)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, reason); err != nil {
		return err
	}
	if chunked {
		delete(hdr, "Content-Length")
		if _, err := fmt.Fprint(bw, "Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	}
	for k, vv := range hdr {
		// The Connection header is owned by the serving loop.
		if k == "Connection" {
			continue
		}
		for _, v := range vv {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, SanitizeHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	if err := writeConnection(bw, keepAlive); err != nil {
		return err
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	return nil
}

// WriteChunked writes one HTTP/1.1 chunk for chunked transfer encoding.
func WriteChunked(bw *bufio.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-length chunk.
func EndChunked(bw *bufio.Writer) error {
	if _, err := fmt.Fprint(bw, "0\r\n\r\n"); err != nil {
		return err
	}
	return nil
}

// WriteContinue writes an interim 100 Continue response.
func WriteContinue(bw *bufio.Writer) error {
	_, err := fmt.Fprint(bw, "HTTP/1.1 100 Continue\r\n\r\n")
	return err
}

// OutboundRequest is a request ready for serialization. Header should
// already contain Host and Connection; ContentLength -1 with a non-nil
// Body selects chunked framing.
type OutboundRequest struct {
	Method        string
	Target        string
	Header        map[string][]string
	Body          io.Reader
	ContentLength int64
}

// WriteRequest serializes an outbound request with the same framing rules
// as the response path: known length emits Content-Length and exact
// bytes, unknown length emits chunked frames ending in a zero chunk. The
// caller flushes.
func WriteRequest(bw *bufio.Writer, or *OutboundRequest) error {
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", or.Method, or.Target); err != nil {
		return err
	}
	// Host first; proxies and many origin servers expect it early.
	if host := getHeader(or.Header, "Host"); host != "" {
		if _, err := fmt.Fprintf(bw, "Host: %s\r\n", SanitizeHeaderValue(host)); err != nil {
			return err
		}
	}
	chunked := or.Body != nil && or.ContentLength < 0
	for k, vv := range or.Header {
		if k == "Host" || k == "Content-Length" || k == "Transfer-Encoding" {
			continue
		}
		for _, v := range vv {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, SanitizeHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	if or.Body != nil {
		if chunked {
			if _, err := fmt.Fprint(bw, "Transfer-Encoding: chunked\r\n"); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", or.ContentLength); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	if or.Body == nil {
		return nil
	}
	if chunked {
		buf := make([]byte, 8<<10)
		for {
			n, err := or.Body.Read(buf)
			if n > 0 {
				if _, werr := WriteChunked(bw, buf[:n]); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
		}
		return EndChunked(bw)
	}
	if or.ContentLength > 0 {
		if _, err := io.CopyN(bw, or.Body, or.ContentLength); err != nil {
			return err
		}
	}
	return nil
}

func writeConnection(bw *bufio.Writer, keepAlive bool) error {
	if keepAlive {
		_, err := fmt.Fprint(bw, "Connection: keep-alive\r\n")
		return err
	}
	_, err := fmt.Fprint(bw, "Connection: close\r\n")
	return err
}

func defaultReason(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 411:
		return "Length Required"
	case 413:
		return "Content Too Large"
	case 415:
		return "Unsupported Media Type"
	case 422:
		return "Unprocessable Content"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return ""
	}
}

// Reason exposes the default reason phrase for a status code.
func Reason(code int) string { return defaultReason(code) }

// SanitizeHeaderValue removes CR/LF and control chars except HTAB.
func SanitizeHeaderValue(v string) string {
	if v == "" {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
