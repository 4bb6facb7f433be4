package rawhttp

import (
	"io"
)

// Response is an HTTP response as received by a client.
type Response struct {
	// StatusCode is the numeric status, e.g. 200.
	StatusCode int

	// Status is the full status line text, e.g. "200 OK".
	Status string

	// Proto is the protocol version from the status line.
	Proto string

	// Header holds the response header fields. Keys are canonicalized.
	Header Header

	// Body streams the response payload. It must be closed; Close
	// drains any unread remainder so the connection can be reused.
	Body io.ReadCloser

	// ContentLength is the declared body length, -1 when unknown
	// (chunked or close-delimited).
	ContentLength int64

	// Request is the request this response answers, after redirects.
	Request *Request
}
