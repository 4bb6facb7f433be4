package rawhttp

import (
	"encoding/json"
	"strconv"
)

// Handler responds to an HTTP request.
type Handler interface {
	ServeHTTP(w ResponseWriter, r *Request)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(w ResponseWriter, r *Request)

// ServeHTTP calls f(w, r).
func (f HandlerFunc) ServeHTTP(w ResponseWriter, r *Request) { f(w, r) }

// ResponseWriter assembles the response to one request. Headers set
// after the first Write or WriteHeader are ignored.
type ResponseWriter interface {
	// Header returns the header map that will be sent with the status
	// line. Mutate it before the first Write.
	Header() Header

	// WriteHeader sends the status line and headers. Write calls it
	// implicitly with 200 when the handler never did.
	WriteHeader(statusCode int)

	// Write appends body bytes to the response.
	Write(p []byte) (int, error)
}

// Text writes a plain-text response with the given status.
func Text(w ResponseWriter, code int, body string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	_, err := w.Write([]byte(body))
	return err
}

// JSON encodes v and writes it with the given status.
func JSON(w ResponseWriter, code int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	_, err = w.Write(b)
	return err
}

// Error writes a plain-text error response.
func Error(w ResponseWriter, code int, msg string) error {
	return Text(w, code, msg)
}

// Redirect writes a redirect to url with the given 3xx status.
func Redirect(w ResponseWriter, code int, url string) {
	w.Header().Set("Location", url)
	w.WriteHeader(code)
}
