// Package extract builds typed values out of rawhttp requests.
//
// An Extractor pulls one thing from a request: a decoded JSON body,
// route parameters, a bearer token, shared state. Extractors that fail
// carry the HTTP status the failure maps to (malformed input 400, wrong
// content type 415, missing credentials 401, configuration mistakes
// 500), so handlers built with Handle1..Handle3 answer without running
// when any input is unusable.
//
// Body-consuming extractors share the request's single payload
// materialization; declaring several on one handler is fine.
package extract

import (
	"errors"

	"github.com/okapilabs/wirekit/rawhttp"
)

// Extractor populates itself from a request. Implementations use
// pointer receivers; a returned *Error decides the response status.
type Extractor interface {
	FromRequest(r *rawhttp.Request) error
}

// Error is an extraction failure bound to an HTTP status.
type Error struct {
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf maps an extraction error to its response status, defaulting
// to 500 for errors that carry none.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return 500
}

// Apply runs extractors against r in order and stops at the first
// failure.
func Apply(r *rawhttp.Request, xs ...Extractor) error {
	for _, x := range xs {
		if err := x.FromRequest(r); err != nil {
			return err
		}
	}
	return nil
}

func writeError(w rawhttp.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := "internal server error"
	if status < 500 {
		var e *Error
		if errors.As(err, &e) && e.Msg != "" {
			msg = e.Msg
		} else {
			msg = err.Error()
		}
	}
	_ = rawhttp.Error(w, status, msg)
}

// Handle1 adapts a handler taking one extracted value. Extraction
// failures answer with the error's status and the handler never runs.
func Handle1[X1 any, P1 interface {
	*X1
	Extractor
}](fn func(w rawhttp.ResponseWriter, r *rawhttp.Request, x1 X1)) rawhttp.HandlerFunc {
	return func(w rawhttp.ResponseWriter, r *rawhttp.Request) {
		var x1 X1
		if err := Apply(r, P1(&x1)); err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, x1)
	}
}

// Handle2 adapts a handler taking two extracted values, evaluated in
// declaration order.
func Handle2[X1, X2 any, P1 interface {
	*X1
	Extractor
}, P2 interface {
	*X2
	Extractor
}](fn func(w rawhttp.ResponseWriter, r *rawhttp.Request, x1 X1, x2 X2)) rawhttp.HandlerFunc {
	return func(w rawhttp.ResponseWriter, r *rawhttp.Request) {
		var x1 X1
		var x2 X2
		if err := Apply(r, P1(&x1), P2(&x2)); err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, x1, x2)
	}
}

// Handle3 adapts a handler taking three extracted values.
func Handle3[X1, X2, X3 any, P1 interface {
	*X1
	Extractor
}, P2 interface {
	*X2
	Extractor
}, P3 interface {
	*X3
	Extractor
}](fn func(w rawhttp.ResponseWriter, r *rawhttp.Request, x1 X1, x2 X2, x3 X3)) rawhttp.HandlerFunc {
	return func(w rawhttp.ResponseWriter, r *rawhttp.Request) {
		var x1 X1
		var x2 X2
		var x3 X3
		if err := Apply(r, P1(&x1), P2(&x2), P3(&x3)); err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, x1, x2, x3)
	}
}
