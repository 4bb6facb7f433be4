package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/okapilabs/wirekit/rawhttp"
)

// Bytes is the raw request body.
type Bytes struct {
	Data []byte
}

func (b *Bytes) FromRequest(r *rawhttp.Request) error {
	data, err := r.Body.Take()
	if err != nil {
		return bodyError(err)
	}
	b.Data = data
	return nil
}

// Text is the request body as a UTF-8 string.
type Text struct {
	Value string
}

func (t *Text) FromRequest(r *rawhttp.Request) error {
	data, err := r.Body.Take()
	if err != nil {
		return bodyError(err)
	}
	if !utf8.Valid(data) {
		return &Error{Status: 400, Msg: "body is not valid UTF-8"}
	}
	t.Value = string(data)
	return nil
}

// JSON decodes an application/json body into Value.
type JSON[T any] struct {
	Value T
}

func (j *JSON[T]) FromRequest(r *rawhttp.Request) error {
	if essence(r.Header.Get("Content-Type")) != "application/json" {
		return &Error{Status: 415, Msg: "expected content type application/json"}
	}
	data, err := r.Body.Take()
	if err != nil {
		return bodyError(err)
	}
	if len(data) == 0 {
		return &Error{Status: 400, Msg: "empty JSON body"}
	}
	if err := json.Unmarshal(data, &j.Value); err != nil {
		return &Error{Status: 400, Msg: "malformed JSON body", Err: err}
	}
	return nil
}

// Form decodes an application/x-www-form-urlencoded body into Value,
// matching struct fields by their form tag (or lowercased name).
// Declared fields are required: a missing or unparsable field maps to
// 400. Mark a field `form:"name,optional"` to let its zero value stand
// instead.
type Form[T any] struct {
	Value T
}

func (f *Form[T]) FromRequest(r *rawhttp.Request) error {
	if essence(r.Header.Get("Content-Type")) != "application/x-www-form-urlencoded" {
		return &Error{Status: 415, Msg: "expected content type application/x-www-form-urlencoded"}
	}
	data, err := r.Body.Take()
	if err != nil {
		return bodyError(err)
	}
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return &Error{Status: 400, Msg: "malformed form body", Err: err}
	}
	rv := reflect.ValueOf(&f.Value).Elem()
	if rv.Kind() != reflect.Struct {
		return &Error{Status: 500, Msg: "form target must be a struct"}
	}
	return decodeStruct(rv, "form", "form field", func(name string) ([]string, bool) {
		vv, ok := values[name]
		return vv, ok
	}, func(name string) error {
		return &Error{Status: 400, Msg: "missing form field " + strconv.Quote(name)}
	})
}

// Multipart parses a multipart/form-data body.
type Multipart struct {
	Form *multipart.Form
}

// ReadForm keeps everything in memory up to this cap; the payload is
// already materialized by then anyway.
const multipartMemory = 32 << 20

func (m *Multipart) FromRequest(r *rawhttp.Request) error {
	mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		return &Error{Status: 415, Msg: "expected content type multipart/form-data"}
	}
	boundary := params["boundary"]
	if boundary == "" {
		return &Error{Status: 400, Msg: "multipart body without boundary"}
	}
	data, err := r.Body.Take()
	if err != nil {
		return bodyError(err)
	}
	form, err := multipart.NewReader(bytes.NewReader(data), boundary).ReadForm(multipartMemory)
	if err != nil {
		return &Error{Status: 400, Msg: "malformed multipart body", Err: err}
	}
	m.Form = form
	return nil
}

// Value returns the first value of a multipart field.
func (m *Multipart) Value(name string) (string, bool) {
	if m.Form == nil {
		return "", false
	}
	vv, ok := m.Form.Value[name]
	if !ok || len(vv) == 0 {
		return "", false
	}
	return vv[0], true
}

// essence reduces a Content-Type header to its lowercased type/subtype,
// so matching ignores case and parameters.
func essence(ct string) string {
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// bodyError maps payload failures: an over-limit body is the client's
// fault, a consumed one is the handler's.
func bodyError(err error) error {
	switch {
	case errors.Is(err, rawhttp.ErrBodyTooLarge):
		return &Error{Status: 413, Msg: "request body too large", Err: err}
	case errors.Is(err, rawhttp.ErrBodyConsumed):
		return &Error{Status: 500, Msg: "request body already consumed", Err: err}
	default:
		return &Error{Status: 400, Msg: "unreadable request body", Err: err}
	}
}
