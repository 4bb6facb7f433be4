package extract

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/okapilabs/wirekit/rawhttp"
)

// Params is every captured route parameter, in declaration order.
type Params []rawhttp.Param

func (p *Params) FromRequest(r *rawhttp.Request) error {
	*p = append((*p)[:0], r.PathParams()...)
	return nil
}

// Get returns the named parameter's value.
func (p Params) Get(name string) (string, bool) {
	for _, pr := range p {
		if pr.Key == name {
			return pr.Value, true
		}
	}
	return "", false
}

// Path decodes route parameters into Value. A scalar Value takes the
// route's first parameter; a struct Value matches fields by their path
// tag (or lowercased name). A parameter the route never captures is a
// handler wiring mistake and maps to 500; a value that does not parse
// is the client's and maps to 400.
type Path[T any] struct {
	Value T
}

func (p *Path[T]) FromRequest(r *rawhttp.Request) error {
	rv := reflect.ValueOf(&p.Value).Elem()
	params := r.PathParams()
	if rv.Kind() != reflect.Struct {
		if len(params) == 0 {
			return &Error{Status: 500, Msg: "route captures no parameters"}
		}
		if err := assign(rv, []string{params[0].Value}); err != nil {
			return &Error{Status: 400, Msg: fmt.Sprintf("invalid path parameter %q", params[0].Key), Err: err}
		}
		return nil
	}
	return decodeStruct(rv, "path", "path parameter", func(name string) ([]string, bool) {
		for _, pr := range params {
			if pr.Key == name {
				return []string{pr.Value}, true
			}
		}
		return nil, false
	}, func(name string) error {
		return &Error{Status: 500, Msg: "route captures no parameter " + strconv.Quote(name)}
	})
}

// Query decodes the URL query string into a struct Value, matching
// fields by their query tag (or lowercased name). Declared fields are
// required: a missing or unparsable key maps to 400. Mark a field
// `query:"name,optional"` to let its zero value stand instead.
type Query[T any] struct {
	Value T
}

func (q *Query[T]) FromRequest(r *rawhttp.Request) error {
	rv := reflect.ValueOf(&q.Value).Elem()
	if rv.Kind() != reflect.Struct {
		return &Error{Status: 500, Msg: "query target must be a struct"}
	}
	var values map[string][]string
	if r.URL != nil {
		values = r.URL.Query()
	}
	return decodeStruct(rv, "query", "query parameter", func(name string) ([]string, bool) {
		vv, ok := values[name]
		return vv, ok
	}, func(name string) error {
		return &Error{Status: 400, Msg: "missing query parameter " + strconv.Quote(name)}
	})
}

// Cookies is every cookie the request carries.
type Cookies []rawhttp.Cookie

func (c *Cookies) FromRequest(r *rawhttp.Request) error {
	*c = append((*c)[:0], r.Cookies()...)
	return nil
}

// Get returns the first cookie with the given name.
func (c Cookies) Get(name string) (string, bool) {
	for _, ck := range c {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// decodeStruct fills dst's exported fields from lookup. Declared fields
// are required: an absent key fails with missing(name) unless the
// field's tag carries the "optional" option, in which case the zero
// value stands.
func decodeStruct(dst reflect.Value, tagKey, what string, lookup func(string) ([]string, bool), missing func(string) error) error {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get(tagKey), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		values, ok := lookup(name)
		if !ok {
			if tagHasOption(opts, "optional") {
				continue
			}
			return missing(name)
		}
		if err := assign(dst.Field(i), values); err != nil {
			return &Error{Status: 400, Msg: fmt.Sprintf("invalid %s %q", what, name), Err: err}
		}
	}
	return nil
}

func tagHasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

// assign parses values into a scalar or []string field.
func assign(v reflect.Value, values []string) error {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String {
		out := reflect.MakeSlice(v.Type(), len(values), len(values))
		for i, s := range values {
			out.Index(i).SetString(s)
		}
		v.Set(out)
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	s := values[0]
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(n)
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}
