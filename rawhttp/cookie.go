package rawhttp

import (
	"strconv"
	"strings"
	"time"
)

// Cookie is one HTTP cookie, carried by Cookie on requests and
// Set-Cookie on responses.
type Cookie struct {
	Name  string
	Value string

	// The fields below are Set-Cookie attributes and are ignored when
	// the cookie travels in a request.
	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int // seconds; 0 omits the attribute, negative expires now
	Secure   bool
	HttpOnly bool
	SameSite string
}

// ParseCookies splits a Cookie header value into its pairs, preserving
// their order. Fragments without a name are skipped.
func ParseCookies(line string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}

// Cookies parses every Cookie header on the request, in order.
func (r *Request) Cookies() []Cookie {
	var out []Cookie
	for _, line := range r.Header.Values("Cookie") {
		out = append(out, ParseCookies(line)...)
	}
	return out
}

// Cookie returns the value of the first request cookie with the given
// name.
func (r *Request) Cookie(name string) (string, bool) {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// String serializes the cookie as a Set-Cookie header value.
func (c Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(time.RFC1123))
	}
	if c.MaxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	} else if c.MaxAge < 0 {
		b.WriteString("; Max-Age=0")
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	if c.SameSite != "" {
		b.WriteString("; SameSite=")
		b.WriteString(c.SameSite)
	}
	return b.String()
}

// SetCookie adds a Set-Cookie header for c to the pending response.
func SetCookie(w ResponseWriter, c Cookie) {
	w.Header().Add("Set-Cookie", c.String())
}
