package rawhttp

import (
	"sort"
	"strings"
)

// Router dispatches requests to handlers by method and path pattern.
//
// Patterns are slash-separated segment lists. A segment is either a
// literal ("users"), a named parameter (":id", matching exactly one
// non-empty segment), or a catch-all ("*rest", allowed only in the last position,
// matching the whole remainder including an empty one). Captured values
// are available through Request.PathValue.
//
// When several patterns match a path, the more specific one wins:
// patterns are compared segment by segment from the left, and at the
// first position where they differ a literal beats a parameter and a
// parameter beats a catch-all. Patterns that tie keep registration
// order. A path that matches some pattern but not the request method
// produces 405 with an Allow header; a path that matches nothing
// produces 404. Both responses can be replaced via NotFound and
// MethodNotAllowed.
type Router struct {
	// NotFound, when set, replaces the built-in 404 response.
	NotFound Handler

	// MethodNotAllowed, when set, replaces the built-in 405 response.
	// The Allow header is already populated when it runs.
	MethodNotAllowed Handler

	routes []*route
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

type segKind int

// Kinds double as specificity ranks: smaller binds tighter.
const (
	segLiteral segKind = iota
	segParam
	segWildcard
)

type segment struct {
	kind segKind
	name string // literal text or capture name
}

type route struct {
	method  string
	pattern string
	segs    []segment
	handler Handler
}

// Handle registers handler for the method and pattern. It panics on a
// malformed pattern or a duplicate method/pattern pair, since both are
// programming errors.
func (ro *Router) Handle(method, pattern string, handler Handler) {
	if method == "" {
		panic("rawhttp: empty method")
	}
	if handler == nil {
		panic("rawhttp: nil handler")
	}
	segs := parsePattern(pattern)
	for _, rt := range ro.routes {
		if rt.method == method && rt.pattern == pattern {
			panic("rawhttp: duplicate route " + method + " " + pattern)
		}
	}
	ro.routes = append(ro.routes, &route{
		method:  method,
		pattern: pattern,
		segs:    segs,
		handler: handler,
	})
	// Stable sort keeps registration order among patterns of equal
	// specificity, so lookup is a first-match scan.
	sort.SliceStable(ro.routes, func(i, j int) bool {
		return moreSpecific(ro.routes[i].segs, ro.routes[j].segs)
	})
}

// HandleFunc registers an ordinary function for the method and pattern.
func (ro *Router) HandleFunc(method, pattern string, fn func(ResponseWriter, *Request)) {
	ro.Handle(method, pattern, HandlerFunc(fn))
}

// GET registers handler for GET requests on pattern.
func (ro *Router) GET(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("GET", pattern, fn)
}

// POST registers handler for POST requests on pattern.
func (ro *Router) POST(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("POST", pattern, fn)
}

// PUT registers handler for PUT requests on pattern.
func (ro *Router) PUT(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("PUT", pattern, fn)
}

// DELETE registers handler for DELETE requests on pattern.
func (ro *Router) DELETE(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("DELETE", pattern, fn)
}

// PATCH registers handler for PATCH requests on pattern.
func (ro *Router) PATCH(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("PATCH", pattern, fn)
}

// HEAD registers handler for HEAD requests on pattern. Without an
// explicit HEAD route the router serves HEAD through the GET handler
// and the server suppresses the body.
func (ro *Router) HEAD(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("HEAD", pattern, fn)
}

// OPTIONS registers handler for OPTIONS requests on pattern.
func (ro *Router) OPTIONS(pattern string, fn func(ResponseWriter, *Request)) {
	ro.HandleFunc("OPTIONS", pattern, fn)
}

// ServeHTTP dispatches r to the most specific matching route.
func (ro *Router) ServeHTTP(w ResponseWriter, r *Request) {
	path := "/"
	if r.URL != nil && r.URL.Path != "" {
		path = r.URL.Path
	}
	h, params, allowed := ro.match(r.Method, path)
	if h != nil {
		r.setParams(params)
		h.ServeHTTP(w, r)
		return
	}
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		if ro.MethodNotAllowed != nil {
			ro.MethodNotAllowed.ServeHTTP(w, r)
			return
		}
		_ = Text(w, 405, "method not allowed")
		return
	}
	if ro.NotFound != nil {
		ro.NotFound.ServeHTTP(w, r)
		return
	}
	_ = Text(w, 404, "not found")
}

// match returns the handler and captures for the first route matching
// both path and method. When only the method misses, allowed lists the
// methods the path does serve.
func (ro *Router) match(method, path string) (Handler, []Param, []string) {
	segs := splitPath(path)
	var allowed []string
	var headH Handler
	var headParams []Param
	for _, rt := range ro.routes {
		params, ok := rt.match(segs)
		if !ok {
			continue
		}
		if rt.method == method {
			return rt.handler, params, nil
		}
		if method == "HEAD" && rt.method == "GET" && headH == nil {
			headH = rt.handler
			headParams = params
		}
		found := false
		for _, m := range allowed {
			if m == rt.method {
				found = true
				break
			}
		}
		if !found {
			allowed = append(allowed, rt.method)
		}
	}
	if headH != nil {
		return headH, headParams, nil
	}
	sort.Strings(allowed)
	return nil, nil, allowed
}

func (rt *route) match(segs []string) ([]Param, bool) {
	var params []Param
	for i, s := range rt.segs {
		if s.kind == segWildcard {
			params = append(params, Param{Key: s.name, Value: strings.Join(segs[i:], "/")})
			return params, true
		}
		if i >= len(segs) {
			return nil, false
		}
		switch s.kind {
		case segLiteral:
			if segs[i] != s.name {
				return nil, false
			}
		case segParam:
			// A parameter captures exactly one non-empty segment, so
			// /users//x never binds :id to "".
			if segs[i] == "" {
				return nil, false
			}
			params = append(params, Param{Key: s.name, Value: segs[i]})
		}
	}
	if len(segs) != len(rt.segs) {
		return nil, false
	}
	return params, true
}

// moreSpecific orders patterns by comparing segment kinds from the
// left; the first differing position decides.
func moreSpecific(a, b []segment) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].kind != b[i].kind {
			return a[i].kind < b[i].kind
		}
	}
	return false
}

func parsePattern(pattern string) []segment {
	if pattern == "" || pattern[0] != '/' {
		panic("rawhttp: pattern must begin with /: " + pattern)
	}
	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		switch {
		case p == "":
			panic("rawhttp: empty segment in pattern " + pattern)
		case p[0] == ':':
			if len(p) == 1 {
				panic("rawhttp: unnamed parameter in pattern " + pattern)
			}
			segs = append(segs, segment{kind: segParam, name: p[1:]})
		case p[0] == '*':
			if len(p) == 1 {
				panic("rawhttp: unnamed catch-all in pattern " + pattern)
			}
			if i != len(parts)-1 {
				panic("rawhttp: catch-all must be the last segment in pattern " + pattern)
			}
			segs = append(segs, segment{kind: segWildcard, name: p[1:]})
		default:
			segs = append(segs, segment{kind: segLiteral, name: p})
		}
	}
	return segs
}

// splitPath breaks a path into segments, ignoring one trailing slash so
// /users/ and /users land on the same route.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
