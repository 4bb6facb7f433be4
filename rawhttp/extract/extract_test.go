package extract

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okapilabs/wirekit/rawhttp"
)

// recorder is a minimal ResponseWriter for handler tests.
type recorder struct {
	status int
	hdr    rawhttp.Header
	buf    bytes.Buffer
}

func newRecorder() *recorder { return &recorder{hdr: rawhttp.Header{}} }

func (r *recorder) Header() rawhttp.Header { return r.hdr }

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = 200
	}
	return r.buf.Write(p)
}

func newReq(t *testing.T, method, target string) *rawhttp.Request {
	t.Helper()
	u, err := url.ParseRequestURI(target)
	if err != nil {
		t.Fatalf("parse %q: %v", target, err)
	}
	return &rawhttp.Request{
		Method: method,
		URL:    u,
		Header: rawhttp.Header{},
		Body:   rawhttp.NewBytesPayload(nil),
	}
}

func withBody(r *rawhttp.Request, contentType string, body []byte) *rawhttp.Request {
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = rawhttp.NewBytesPayload(body)
	r.ContentLength = int64(len(body))
	return r
}

// serveRoute dispatches one request through a router so route captures
// are populated the way the server populates them.
func serveRoute(t *testing.T, pattern, path string, h rawhttp.HandlerFunc) *recorder {
	t.Helper()
	ro := rawhttp.NewRouter()
	ro.Handle("GET", pattern, h)
	w := newRecorder()
	ro.ServeHTTP(w, newReq(t, "GET", path))
	return w
}

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestJSON_Decode(t *testing.T) {
	r := withBody(newReq(t, "POST", "/u"), "application/json", []byte(`{"name":"ada","age":36}`))
	var j JSON[user]
	if err := j.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if j.Value.Name != "ada" || j.Value.Age != 36 {
		t.Fatalf("value=%+v", j.Value)
	}
}

func TestJSON_ContentTypeCaseAndParams(t *testing.T) {
	r := withBody(newReq(t, "POST", "/u"), "Application/JSON; charset=utf-8", []byte(`{"name":"ada"}`))
	var j JSON[user]
	if err := j.FromRequest(r); err != nil {
		t.Fatalf("mixed-case content type rejected: %v", err)
	}
}

func TestJSON_WrongContentType(t *testing.T) {
	r := withBody(newReq(t, "POST", "/u"), "text/plain", []byte(`{}`))
	var j JSON[user]
	err := j.FromRequest(r)
	if StatusOf(err) != 415 {
		t.Fatalf("status=%d err=%v, want 415", StatusOf(err), err)
	}
}

func TestJSON_Malformed(t *testing.T) {
	r := withBody(newReq(t, "POST", "/u"), "application/json", []byte(`{"name":`))
	var j JSON[user]
	if err := j.FromRequest(r); StatusOf(err) != 400 {
		t.Fatalf("status=%d err=%v, want 400", StatusOf(err), err)
	}
}

func TestJSON_EmptyBody(t *testing.T) {
	r := withBody(newReq(t, "POST", "/u"), "application/json", nil)
	var j JSON[user]
	if err := j.FromRequest(r); StatusOf(err) != 400 {
		t.Fatalf("status=%d err=%v, want 400", StatusOf(err), err)
	}
}

func TestText_InvalidUTF8(t *testing.T) {
	r := withBody(newReq(t, "POST", "/u"), "text/plain", []byte{0xff, 0xfe})
	var x Text
	if err := x.FromRequest(r); StatusOf(err) != 400 {
		t.Fatalf("status=%d err=%v, want 400", StatusOf(err), err)
	}
}

func TestBodySharedAcrossExtractors(t *testing.T) {
	body := []byte(`{"name":"ada","age":36}`)
	r := withBody(newReq(t, "POST", "/u"), "application/json", body)
	var b Bytes
	var j JSON[user]
	if err := Apply(r, &b, &j); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(b.Data, body) {
		t.Fatalf("Bytes=%q", string(b.Data))
	}
	if j.Value.Name != "ada" {
		t.Fatalf("JSON=%+v", j.Value)
	}

	// Same pair, reversed order.
	r = withBody(newReq(t, "POST", "/u"), "application/json", body)
	var j2 JSON[user]
	var b2 Bytes
	if err := Apply(r, &j2, &b2); err != nil {
		t.Fatalf("Apply reversed: %v", err)
	}
	if !bytes.Equal(b2.Data, body) || j2.Value.Name != "ada" {
		t.Fatalf("reversed: bytes=%q json=%+v", string(b2.Data), j2.Value)
	}
}

func TestForm_Decode(t *testing.T) {
	type login struct {
		User     string `form:"user"`
		Remember bool   `form:"remember"`
		Attempts int
	}
	body := []byte("user=ada&remember=true&attempts=3")
	r := withBody(newReq(t, "POST", "/login"), "application/x-www-form-urlencoded", body)
	var f Form[login]
	if err := f.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if f.Value.User != "ada" || !f.Value.Remember || f.Value.Attempts != 3 {
		t.Fatalf("value=%+v", f.Value)
	}
}

func TestForm_MissingRequired(t *testing.T) {
	type login struct {
		User string `form:"user"`
		Pass string `form:"pass"`
	}
	r := withBody(newReq(t, "POST", "/login"), "application/x-www-form-urlencoded", []byte("user=ada"))
	var f Form[login]
	err := f.FromRequest(r)
	if StatusOf(err) != 400 {
		t.Fatalf("status=%d, want 400 for missing declared field", StatusOf(err))
	}
}

func TestForm_OptionalFieldKeepsZero(t *testing.T) {
	type login struct {
		User     string `form:"user"`
		Remember bool   `form:"remember,optional"`
	}
	r := withBody(newReq(t, "POST", "/login"), "application/x-www-form-urlencoded", []byte("user=ada"))
	var f Form[login]
	if err := f.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if f.Value.User != "ada" || f.Value.Remember {
		t.Fatalf("value=%+v", f.Value)
	}
}

func TestForm_WrongContentType(t *testing.T) {
	r := withBody(newReq(t, "POST", "/login"), "application/json", []byte("a=b"))
	var f Form[struct{ A string }]
	if err := f.FromRequest(r); StatusOf(err) != 415 {
		t.Fatalf("status=%d, want 415", StatusOf(err))
	}
}

func TestForm_BadField(t *testing.T) {
	type q struct {
		N int `form:"n"`
	}
	r := withBody(newReq(t, "POST", "/x"), "application/x-www-form-urlencoded", []byte("n=abc"))
	var f Form[q]
	if err := f.FromRequest(r); StatusOf(err) != 400 {
		t.Fatalf("status=%d, want 400", StatusOf(err))
	}
}

func TestMultipart_Decode(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", "gopher"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "a.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("data"))
	_ = mw.Close()

	r := withBody(newReq(t, "POST", "/upload"), mw.FormDataContentType(), buf.Bytes())
	var m Multipart
	if err := m.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if v, ok := m.Value("name"); !ok || v != "gopher" {
		t.Fatalf("Value(name)=%q ok=%v", v, ok)
	}
	files := m.Form.File["file"]
	if len(files) != 1 || files[0].Filename != "a.txt" {
		t.Fatalf("files=%v", files)
	}
}

func TestMultipart_MissingBoundary(t *testing.T) {
	r := withBody(newReq(t, "POST", "/upload"), "multipart/form-data", []byte("x"))
	var m Multipart
	if err := m.FromRequest(r); StatusOf(err) != 400 {
		t.Fatalf("status=%d, want 400", StatusOf(err))
	}
}

func TestMultipart_WrongContentType(t *testing.T) {
	r := withBody(newReq(t, "POST", "/upload"), "application/json", []byte("{}"))
	var m Multipart
	if err := m.FromRequest(r); StatusOf(err) != 415 {
		t.Fatalf("status=%d, want 415", StatusOf(err))
	}
}

func TestPath_Scalar(t *testing.T) {
	var got int
	w := serveRoute(t, "/users/:id", "/users/42",
		Handle1[Path[int]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, p Path[int]) {
			got = p.Value
			w.WriteHeader(204)
		}))
	if w.status != 204 || got != 42 {
		t.Fatalf("status=%d got=%d", w.status, got)
	}
}

func TestPath_ScalarUnparsable(t *testing.T) {
	ran := false
	w := serveRoute(t, "/users/:id", "/users/abc",
		Handle1[Path[int]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, p Path[int]) {
			ran = true
		}))
	if w.status != 400 || ran {
		t.Fatalf("status=%d ran=%v, want 400 without running", w.status, ran)
	}
}

func TestPath_RouteWithoutCaptures(t *testing.T) {
	w := serveRoute(t, "/users", "/users",
		Handle1[Path[int]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, p Path[int]) {}))
	if w.status != 500 {
		t.Fatalf("status=%d, want 500 for handler wiring mistake", w.status)
	}
}

func TestPath_Struct(t *testing.T) {
	type repo struct {
		Owner string `path:"owner"`
		Name  string
	}
	var got repo
	w := serveRoute(t, "/repos/:owner/:name", "/repos/okapilabs/wirekit",
		Handle1[Path[repo]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, p Path[repo]) {
			got = p.Value
			w.WriteHeader(204)
		}))
	if w.status != 204 || got.Owner != "okapilabs" || got.Name != "wirekit" {
		t.Fatalf("status=%d got=%+v", w.status, got)
	}
}

func TestPath_StructUnknownCapture(t *testing.T) {
	type bad struct {
		Zig string `path:"zig"`
	}
	w := serveRoute(t, "/users/:id", "/users/7",
		Handle1[Path[bad]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, p Path[bad]) {}))
	if w.status != 500 {
		t.Fatalf("status=%d, want 500 for capture the route never declares", w.status)
	}
}

func TestQuery_Decode(t *testing.T) {
	type search struct {
		Q     string
		Limit int      `query:"limit"`
		Tags  []string `query:"tags"`
		Page  int      `query:"page,optional"`
	}
	r := newReq(t, "GET", "/search?q=go&limit=5&tags=a&tags=b")
	var q Query[search]
	if err := q.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	v := q.Value
	if v.Q != "go" || v.Limit != 5 || len(v.Tags) != 2 || v.Tags[1] != "b" {
		t.Fatalf("value=%+v", v)
	}
	if v.Page != 0 {
		t.Fatalf("absent optional key changed Page=%d", v.Page)
	}
}

func TestQuery_MissingRequired(t *testing.T) {
	type search struct {
		Page int `query:"page"`
	}
	r := newReq(t, "GET", "/search")
	var q Query[search]
	err := q.FromRequest(r)
	if StatusOf(err) != 400 {
		t.Fatalf("status=%d, want 400 for missing declared key", StatusOf(err))
	}
	if q.Value.Page != 0 {
		t.Fatalf("value=%+v after failure", q.Value)
	}
}

func TestQuery_Unparsable(t *testing.T) {
	type search struct {
		Limit int `query:"limit"`
	}
	r := newReq(t, "GET", "/search?limit=banana")
	var q Query[search]
	if err := q.FromRequest(r); StatusOf(err) != 400 {
		t.Fatalf("status=%d, want 400", StatusOf(err))
	}
}

func TestParamsAndCookies(t *testing.T) {
	var ps Params
	w := serveRoute(t, "/a/:x/:y", "/a/1/2",
		Handle1[Params](func(w rawhttp.ResponseWriter, r *rawhttp.Request, got Params) {
			ps = got
			w.WriteHeader(204)
		}))
	if w.status != 204 {
		t.Fatalf("status=%d", w.status)
	}
	if v, ok := ps.Get("y"); !ok || v != "2" {
		t.Fatalf("Get(y)=%q ok=%v", v, ok)
	}

	r := newReq(t, "GET", "/c")
	r.Header.Set("Cookie", "sid=abc; theme=dark")
	var cs Cookies
	if err := cs.FromRequest(r); err != nil {
		t.Fatalf("cookies: %v", err)
	}
	if v, ok := cs.Get("theme"); !ok || v != "dark" {
		t.Fatalf("Get(theme)=%q ok=%v", v, ok)
	}
}

func TestAuthorization(t *testing.T) {
	r := newReq(t, "GET", "/s")
	var a Authorization
	if err := a.FromRequest(r); StatusOf(err) != 401 {
		t.Fatalf("missing header: status=%d, want 401", StatusOf(err))
	}
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if err := a.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if a.Scheme != "Basic" || a.Credentials != "dXNlcjpwYXNz" {
		t.Fatalf("auth=%+v", a)
	}
}

func TestBearer(t *testing.T) {
	r := newReq(t, "GET", "/s")
	r.Header.Set("Authorization", "Bearer tok-123")
	var b Bearer
	if err := b.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if b.Token != "tok-123" {
		t.Fatalf("token=%q", b.Token)
	}

	r.Header.Set("Authorization", "Basic xyz")
	if err := b.FromRequest(r); StatusOf(err) != 401 {
		t.Fatalf("wrong scheme: status=%d, want 401", StatusOf(err))
	}
	r.Header.Set("Authorization", "Bearer ")
	if err := b.FromRequest(r); StatusOf(err) != 401 {
		t.Fatalf("empty token: status=%d, want 401", StatusOf(err))
	}
}

func signedToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWT_Verify(t *testing.T) {
	secret := []byte("test-secret")
	old := Keyfunc
	Keyfunc = func(*jwt.Token) (interface{}, error) { return secret, nil }
	defer func() { Keyfunc = old }()

	tok := signedToken(t, secret, jwt.MapClaims{"sub": "u-1"})
	r := newReq(t, "GET", "/s")
	r.Header.Set("Authorization", "Bearer "+tok)
	var j JWT
	if err := j.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if sub, _ := j.Claims["sub"].(string); sub != "u-1" {
		t.Fatalf("sub=%v", j.Claims["sub"])
	}

	r.Header.Set("Authorization", "Bearer "+tok+"x")
	if err := j.FromRequest(r); StatusOf(err) != 401 {
		t.Fatalf("tampered token: status=%d, want 401", StatusOf(err))
	}
}

func TestJWT_NoKeyfunc(t *testing.T) {
	old := Keyfunc
	Keyfunc = nil
	defer func() { Keyfunc = old }()

	r := newReq(t, "GET", "/s")
	r.Header.Set("Authorization", "Bearer whatever")
	var j JWT
	if err := j.FromRequest(r); StatusOf(err) != 500 {
		t.Fatalf("status=%d, want 500 for missing keyfunc", StatusOf(err))
	}
}

func TestState(t *testing.T) {
	type deps struct{ Env string }
	r := newReq(t, "GET", "/s")
	r = r.WithContext(rawhttp.WithState(context.Background(), deps{Env: "prod"}))
	var s State[deps]
	if err := s.FromRequest(r); err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if s.Value.Env != "prod" {
		t.Fatalf("value=%+v", s.Value)
	}

	var missing State[struct{ X int }]
	if err := missing.FromRequest(newReq(t, "GET", "/s")); StatusOf(err) != 500 {
		t.Fatalf("status=%d, want 500 for missing state", StatusOf(err))
	}
}

func TestHandle2_FirstFailureDecidesStatus(t *testing.T) {
	// No Authorization header, wrong content type: whichever extractor
	// is declared first decides the response.
	build := func() *rawhttp.Request {
		return withBody(newReq(t, "POST", "/x"), "text/plain", []byte("hi"))
	}

	ran := false
	jsonFirst := Handle2[JSON[user], Bearer](func(w rawhttp.ResponseWriter, r *rawhttp.Request, j JSON[user], b Bearer) {
		ran = true
	})
	w := newRecorder()
	jsonFirst(w, build())
	if w.status != 415 || ran {
		t.Fatalf("json first: status=%d ran=%v, want 415", w.status, ran)
	}

	bearerFirst := Handle2[Bearer, JSON[user]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, b Bearer, j JSON[user]) {
		ran = true
	})
	w = newRecorder()
	bearerFirst(w, build())
	if w.status != 401 || ran {
		t.Fatalf("bearer first: status=%d ran=%v, want 401", w.status, ran)
	}
}

func TestHandle1_PassesValue(t *testing.T) {
	h := Handle1[JSON[user]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, j JSON[user]) {
		_ = rawhttp.Text(w, 200, j.Value.Name)
	})
	w := newRecorder()
	h(w, withBody(newReq(t, "POST", "/u"), "application/json", []byte(`{"name":"ada"}`)))
	if w.status != 200 || w.buf.String() != "ada" {
		t.Fatalf("status=%d body=%q", w.status, w.buf.String())
	}
}

func TestErrorMessageHidesInternals(t *testing.T) {
	h := Handle1[State[struct{ X int }]](func(w rawhttp.ResponseWriter, r *rawhttp.Request, s State[struct{ X int }]) {})
	w := newRecorder()
	h(w, newReq(t, "GET", "/s"))
	if w.status != 500 {
		t.Fatalf("status=%d", w.status)
	}
	if w.buf.String() != "internal server error" {
		t.Fatalf("5xx body leaked detail: %q", w.buf.String())
	}
}

func TestStatusOf_PlainError(t *testing.T) {
	if got := StatusOf(errors.New("boom")); got != 500 {
		t.Fatalf("StatusOf=%d, want 500", got)
	}
	if got := StatusOf(&Error{Status: 422, Msg: "nope"}); got != 422 {
		t.Fatalf("StatusOf=%d, want 422", got)
	}
}
