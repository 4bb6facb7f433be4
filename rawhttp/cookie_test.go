package rawhttp

import (
	"testing"
	"time"
)

func TestParseCookies(t *testing.T) {
	cs := ParseCookies(`a=1; b="quoted"; ; =skipme; c=`)
	if len(cs) != 3 {
		t.Fatalf("parsed %d cookies: %v", len(cs), cs)
	}
	if cs[0].Name != "a" || cs[0].Value != "1" {
		t.Fatalf("cs[0]=%+v", cs[0])
	}
	if cs[1].Name != "b" || cs[1].Value != "quoted" {
		t.Fatalf("cs[1]=%+v", cs[1])
	}
	if cs[2].Name != "c" || cs[2].Value != "" {
		t.Fatalf("cs[2]=%+v", cs[2])
	}
}

func TestRequestCookies_MultipleHeaders(t *testing.T) {
	r := &Request{Header: Header{}}
	r.Header.Add("Cookie", "a=1; b=2")
	r.Header.Add("Cookie", "c=3")
	cs := r.Cookies()
	if len(cs) != 3 || cs[2].Name != "c" {
		t.Fatalf("cookies=%v", cs)
	}
	v, ok := r.Cookie("b")
	if !ok || v != "2" {
		t.Fatalf("Cookie(b)=%q ok=%v", v, ok)
	}
	if _, ok := r.Cookie("zz"); ok {
		t.Fatal("found cookie that was never sent")
	}
}

func TestCookieString(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Cookie{
		Name: "sid", Value: "abc",
		Path: "/", Domain: "example.test",
		Expires: exp, MaxAge: 60,
		Secure: true, HttpOnly: true, SameSite: "Lax",
	}
	want := "sid=abc; Path=/; Domain=example.test; Expires=Fri, 02 Jan 2026 03:04:05 UTC; Max-Age=60; Secure; HttpOnly; SameSite=Lax"
	if got := c.String(); got != want {
		t.Fatalf("String()=%q\nwant     %q", got, want)
	}
}

func TestCookieString_NegativeMaxAge(t *testing.T) {
	c := Cookie{Name: "sid", Value: "gone", MaxAge: -1}
	if got := c.String(); got != "sid=gone; Max-Age=0" {
		t.Fatalf("String()=%q", got)
	}
}

func TestSetCookie(t *testing.T) {
	w := newRecorder()
	SetCookie(w, Cookie{Name: "a", Value: "1"})
	SetCookie(w, Cookie{Name: "b", Value: "2", Path: "/x"})
	vv := w.hdr.Values("Set-Cookie")
	if len(vv) != 2 || vv[0] != "a=1" || vv[1] != "b=2; Path=/x" {
		t.Fatalf("Set-Cookie=%v", vv)
	}
}
