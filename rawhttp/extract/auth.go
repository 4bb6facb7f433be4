package extract

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okapilabs/wirekit/rawhttp"
)

// Authorization is the split Authorization header. A request without
// one maps to 401.
type Authorization struct {
	Scheme      string
	Credentials string
}

func (a *Authorization) FromRequest(r *rawhttp.Request) error {
	v := r.Header.Get("Authorization")
	if v == "" {
		return &Error{Status: 401, Msg: "missing authorization header"}
	}
	scheme, creds, _ := strings.Cut(v, " ")
	a.Scheme = scheme
	a.Credentials = strings.TrimSpace(creds)
	return nil
}

// Bearer is the token of a Bearer authorization header.
type Bearer struct {
	Token string
}

func (b *Bearer) FromRequest(r *rawhttp.Request) error {
	var a Authorization
	if err := a.FromRequest(r); err != nil {
		return err
	}
	if !strings.EqualFold(a.Scheme, "Bearer") {
		return &Error{Status: 401, Msg: "authorization scheme must be Bearer"}
	}
	if a.Credentials == "" {
		return &Error{Status: 401, Msg: "empty bearer token"}
	}
	b.Token = a.Credentials
	return nil
}

// Keyfunc resolves the verification key for JWT extraction. Set it once
// at startup; JWT fails with 500 while it is nil.
var Keyfunc jwt.Keyfunc

// JWT verifies a Bearer token with the package Keyfunc. Invalid or
// missing tokens map to 401.
type JWT struct {
	Token  *jwt.Token
	Claims jwt.MapClaims
}

func (j *JWT) FromRequest(r *rawhttp.Request) error {
	if Keyfunc == nil {
		return &Error{Status: 500, Msg: "jwt keyfunc not configured"}
	}
	var b Bearer
	if err := b.FromRequest(r); err != nil {
		return err
	}
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(b.Token, claims, Keyfunc)
	if err != nil {
		return &Error{Status: 401, Msg: "invalid bearer token", Err: err}
	}
	j.Token = tok
	j.Claims = claims
	return nil
}
