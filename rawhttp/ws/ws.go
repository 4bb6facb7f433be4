// Package ws implements the WebSocket opening handshake (RFC 6455) on
// top of rawhttp's connection hijacking. It stops where framing starts:
// the caller receives the raw connection and speaks the wire protocol
// with whatever codec it prefers.
package ws

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/okapilabs/wirekit/rawhttp"
)

// ErrBadHandshake reports a request that is not a valid WebSocket
// opening handshake.
var ErrBadHandshake = errors.New("ws: bad handshake")

// ErrNotHijackable reports a ResponseWriter that cannot yield its
// connection.
var ErrNotHijackable = errors.New("ws: response writer cannot be hijacked")

// acceptGUID is fixed by RFC 6455 section 1.3.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// the base64 of the SHA-1 of the key concatenated with the RFC GUID.
func AcceptKey(key string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, key)
	_, _ = io.WriteString(h, acceptGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// GenerateKey returns a fresh Sec-WebSocket-Key: 16 random bytes,
// base64 encoded.
func GenerateKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// Upgrade validates the opening handshake on r and completes it with a
// 101 over the hijacked connection. On success the server no longer
// manages the connection; the caller owns it and must close it.
// Validation failures answer 400 before returning ErrBadHandshake.
// Subprotocol negotiation is not implemented, so a handshake offering
// Sec-WebSocket-Protocol is rejected rather than silently accepted
// without the protocol the client asked for.
func Upgrade(w rawhttp.ResponseWriter, r *rawhttp.Request) (net.Conn, *bufio.ReadWriter, error) {
	if r.Method != "GET" {
		return nil, nil, reject(w, "handshake requires GET")
	}
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return nil, nil, reject(w, "Connection header must include upgrade")
	}
	if !headerHasToken(r.Header, "Upgrade", "websocket") {
		return nil, nil, reject(w, "Upgrade header must include websocket")
	}
	if v := r.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return nil, nil, reject(w, "unsupported websocket version")
	}
	if r.Header.Get("Sec-WebSocket-Protocol") != "" {
		return nil, nil, reject(w, "subprotocol negotiation is not supported")
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 16 {
		return nil, nil, reject(w, "Sec-WebSocket-Key must be 16 base64 bytes")
	}

	hj, ok := w.(rawhttp.Hijacker)
	if !ok {
		_ = rawhttp.Error(w, 500, "websocket unsupported on this connection")
		return nil, nil, ErrNotHijackable
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		_ = rawhttp.Error(w, 500, "websocket handshake failed")
		return nil, nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Sec-WebSocket-Accept: ")
	buf.WriteString(AcceptKey(key))
	buf.WriteString("\r\n\r\n")
	if _, err := rw.Write(buf.Bytes()); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, rw, nil
}

func reject(w rawhttp.ResponseWriter, reason string) error {
	_ = rawhttp.Error(w, 400, reason)
	return fmt.Errorf("%w: %s", ErrBadHandshake, reason)
}

// headerHasToken reports whether any value of the header contains the
// token in its comma-separated list, ignoring case.
func headerHasToken(h rawhttp.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
