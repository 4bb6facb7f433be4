package rawhttp

import (
	"bufio"
	"net"
)

// Hijacker is implemented by ResponseWriters that can yield the
// underlying connection to the handler. After a successful Hijack the
// server stops managing the connection entirely; the handler owns its
// lifetime and must close it. Buffered but unread bytes stay available
// in the returned ReadWriter.
type Hijacker interface {
	Hijack() (net.Conn, *bufio.ReadWriter, error)
}
