package rawhttp

import "errors"

var (
	ErrBadRequest        = errors.New("rawhttp: bad request")
	ErrHeaderTooLarge    = errors.New("rawhttp: header too large")
	ErrBodyTooLarge      = errors.New("rawhttp: body too large")
	ErrBodyConsumed      = errors.New("rawhttp: body already consumed")
	ErrTimeout           = errors.New("rawhttp: timeout")
	ErrProtocolViolation = errors.New("rawhttp: protocol violation")
	ErrHijacked          = errors.New("rawhttp: connection hijacked")
	ErrResponseStarted   = errors.New("rawhttp: response already started")
	ErrServerClosed      = errors.New("rawhttp: server closed")
	ErrTooManyRedirects  = errors.New("rawhttp: too many redirects")
)
