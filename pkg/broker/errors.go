package broker

import "errors"

var (
	// ErrTransport marks a send that could not reach the broker in time.
	ErrTransport = errors.New("broker transport failure")
	// ErrDecode marks a message that cannot be parsed. It is never retried.
	ErrDecode = errors.New("message decode failure")
	// ErrUnroutable is returned when no binding matches a routing key.
	ErrUnroutable   = errors.New("message unroutable")
	ErrUnknownQueue = errors.New("unknown queue")
)
