package gonet

import (
	"errors"
	"fmt"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrTimeout    = errors.New("i/o timeout")
)

// TransportError wraps a failure of the underlying stream: refused, reset or
// closed mid-read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
