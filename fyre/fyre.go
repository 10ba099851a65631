package fyre

import (
	"errors"
	"fmt"
)

// Code is the numeric status the server attaches to every response line.
type Code int

const (
	Ready        Code = 220 // greeting, sent once when the connection opens
	OK           Code = 250
	Progress     Code = 251 // calculation progress, e.g. "iterations=... density=..."
	False        Code = 252
	Binary       Code = 380 // payload length is the first message token, bytes follow the newline
	Unrecognized Code = 500
	BadValue     Code = 501
	Unsupported  Code = 502
)

var (
	newLine = []byte("\n")
	space   = " "

	ErrMalformedResponse = errors.New("malformed fyre response")
	ErrInvalidCommand    = errors.New("invalid fyre command")
)

// IsSuccess reports whether c is in the 2xx range.
func (c Code) IsSuccess() bool {
	return c >= 200 && c < 300
}

func (c Code) String() string {
	switch c {
	case Ready:
		return "ready"
	case OK:
		return "ok"
	case Progress:
		return "progress"
	case False:
		return "false"
	case Binary:
		return "binary"
	case Unrecognized:
		return "unrecognized"
	case BadValue:
		return "bad value"
	case Unsupported:
		return "unsupported"
	}
	return fmt.Sprintf("code %d", int(c))
}

// HandshakeError is returned when the server greeting is anything but Ready.
type HandshakeError struct {
	Response Response
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("fyre handshake failed: %d %s", e.Response.Code, e.Response.Message)
}

// CommandError reports a non-2xx response to a buffered command, along with
// the exact command text it answered.
type CommandError struct {
	Command  string
	Response Response
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%d %s (in response to %q)", e.Response.Code, e.Response.Message, e.Command)
}
