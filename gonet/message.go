package gonet

import "bufio"

// Message is a request written to the buffered side of a Connection.
// If WriteRequest returns an error the connection is closed, as it's likely to be in dirty state.
type Message interface {
	WriteRequest(w *bufio.Writer) error
}

// Reply is decoded from the buffered read side of a Connection.
// If ReadResponse returns an error the connection is closed, as it's likely to be in dirty state.
// Any valid protocol-level errors must be encoded as part of the reply, not returned as errors from ReadResponse.
type Reply interface {
	ReadResponse(r *bufio.Reader) error
}
