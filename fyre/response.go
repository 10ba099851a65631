package fyre

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxData is the largest Binary payload accepted when Response.MaxData is zero.
const DefaultMaxData = 64 << 20

// Response is one decoded server reply.
type Response struct {
	Code    Code
	Message string

	// Payload of a Binary response.
	Data []byte

	// Set when the line was consumed but could not be decoded. The stream is
	// still in sync in that case, so it is reported here rather than returned.
	Err error

	// Largest Binary payload ReadResponse accepts. Zero means DefaultMaxData.
	MaxData int
}

// ParseResponse decodes "<code> <message>". Only the first space separates
// the two; the message may contain more.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	code, message, found := strings.Cut(line, space)
	if !found {
		return Response{}, fmt.Errorf("%w: no code separator in %q", ErrMalformedResponse, line)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return Response{}, fmt.Errorf("%w: non-numeric code in %q", ErrMalformedResponse, line)
	}
	return Response{Code: Code(n), Message: message}, nil
}

// ReadResponse reads exactly one response line, plus the payload of a
// Binary response. A returned error means the stream can't be trusted anymore.
func (resp *Response) ReadResponse(r *bufio.Reader) error {
	maxData := resp.MaxData
	if maxData <= 0 {
		maxData = DefaultMaxData
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read response line: %w", err)
	}

	parsed, err := ParseResponse(line)
	if err != nil {
		*resp = Response{Err: err, MaxData: resp.MaxData}
		return nil
	}
	parsed.MaxData = resp.MaxData
	*resp = parsed

	if resp.Code != Binary {
		return nil
	}
	length, err := resp.BinaryLength()
	if err != nil {
		return err
	}
	if length > maxData {
		return fmt.Errorf("%w: binary length %d exceeds limit %d", ErrMalformedResponse, length, maxData)
	}
	resp.Data = make([]byte, length)
	_, err = io.ReadFull(r, resp.Data)
	if err != nil {
		return fmt.Errorf("read %d byte binary payload: %w", length, err)
	}
	return nil
}

// BinaryLength returns the payload size announced by a Binary response.
func (resp Response) BinaryLength() (int, error) {
	token, _, _ := strings.Cut(resp.Message, space)
	length, err := strconv.ParseUint(token, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid binary length %q", ErrMalformedResponse, token)
	}
	return int(length), nil
}

// Fields splits the message into key=value tokens. Tokens without '=' are skipped.
func (resp Response) Fields() map[string]string {
	fields := map[string]string{}
	for _, token := range strings.Fields(resp.Message) {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

func (resp Response) String() string {
	return fmt.Sprintf("%d %s", resp.Code, resp.Message)
}
