package gonet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Options bounds every blocking step of a Connection. Zero disables the bound;
// a context deadline still applies.
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connection is a buffered duplex stream to one server. It is not safe for
// concurrent Write/Flush/Read; callers serialize those. Close may be called at any time.
type Connection struct {
	conn net.Conn
	opts Options

	r *bufio.Reader
	w *bufio.Writer

	closeLock sync.Mutex
	closedErr error
}

func Dial(ctx context.Context, addr string, opts Options) (*Connection, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(ctx, "dial", err)
	}
	return NewConnection(conn, opts), nil
}

// NewConnection takes ownership of conn.
func NewConnection(conn net.Conn, opts Options) *Connection {
	return &Connection{
		conn: conn,
		opts: opts,

		r: bufio.NewReader(conn),
		w: bufio.NewWriter(conn),
	}
}

// Write buffers msg. Bytes only reach the socket once the buffer fills or on Flush.
func (c *Connection) Write(msg Message) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(deadline(context.Background(), c.opts.WriteTimeout)); err != nil {
		return c.fail(context.Background(), "write", err)
	}
	if err := msg.WriteRequest(c.w); err != nil {
		return c.fail(context.Background(), "write", err)
	}
	return nil
}

func (c *Connection) Flush(ctx context.Context) error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.w.Buffered() == 0 {
		return nil
	}
	if err := ContextErr(ctx, "flush"); err != nil {
		return err
	}
	stop, err := c.arm(ctx, c.conn.SetWriteDeadline, c.opts.WriteTimeout)
	if err != nil {
		return c.fail(ctx, "flush", err)
	}
	defer stop()

	if err := c.w.Flush(); err != nil {
		return c.fail(ctx, "flush", err)
	}
	return nil
}

// Read decodes exactly one reply, blocking until it arrives,
// the read timeout passes or ctx is done.
func (c *Connection) Read(ctx context.Context, reply Reply) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := ContextErr(ctx, "read"); err != nil {
		return err
	}
	stop, err := c.arm(ctx, c.conn.SetReadDeadline, c.opts.ReadTimeout)
	if err != nil {
		return c.fail(ctx, "read", err)
	}
	defer stop()

	if err := reply.ReadResponse(c.r); err != nil {
		return c.fail(ctx, "read", err)
	}
	return nil
}

// Buffered returns the number of written bytes not yet flushed.
func (c *Connection) Buffered() int {
	return c.w.Buffered()
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Connection) IsOpen() bool {
	return c.usable() == nil
}

// Close closes the connection. Calls after Close return ErrConnClosed.
func (c *Connection) Close() error {
	c.closeLock.Lock()
	defer c.closeLock.Unlock()

	if c.closedErr != nil {
		return nil
	}
	c.closedErr = ErrConnClosed
	return c.conn.Close()
}

func (c *Connection) usable() error {
	c.closeLock.Lock()
	defer c.closeLock.Unlock()

	switch {
	case c.closedErr == nil:
		return nil
	case errors.Is(c.closedErr, ErrConnClosed):
		return ErrConnClosed
	default:
		return fmt.Errorf("%w after %v", ErrConnClosed, c.closedErr)
	}
}

// fail closes the connection: after a partial read or write the stream
// position is unknown and no later response can be matched to its request.
func (c *Connection) fail(ctx context.Context, op string, err error) error {
	err = classify(ctx, op, err)

	c.closeLock.Lock()
	defer c.closeLock.Unlock()

	if c.closedErr == nil {
		c.closedErr = err
		_ = c.conn.Close()
	}
	return err
}

// arm applies the earlier of ctx's deadline and now+timeout, and interrupts
// the pending I/O as soon as ctx is done.
func (c *Connection) arm(ctx context.Context, set func(time.Time) error, timeout time.Duration) (func(), error) {
	if err := set(deadline(ctx, timeout)); err != nil {
		return nil, err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = set(time.Now())
	})
	return func() {
		if !stop() {
			// The callback already started; it must not land on the next deadline.
			<-fired
		}
	}, nil
}

// ContextErr reports a done ctx the way a failed operation op would,
// or returns nil while ctx is still live.
func ContextErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return classify(ctx, op, err)
	}
	return nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}

func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %w", op, ErrTimeout, ctxErr)
		}
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return &TransportError{Op: op, Err: err}
}
