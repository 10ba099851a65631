package fyre_go

import (
	"context"
	"errors"
	"fmt"
	"fyre-go/fyre"
	"fyre-go/gonet"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPort is used when the host carries no explicit port.
const DefaultPort = 7931

type Config struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBinaryLength caps the payload a 380 response may announce.
	// Zero means fyre.DefaultMaxData.
	MaxBinaryLength int

	// Logger receives connection and command events. Nil disables logging.
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,

		MaxBinaryLength: fyre.DefaultMaxData,
	}
}

func (c Config) options() gonet.Options {
	return gonet.Options{
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

func (c Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// ResolveAddr turns "host" or "host:port" into a dialable address.
func ResolveAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, fmt.Sprint(DefaultPort))
}

// Client controls one Fyre server in remote-control mode.
//
// Command only buffers; its errors surface on the next Flush or Query, which
// reconcile the queued commands with their responses in send order.
// A Client may be shared between goroutines.
type Client struct {
	addr    string
	log     zerolog.Logger
	maxData int

	lock    sync.Mutex
	conn    *gonet.Connection
	pending []string
}

// NewClient connects to host and waits for the server greeting.
func NewClient(ctx context.Context, host string, cfg Config) (*Client, error) {
	addr := ResolveAddr(host)
	conn, err := gonet.Dial(ctx, addr, cfg.options())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return newClient(ctx, addr, conn, cfg)
}

// NewClientConn runs the handshake over an already established stream and
// takes ownership of it.
func NewClientConn(ctx context.Context, conn net.Conn, cfg Config) (*Client, error) {
	c := gonet.NewConnection(conn, cfg.options())
	return newClient(ctx, c.RemoteAddr(), c, cfg)
}

func newClient(ctx context.Context, addr string, conn *gonet.Connection, cfg Config) (*Client, error) {
	c := &Client{
		addr:    addr,
		log:     cfg.logger().With().Str("server", addr).Logger(),
		maxData: cfg.MaxBinaryLength,
		conn:    conn,
	}
	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.log.Info().Msg("connected")
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	greeting := fyre.Response{MaxData: c.maxData}
	if err := c.conn.Read(ctx, &greeting); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if greeting.Err != nil {
		return fmt.Errorf("read greeting: %w", greeting.Err)
	}
	if greeting.Code != fyre.Ready {
		return &fyre.HandshakeError{Response: greeting}
	}
	return nil
}

func (c *Client) Addr() string {
	return c.addr
}

// Command sends one command line without waiting for its response. The line
// may sit in the write buffer until the next Flush or Query.
func (c *Client) Command(tokens ...any) error {
	cmd, err := fyre.FormatCommand(tokens...)
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.conn.Write(cmd); err != nil {
		return err
	}
	c.pending = append(c.pending, string(cmd))
	c.log.Debug().Str("command", string(cmd)).Int("pending", len(c.pending)).Msg("queued")
	return nil
}

// SetParams queues one set_param command per entry, in slice order. It is
// not atomic: a rejected entry is reported by the next Flush or Query.
func (c *Client) SetParams(params fyre.Params) error {
	for _, p := range params {
		if err := c.Command(p.Tokens()...); err != nil {
			return fmt.Errorf("set_param %s: %w", p.Name, err)
		}
	}
	return nil
}

// Flush sends all buffered commands and reads one response per queued command.
//
// Every queued response is consumed even after a failure, so the connection
// stays in step with the server. Each non-2xx response yields a
// *fyre.CommandError; they are joined in send order. The queue is empty
// afterwards, unless ctx was already done and nothing was sent.
func (c *Client) Flush(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.flush(ctx)
}

func (c *Client) flush(ctx context.Context) error {
	// Nothing has touched the stream yet: keep the queue and the connection.
	if err := gonet.ContextErr(ctx, "flush"); err != nil {
		return err
	}
	if err := c.conn.Flush(ctx); err != nil {
		return c.abandon(err)
	}

	var errs []error
	for _, cmd := range c.pending {
		resp := fyre.Response{MaxData: c.maxData}
		if err := c.conn.Read(ctx, &resp); err != nil {
			errs = append(errs, fmt.Errorf("response to %q: %w", cmd, err))
			return c.abandon(errors.Join(errs...))
		}

		switch {
		case resp.Err != nil:
			errs = append(errs, fmt.Errorf("response to %q: %w", cmd, resp.Err))
		case !resp.Code.IsSuccess():
			c.log.Warn().Str("command", cmd).Int("code", int(resp.Code)).Str("message", resp.Message).Msg("command failed")
			errs = append(errs, &fyre.CommandError{Command: cmd, Response: resp})
		}
	}
	c.pending = nil
	return errors.Join(errs...)
}

// abandon closes the connection after a failed flush or read. Whatever is
// still buffered or unread would pair later responses with the wrong
// commands, so the queue goes with it.
func (c *Client) abandon(err error) error {
	c.log.Warn().Err(err).Int("pending", len(c.pending)).Msg("closing connection")
	c.pending = nil
	_ = c.conn.Close()
	return err
}

// Query flushes the queued commands, then sends one command and returns its
// response. A failing flush is returned before the query is sent. A non-2xx
// response to the query itself is returned as data, not as an error.
func (c *Client) Query(ctx context.Context, tokens ...any) (fyre.Response, error) {
	cmd, err := fyre.FormatCommand(tokens...)
	if err != nil {
		return fyre.Response{}, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.flush(ctx); err != nil {
		return fyre.Response{}, err
	}
	if err := gonet.ContextErr(ctx, "query"); err != nil {
		return fyre.Response{}, err
	}

	if err := c.conn.Write(cmd); err != nil {
		return fyre.Response{}, err
	}
	if err := c.conn.Flush(ctx); err != nil {
		return fyre.Response{}, c.abandon(err)
	}

	resp := fyre.Response{MaxData: c.maxData}
	if err := c.conn.Read(ctx, &resp); err != nil {
		return fyre.Response{}, c.abandon(fmt.Errorf("response to %q: %w", cmd, err))
	}
	if resp.Err != nil {
		return fyre.Response{}, fmt.Errorf("response to %q: %w", cmd, resp.Err)
	}
	c.log.Debug().Str("command", string(cmd)).Int("code", int(resp.Code)).Msg("queried")
	return resp, nil
}

// Pending returns the commands sent but not yet reconciled with a response.
func (c *Client) Pending() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]string(nil), c.pending...)
}

// Close closes the connection. Queued commands that were never flushed are dropped.
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if len(c.pending) > 0 {
		c.log.Debug().Int("pending", len(c.pending)).Msg("dropping unflushed commands")
	}
	c.pending = nil
	err := c.conn.Close()
	c.log.Info().Msg("closed")
	return err
}
