package fyre_go

import (
	"context"
	"errors"
	"fmt"
	"fyre-go/fyre"
	"fyre-go/fyretest"
	"fyre-go/gonet"
	"fyre-go/testutil"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	testutil.BaseSuite
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

// recordingConn keeps a copy of everything written to the wire.
type recordingConn struct {
	net.Conn

	lock    sync.Mutex
	written strings.Builder
	closed  bool
}

func (r *recordingConn) Write(p []byte) (int, error) {
	r.lock.Lock()
	r.written.Write(p)
	r.lock.Unlock()
	return r.Conn.Write(p)
}

func (r *recordingConn) Close() error {
	r.lock.Lock()
	r.closed = true
	r.lock.Unlock()
	return r.Conn.Close()
}

func (r *recordingConn) lines() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return strings.Split(strings.TrimSuffix(r.written.String(), "\n"), "\n")
}

func (r *recordingConn) isClosed() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.closed
}

func (s *ClientSuite) config() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 5 * time.Second
	cfg.Logger = s.Logger()
	return cfg
}

func (s *ClientSuite) server(h fyretest.Handler, opts ...fyretest.Option) *fyretest.Server {
	srv, err := fyretest.NewServer(h, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = srv.Close() })
	return srv
}

func (s *ClientSuite) connect(srv *fyretest.Server) *Client {
	cli, err := NewClient(context.Background(), srv.Addr(), s.config())
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = cli.Close() })
	return cli
}

func (s *ClientSuite) connectRecorded(srv *fyretest.Server) (*Client, *recordingConn) {
	conn, err := net.Dial("tcp", srv.Addr())
	s.Require().NoError(err)
	rec := &recordingConn{Conn: conn}

	cli, err := NewClientConn(context.Background(), rec, s.config())
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = cli.Close() })
	return cli, rec
}

func (s *ClientSuite) TestHandshake() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)
	s.Equal(srv.Addr(), cli.Addr())
	s.Empty(cli.Pending())
}

func (s *ClientSuite) TestHandshakeOverConn() {
	srv := s.server(fyretest.Script())
	cli, _ := s.connectRecorded(srv)
	s.Equal(srv.Addr(), cli.Addr())
}

func (s *ClientSuite) TestHandshakeRejected() {
	srv := s.server(fyretest.Script(), fyretest.WithGreeting(fyretest.Fail(fyre.Unrecognized, "bad")))

	conn, err := net.Dial("tcp", srv.Addr())
	s.Require().NoError(err)
	rec := &recordingConn{Conn: conn}

	_, err = NewClientConn(context.Background(), rec, s.config())
	s.Require().Error(err)

	var herr *fyre.HandshakeError
	s.Require().ErrorAs(err, &herr)
	s.Equal(fyre.Unrecognized, herr.Response.Code)
	s.Equal("bad", herr.Response.Message)

	// The socket opened for the handshake doesn't leak
	s.True(rec.isClosed())
}

func (s *ClientSuite) TestHandshakeMalformed() {
	srv := s.server(fyretest.Script(), fyretest.WithGreeting(fyretest.Raw("hello there")))

	_, err := NewClient(context.Background(), srv.Addr(), s.config())
	s.Require().Error(err)
	s.ErrorIs(err, fyre.ErrMalformedResponse)

	var herr *fyre.HandshakeError
	s.False(errors.As(err, &herr))
}

func (s *ClientSuite) TestHandshakeTimeout() {
	// The kernel completes the connection but nobody ever greets
	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer l.Close()

	cfg := s.config()
	cfg.ReadTimeout = 50 * time.Millisecond
	_, err = NewClient(context.Background(), l.Addr().String(), cfg)
	s.Require().Error(err)
	s.ErrorIs(err, gonet.ErrTimeout)
}

func (s *ClientSuite) TestConnectRefused() {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	addr := l.Addr().String()
	s.Require().NoError(l.Close())

	_, err = NewClient(context.Background(), addr, s.config())
	s.Require().Error(err)
	var terr *gonet.TransportError
	s.ErrorAs(err, &terr)
}

func (s *ClientSuite) TestResolveAddr() {
	s.Equal("localhost:7931", ResolveAddr("localhost"))
	s.Equal("render1:9000", ResolveAddr("render1:9000"))
	s.Equal("10.0.0.5:7931", ResolveAddr("10.0.0.5"))
	s.Equal("[::1]:7931", ResolveAddr("::1"))
	s.Equal("[::1]:8000", ResolveAddr("[::1]:8000"))
}

func (s *ClientSuite) TestFlushAllOK() {
	for n := 0; n <= 5; n++ {
		srv := s.server(fyretest.Script())
		cli := s.connect(srv)

		expected := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			s.Require().NoError(cli.Command("set_param", fmt.Sprintf("a=%d", i)))
			expected = append(expected, fmt.Sprintf("set_param a=%d", i))
		}
		s.Equal(expected, cli.Pending())

		s.Require().NoError(cli.Flush(context.Background()))
		s.Empty(cli.Pending())

		s.Require().NoError(cli.Close())
		s.Require().NoError(srv.Close())
		if n == 0 {
			s.Empty(srv.Received())
		} else {
			s.Equal(expected, srv.Received())
		}
	}
}

func (s *ClientSuite) TestFlushReportsFailingCommand() {
	const n = 5
	for k := 1; k <= n; k++ {
		replies := make([]fyretest.Reply, n)
		for i := range replies {
			replies[i] = fyretest.OK()
		}
		replies[k-1] = fyretest.Fail(fyre.BadValue, "bad value")

		srv := s.server(fyretest.Script(replies...))
		cli := s.connect(srv)

		for i := 1; i <= n; i++ {
			s.Require().NoError(cli.Command("set_param", fmt.Sprintf("p%d=%d", i, i)))
		}

		err := cli.Flush(context.Background())
		s.Require().Error(err)

		var cerr *fyre.CommandError
		s.Require().ErrorAs(err, &cerr)
		s.Equal(fmt.Sprintf("set_param p%d=%d", k, k), cerr.Command)
		s.Equal(fyre.BadValue, cerr.Response.Code)
		s.Equal("bad value", cerr.Response.Message)
		s.Empty(cli.Pending())

		// Every response was drained, so the next exchange lines up
		resp, err := cli.Query(context.Background(), "calc_status")
		s.Require().NoError(err)
		s.Equal(fyre.OK, resp.Code)
	}
}

func (s *ClientSuite) TestFlushJoinsAllFailures() {
	srv := s.server(fyretest.Script(
		fyretest.Fail(fyre.Unrecognized, "Command not recognized"),
		fyretest.OK(),
		fyretest.Fail(fyre.Unsupported, "unsupported"),
	))
	cli := s.connect(srv)

	s.Require().NoError(cli.Command("fly"))
	s.Require().NoError(cli.Command("calc_step"))
	s.Require().NoError(cli.Command("set_gui_style", "fancy"))

	err := cli.Flush(context.Background())
	s.Require().Error(err)

	joined, ok := err.(interface{ Unwrap() []error })
	s.Require().True(ok)
	errs := joined.Unwrap()
	s.Require().Len(errs, 2)

	var first, second *fyre.CommandError
	s.Require().ErrorAs(errs[0], &first)
	s.Require().ErrorAs(errs[1], &second)
	s.Equal("fly", first.Command)
	s.Equal("set_gui_style fancy", second.Command)
	s.Equal(fyre.Unsupported, second.Response.Code)
}

func (s *ClientSuite) TestQueryFlushesFirst() {
	srv := s.server(fyretest.Script(fyretest.Fail(fyre.BadValue, "bad value")))
	cli, rec := s.connectRecorded(srv)

	s.Require().NoError(cli.Command("set_render_time", "soon"))

	_, err := cli.Query(context.Background(), "calc_status")
	s.Require().Error(err)
	var cerr *fyre.CommandError
	s.Require().ErrorAs(err, &cerr)
	s.Equal("set_render_time soon", cerr.Command)

	// The query itself never reached the wire
	s.Equal([]string{"set_render_time soon"}, rec.lines())
	s.Require().NoError(cli.Close())
	s.Require().NoError(srv.Close())
	s.Equal([]string{"set_render_time soon"}, srv.Received())
}

func (s *ClientSuite) TestQuery() {
	srv := s.server(fyretest.Commands(map[string]fyretest.Handler{
		"set_param": func(string) fyretest.Reply { return fyretest.OK() },
		"calc_status": func(string) fyretest.Reply {
			return fyretest.Reply{Code: fyre.Progress, Message: "iterations=2.500e+05 density=31"}
		},
		"get_histogram_stream": func(string) fyretest.Reply { return fyretest.Binary([]byte("\x00\x01histogram\n\x02")) },
	}))
	cli, rec := s.connectRecorded(srv)

	s.Require().NoError(cli.SetParams(fyre.Params{}.Set("zoom", 0.8)))

	resp, err := cli.Query(context.Background(), "calc_status")
	s.Require().NoError(err)
	s.Equal(fyre.Progress, resp.Code)
	s.Equal("31", resp.Fields()["density"])
	s.Empty(cli.Pending())

	resp, err = cli.Query(context.Background(), "get_histogram_stream")
	s.Require().NoError(err)
	s.Equal(fyre.Binary, resp.Code)
	s.Equal([]byte("\x00\x01histogram\n\x02"), resp.Data)

	// Non-2xx replies to a query are data, not errors
	resp, err = cli.Query(context.Background(), "explode", 3)
	s.Require().NoError(err)
	s.Equal(fyre.Unrecognized, resp.Code)
	s.Equal("Command not recognized", resp.Message)

	s.Equal([]string{"set_param zoom=0.8", "calc_status", "get_histogram_stream", "explode 3"}, rec.lines())
}

func (s *ClientSuite) TestFlushSkipsBinaryPayload() {
	srv := s.server(fyretest.Script(fyretest.Binary([]byte("250 this is payload\n")), fyretest.OK()))
	cli := s.connect(srv)

	s.Require().NoError(cli.Command("get_histogram_stream"))
	s.Require().NoError(cli.Command("calc_step"))

	err := cli.Flush(context.Background())
	var cerr *fyre.CommandError
	s.Require().ErrorAs(err, &cerr)
	s.Equal("get_histogram_stream", cerr.Command)
	s.Equal(fyre.Binary, cerr.Response.Code)

	// calc_step got its own 250, not the payload line
	resp, err := cli.Query(context.Background(), "calc_status")
	s.Require().NoError(err)
	s.Equal("ok", resp.Message)
}

func (s *ClientSuite) TestSetParamRoundTrip() {
	srv := s.server(fyretest.Script(fyretest.Reply{Code: fyre.OK, Message: "ok"}))
	cli := s.connect(srv)

	s.Require().NoError(cli.Command("set_param", "size=400x300"))
	s.Require().NoError(cli.Flush(context.Background()))
	s.Empty(cli.Pending())
}

func (s *ClientSuite) TestSetParamsOrder() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)

	s.Require().NoError(cli.SetParams(fyre.Params{{Name: "a", Value: 1}, {Name: "b", Value: 2}}))
	s.Equal([]string{"set_param a=1", "set_param b=2"}, cli.Pending())

	s.Require().NoError(cli.Flush(context.Background()))
	s.Require().NoError(cli.Close())
	s.Require().NoError(srv.Close())
	s.Equal([]string{"set_param a=1", "set_param b=2"}, srv.Received())
}

func (s *ClientSuite) TestMalformedResponse() {
	srv := s.server(fyretest.Script(fyretest.Raw("garbage"), fyretest.OK(), fyretest.Raw("2x0 what")))
	cli := s.connect(srv)

	s.Require().NoError(cli.Command("calc_step"))
	s.Require().NoError(cli.Command("calc_step"))

	err := cli.Flush(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, fyre.ErrMalformedResponse)
	s.ErrorContains(err, "garbage")

	var cerr *fyre.CommandError
	s.False(errors.As(err, &cerr))

	_, err = cli.Query(context.Background(), "calc_status")
	s.ErrorIs(err, fyre.ErrMalformedResponse)
}

func (s *ClientSuite) TestInvalidCommand() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)

	s.ErrorIs(cli.Command(), fyre.ErrInvalidCommand)
	s.ErrorIs(cli.Command("set_param", "a=1\ncalc_step"), fyre.ErrInvalidCommand)
	_, err := cli.Query(context.Background())
	s.ErrorIs(err, fyre.ErrInvalidCommand)
	s.Empty(cli.Pending())

	err = cli.SetParams(fyre.Params{{Name: "title", Value: "two\nlines"}})
	s.ErrorIs(err, fyre.ErrInvalidCommand)
	s.ErrorContains(err, "set_param title")
}

func (s *ClientSuite) TestFlushTimeout() {
	srv := s.server(fyretest.Script(fyretest.Reply{Code: fyre.OK, Message: "late", Delay: time.Minute}))
	cfg := s.config()
	cfg.ReadTimeout = 50 * time.Millisecond
	cli, err := NewClient(context.Background(), srv.Addr(), cfg)
	s.Require().NoError(err)
	defer cli.Close()

	s.Require().NoError(cli.Command("calc_step"))
	s.Require().NoError(cli.Command("calc_step"))

	err = cli.Flush(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, gonet.ErrTimeout)
	var cerr *fyre.CommandError
	s.False(errors.As(err, &cerr), "a timeout is not a command error")
	s.Empty(cli.Pending())

	// The unanswered responses could arrive later, so the connection is gone
	s.ErrorIs(cli.Command("calc_step"), gonet.ErrConnClosed)
	_, err = cli.Query(context.Background(), "calc_status")
	s.ErrorIs(err, gonet.ErrConnClosed)
}

func (s *ClientSuite) TestQueryContextCanceled() {
	srv := s.server(fyretest.Script(fyretest.Reply{Code: fyre.OK, Message: "late", Delay: time.Minute}))
	cli := s.connect(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := cli.Query(ctx, "calc_status")
	s.Require().Error(err)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.ErrorIs(err, gonet.ErrTimeout)
}

func (s *ClientSuite) TestFlushAlreadyCanceled() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)

	s.Require().NoError(cli.Command("calc_step"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing was sent: the command stays queued and the connection usable
	err := cli.Flush(ctx)
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.Equal([]string{"calc_step"}, cli.Pending())

	s.Require().NoError(cli.Flush(context.Background()))
	s.Empty(cli.Pending())

	resp, err := cli.Query(context.Background(), "calc_status")
	s.Require().NoError(err)
	s.Equal(fyre.OK, resp.Code)

	s.Require().NoError(cli.Close())
	s.Require().NoError(srv.Close())
	s.Equal([]string{"calc_step", "calc_status"}, srv.Received())
}

func (s *ClientSuite) TestQueryAlreadyCanceled() {
	srv := s.server(fyretest.Script())
	cli, rec := s.connectRecorded(srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := cli.Query(ctx, "calc_status")
	s.Require().Error(err)
	s.ErrorIs(err, gonet.ErrTimeout)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.False(rec.isClosed())

	// The canceled query never reached the wire
	resp, err := cli.Query(context.Background(), "calc_status")
	s.Require().NoError(err)
	s.Equal(fyre.OK, resp.Code)
	s.Equal([]string{"calc_status"}, rec.lines())
}

func (s *ClientSuite) TestQueryBinaryLimit() {
	srv := s.server(fyretest.Script(fyretest.Binary([]byte("too long"))))
	cfg := s.config()
	cfg.MaxBinaryLength = 4
	cli, err := NewClient(context.Background(), srv.Addr(), cfg)
	s.Require().NoError(err)
	defer cli.Close()

	_, err = cli.Query(context.Background(), "get_histogram_stream")
	s.Require().Error(err)
	s.ErrorIs(err, fyre.ErrMalformedResponse)

	// The unread payload is still on the wire, so the connection is dropped
	s.ErrorIs(cli.Command("calc_step"), gonet.ErrConnClosed)
}

func (s *ClientSuite) TestServerHangup() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)

	s.Require().NoError(srv.Close())

	s.Require().NoError(cli.Command("calc_step"))
	err := cli.Flush(context.Background())
	s.Require().Error(err)
	var terr *gonet.TransportError
	s.ErrorAs(err, &terr)
	s.Empty(cli.Pending())
}

func (s *ClientSuite) TestClose() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)

	s.Require().NoError(cli.Command("calc_step"))
	s.Require().NoError(cli.Close())
	s.Empty(cli.Pending())
	s.NoError(cli.Close())

	s.ErrorIs(cli.Command("calc_step"), gonet.ErrConnClosed)
	s.ErrorIs(cli.Flush(context.Background()), gonet.ErrConnClosed)
}

func (s *ClientSuite) TestClientConcurrency() {
	srv := s.server(fyretest.Script())
	cli := s.connect(srv)

	workers := s.IntEnv("TEST_CONCURRENT_WORKERS", 10)
	iterations := s.IntEnv("TEST_CONCURRENT_ITERATIONS", 20)

	wg := &sync.WaitGroup{}
	wg.Add(workers)
	for w := 1; w <= workers; w++ {
		go func(worker int) {
			defer wg.Done()
			for i := 1; i <= iterations; i++ {
				s.NoError(cli.SetParams(fyre.Params{}.Set(fmt.Sprintf("w%d", worker), i)))
				s.NoError(cli.Command("calc_step"))
				if i%5 == 0 {
					s.NoError(cli.Flush(context.Background()))
				}
			}
		}(w)
	}
	wg.Wait()

	s.Require().NoError(cli.Flush(context.Background()))
	s.Require().NoError(cli.Close())
	s.Require().NoError(srv.Close())
	s.Len(srv.Received(), workers*iterations*2)
}

func (s *ClientSuite) TestLiveServer() {
	addr := s.StrEnv("FYRE_ADDR", "")
	if addr == "" {
		s.T().Skip("FYRE_ADDR not set, skipping test")
		return
	}

	cli, err := NewClient(context.Background(), addr, s.config())
	s.Require().NoError(err)
	defer cli.Close()

	s.Require().NoError(cli.SetParams(fyre.Params{}.Set("size", "400x300").Set("exposure", 0.03)))
	resp, err := cli.Query(context.Background(), "calc_status")
	s.Require().NoError(err)
	s.Equal(fyre.Progress, resp.Code)
}
