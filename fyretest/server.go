// Package fyretest runs an in-process Fyre remote-control server for tests.
// It speaks the real wire protocol over TCP, answers from a scripted
// Handler and records every line it receives.
package fyretest

import (
	"bufio"
	"context"
	"fmt"
	"fyre-go/fyre"
	"fyre-go/gonet"
	"strings"
	"sync"
	"time"
)

// Reply is what the server sends back for one command.
type Reply struct {
	Code    fyre.Code
	Message string

	// Sent after the response line. Message defaults to the length
	// announcement expected for a Binary reply.
	Data []byte

	// Written verbatim instead of "<code> <message>", to produce malformed lines.
	Raw string

	// Holds the reply back, unless the server is closed first.
	Delay time.Duration
}

func OK() Reply {
	return Reply{Code: fyre.OK, Message: "ok"}
}

func Fail(code fyre.Code, message string) Reply {
	return Reply{Code: code, Message: message}
}

func Binary(data []byte) Reply {
	return Reply{Code: fyre.Binary, Message: fmt.Sprintf("%d byte binary response", len(data)), Data: data}
}

func Raw(line string) Reply {
	return Reply{Raw: line}
}

func (r Reply) write(w *bufio.Writer) error {
	var err error
	if r.Raw != "" {
		_, err = w.WriteString(r.Raw + "\n")
	} else {
		_, err = fmt.Fprintf(w, "%d %s\n", r.Code, r.Message)
	}
	if err != nil {
		return err
	}
	if r.Data != nil {
		_, err = w.Write(r.Data)
	}
	return err
}

// Handler picks the reply for a received command line. Calls are made one
// at a time, in arrival order.
type Handler func(command string) Reply

// Script replies with the given replies in order, then OK for anything after.
func Script(replies ...Reply) Handler {
	var lock sync.Mutex
	next := 0
	return func(string) Reply {
		lock.Lock()
		defer lock.Unlock()

		if next >= len(replies) {
			return OK()
		}
		next++
		return replies[next-1]
	}
}

// Commands dispatches on the command name and answers unknown names the way
// the real server does.
func Commands(handlers map[string]Handler) Handler {
	return func(command string) Reply {
		name, _, _ := strings.Cut(command, " ")
		if h, ok := handlers[name]; ok {
			return h(command)
		}
		return Fail(fyre.Unrecognized, "Command not recognized")
	}
}

type Option func(*Server)

func WithGreeting(greeting Reply) Option {
	return func(s *Server) {
		s.greeting = greeting
	}
}

type Server struct {
	greeting Reply
	handler  Handler

	listener *gonet.Listener
	tracking *gonet.TrackingFactory
	closed   chan struct{}
	once     sync.Once

	lock     sync.Mutex
	received []string
}

func NewServer(handler Handler, opts ...Option) (*Server, error) {
	s := &Server{
		greeting: Reply{Code: fyre.Ready, Message: "Fyre rendering server ready"},
		handler:  handler,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tracking = gonet.WithTracking(gonet.NewServerFactory(s))
	s.listener = gonet.NewListenerForAddr("127.0.0.1:0", s.tracking)
	if err := s.listener.Start(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Address().String()
}

// Received returns the command lines received so far, without newlines.
func (s *Server) Received() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]string(nil), s.received...)
}

// Close hangs up on every client and waits until all connections are done.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.listener.Close()
		<-s.tracking.Done()
	})
	return err
}

func (s *Server) Greet(w *bufio.Writer) error {
	return s.greeting.write(w)
}

func (s *Server) ReadRequest(r *bufio.Reader) (gonet.Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	command := strings.TrimRight(line, "\r\n")

	s.lock.Lock()
	s.received = append(s.received, command)
	s.lock.Unlock()

	return &request{reply: s.handler(command), closed: s.closed}, nil
}

type request struct {
	reply  Reply
	closed <-chan struct{}
}

func (r *request) Handle() {
	if r.reply.Delay <= 0 {
		return
	}
	t := time.NewTimer(r.reply.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.closed:
	}
}

func (r *request) WriteResponse(w *bufio.Writer) error {
	return r.reply.write(w)
}
