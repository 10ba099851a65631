package gonet

import (
	"bufio"
	"net"
	"sync"
)

type Request interface {
	Handle()
	WriteResponse(writer *bufio.Writer) error
}

type RequestHandler interface {
	ReadRequest(reader *bufio.Reader) (Request, error)
}

// Greeter is implemented by handlers whose protocol opens with a
// server-sent line before the first request.
type Greeter interface {
	Greet(writer *bufio.Writer) error
}

// Server answers the requests of one connection in arrival order, while
// letting their handling run concurrently.
type Server struct {
	handler RequestHandler
	conn    net.Conn
	done    <-chan struct{}

	requests  chan *PendingRequest
	closeOnce sync.Once
}

type PendingRequest struct {
	request   Request
	completed chan struct{}
}

func NewServer(handler RequestHandler, conn net.Conn, done <-chan struct{}) *Server {
	s := &Server{
		handler: handler,
		conn:    conn,
		done:    done,

		requests: make(chan *PendingRequest),
	}
	return s
}

func (s *Server) Run() {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-s.done:
			s.closeConn()
		case <-finished:
		}
	}()

	writer := bufio.NewWriter(s.conn)
	if g, ok := s.handler.(Greeter); ok {
		if g.Greet(writer) != nil || writer.Flush() != nil {
			s.closeConn()
			return
		}
	}

	go s.requestLoop()
	s.responseLoop(writer)
	s.close()
}

func (s *Server) requestLoop() {
	defer close(s.requests)

	reader := bufio.NewReaderSize(s.conn, 1024)
	for {
		request, err := s.handler.ReadRequest(reader)
		if err != nil {
			return
		}
		pending := &PendingRequest{request: request, completed: make(chan struct{})}
		s.requests <- pending
		go s.handle(pending)
	}
}

func (s *Server) handle(pending *PendingRequest) {
	pending.request.Handle()
	close(pending.completed)
}

func (s *Server) responseLoop(writer *bufio.Writer) {
	for pending := range s.requests {
		<-pending.completed
		err := pending.request.WriteResponse(writer)
		if err != nil {
			break
		}
		err = writer.Flush()
		if err != nil {
			break
		}
	}
}

// close is called after:
//   - all requests were handled or
//   - there was a write error and responses cannot be sent anymore.
//
// In either case the responseLoop has completed, but the requestLoop may need to be interrupted and let finish
func (s *Server) close() {
	s.closeConn()

	// discarding any remaining requests and waiting for the requestLoop to close the channel
	for range s.requests {
	}
}

func (s *Server) closeConn() {
	s.closeOnce.Do(func() {
		// todo: log errors
		_ = s.conn.Close()
	})
}

type ServerFactory struct {
	handler RequestHandler
}

func NewServerFactory(handler RequestHandler) *ServerFactory {
	s := &ServerFactory{
		handler: handler,
	}
	return s
}

func (s *ServerFactory) New(conn net.Conn, done <-chan struct{}) {
	svr := NewServer(s.handler, conn, done)
	// Blocking: the Listener already runs New on a dedicated goroutine
	svr.Run()
}
