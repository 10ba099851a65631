package gonet

import (
	"context"
	"errors"
	"net"
	"sync"
)

// HandlerFactory serves one accepted connection. New runs on its own
// goroutine and owns c; done is closed when the Listener closes.
type HandlerFactory interface {
	New(c net.Conn, done <-chan struct{})
}

// acceptCounter is implemented by factories that need to see a connection
// on the accept loop, before its goroutine starts.
type acceptCounter interface {
	accepted()
}

type Listener struct {
	handler HandlerFactory
	addr    string

	listener  net.Listener
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewListenerForAddr(addr string, handler HandlerFactory) *Listener {
	l := &Listener{
		handler: handler,
		addr:    addr,

		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	return l
}

func (l *Listener) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}

	l.listener = listener
	go l.listen()
	return nil
}

func (l *Listener) listen() {
	defer close(l.stopped)

	counter, counting := l.handler.(acceptCounter)
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				// todo: back off on temporary accept errors instead of stopping
				_ = l.shutdown()
			}
			return
		}
		if counting {
			counter.accepted()
		}
		go l.handler.New(conn, l.done)
	}
}

func (l *Listener) Address() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting and signals done to every handler. When it returns,
// the accept loop has exited, so no handler starts afterwards.
func (l *Listener) Close() error {
	err := l.shutdown()
	if l.listener != nil {
		<-l.stopped
	}
	return err
}

func (l *Listener) shutdown() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.listener != nil {
			err = l.listener.Close()
		}
	})
	return err
}
