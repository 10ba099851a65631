package gonet

import (
	"net"
	"sync"
)

// TrackingFactory counts the connections served by the wrapped factory.
// Behind a Listener a connection is counted as soon as it is accepted.
type TrackingFactory struct {
	handler HandlerFactory

	lock    sync.Mutex
	active  int
	waiters []chan struct{}
}

func WithTracking(handler HandlerFactory) *TrackingFactory {
	return &TrackingFactory{handler: handler}
}

func (t *TrackingFactory) accepted() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.active++
}

// New serves c. The Listener counted it already on accept.
func (t *TrackingFactory) New(c net.Conn, done <-chan struct{}) {
	defer t.release()
	t.handler.New(c, done)
}

func (t *TrackingFactory) release() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.active--
	if t.active == 0 {
		for _, ch := range t.waiters {
			close(ch)
		}
		t.waiters = nil
	}
}

// Active returns the number of connections currently being served.
func (t *TrackingFactory) Active() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.active
}

// Done is closed once no connection is being served. Call it after the
// Listener is closed, otherwise new connections may still arrive.
func (t *TrackingFactory) Done() <-chan struct{} {
	t.lock.Lock()
	defer t.lock.Unlock()

	ch := make(chan struct{})
	if t.active == 0 {
		close(ch)
	} else {
		t.waiters = append(t.waiters, ch)
	}
	return ch
}
