package gonet

import (
	"context"
	"fyre-go/testutil"
)

type BaseSuite struct {
	testutil.BaseSuite
}

func (s *BaseSuite) setupListener(h HandlerFactory) *Listener {
	l := NewListenerForAddr("127.0.0.1:0", h)
	err := l.Start(context.Background())
	s.Require().NoError(err)

	return l
}
