package fyre_go

import (
	"context"
	"errors"
	"fmt"
	"fyre-go/fyre"
	"sync"
)

// NodeError tags a failure with the cluster node it came from.
type NodeError struct {
	Addr string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Addr, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Cluster drives several render servers with the same command stream.
// Commands are queued on every node; Flush and Query run on all nodes in parallel.
type Cluster struct {
	nodes []*Client
}

// NewCluster connects to every host. If any connection fails, the ones
// already opened are closed again.
func NewCluster(ctx context.Context, hosts []string, cfg Config) (*Cluster, error) {
	if len(hosts) == 0 {
		return nil, errors.New("cluster needs at least one host")
	}

	cl := &Cluster{nodes: make([]*Client, 0, len(hosts))}
	for _, host := range hosts {
		c, err := NewClient(ctx, host, cfg)
		if err != nil {
			_ = cl.Close()
			return nil, &NodeError{Addr: ResolveAddr(host), Err: err}
		}
		cl.nodes = append(cl.nodes, c)
	}
	return cl, nil
}

func (cl *Cluster) Nodes() []*Client {
	return cl.nodes
}

func (cl *Cluster) Command(tokens ...any) error {
	return cl.each(func(c *Client) error {
		return c.Command(tokens...)
	})
}

func (cl *Cluster) SetParams(params fyre.Params) error {
	return cl.each(func(c *Client) error {
		return c.SetParams(params)
	})
}

func (cl *Cluster) Flush(ctx context.Context) error {
	return cl.parallel(func(c *Client) error {
		return c.Flush(ctx)
	})
}

// Query returns one response per node, in node order. Nodes that failed have
// a zero Response and are reported in the returned error.
func (cl *Cluster) Query(ctx context.Context, tokens ...any) ([]fyre.Response, error) {
	responses := make([]fyre.Response, len(cl.nodes))
	err := cl.parallelIndexed(func(i int, c *Client) error {
		resp, err := c.Query(ctx, tokens...)
		responses[i] = resp
		return err
	})
	return responses, err
}

func (cl *Cluster) Close() error {
	var errs []error
	for _, c := range cl.nodes {
		if err := c.Close(); err != nil {
			errs = append(errs, &NodeError{Addr: c.Addr(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (cl *Cluster) each(op func(c *Client) error) error {
	var errs []error
	for _, c := range cl.nodes {
		if err := op(c); err != nil {
			errs = append(errs, &NodeError{Addr: c.Addr(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (cl *Cluster) parallel(op func(c *Client) error) error {
	return cl.parallelIndexed(func(_ int, c *Client) error {
		return op(c)
	})
}

func (cl *Cluster) parallelIndexed(op func(i int, c *Client) error) error {
	errs := make([]error, len(cl.nodes))
	wg := &sync.WaitGroup{}
	wg.Add(len(cl.nodes))
	for i, c := range cl.nodes {
		i, c := i, c
		go func() {
			defer wg.Done()
			if err := op(i, c); err != nil {
				errs[i] = &NodeError{Addr: c.Addr(), Err: err}
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
