package regionclient

import (
	"context"

	"github.com/rackfleet/rackrpc/rpc/connpool"
)

// Client is a thin call handle over one pool connection. Clients are cheap
// and short-lived; get a fresh one per call batch rather than holding on to
// one, so selection keeps spreading load across connections.
type Client struct {
	conn *connpool.Connection
}

func newClient(conn *connpool.Connection) *Client {
	return &Client{conn: conn}
}

// Eventloop returns the name of the event-loop the client talks to.
func (c *Client) Eventloop() string { return c.conn.Eventloop() }

// Address returns the remote address of the underlying connection.
func (c *Client) Address() string { return c.conn.Address() }

// Call performs one request/response exchange. The connection is marked in
// use for the duration, so free-connection selection and the scale-up reaper
// leave it alone until the response arrives.
func (c *Client) Call(ctx context.Context, payload []byte) ([]byte, error) {
	c.conn.Acquire()
	defer c.conn.Release()
	return c.conn.Call(ctx, payload)
}
