package connpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rackfleet/rackrpc/rpc/transport"
)

// callResult contains the result of one request/response exchange
type callResult struct {
	data []byte
	err  error
}

// Connection is one live, registered link from this rack controller to a
// region event-loop. A connection is exclusively owned by the pool once
// registered and is destroyed on teardown, never reused across buckets.
type Connection struct {
	eventloop string
	address   string
	conn      net.Conn

	// ephemeral marks connections opened by scale-up; they are reaped after
	// the keep-alive window unless still in use
	ephemeral bool

	inUse      atomic.Bool
	nextCallID atomic.Uint64
	pending    *xsync.MapOf[uint64, chan callResult]

	// writeMu serializes frame writes; reads stay lock-free in the reader
	// goroutine
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	// hookMu guards reapTimer and onClosed. Both are set after the reader
	// goroutine is live, so a remote teardown can race the registration.
	hookMu    sync.Mutex
	reapTimer *time.Timer

	// onClosed is set by the pool at registration so a dying connection
	// deregisters itself; hookOnce keeps it from firing twice when Close and
	// a late registration race
	onClosed func(*Connection)
	hookOnce sync.Once
}

// newConnection wraps an established transport connection and starts its
// response reader.
func newConnection(eventloop, address string, conn net.Conn) *Connection {
	c := &Connection{
		eventloop: eventloop,
		address:   address,
		conn:      conn,
		pending:   xsync.NewMapOf[uint64, chan callResult](),
		closed:    make(chan struct{}),
	}
	go c.readResponses()
	return c
}

// Eventloop returns the name of the region event-loop this connection is
// registered under.
func (c *Connection) Eventloop() string { return c.eventloop }

// Address returns the remote address the connection was dialed to.
func (c *Connection) Address() string { return c.address }

// InUse reports whether a client currently holds the connection.
func (c *Connection) InUse() bool { return c.inUse.Load() }

// Acquire marks the connection as in use. The free-connection selectors skip
// acquired connections and the scale-up reaper defers while the flag is set.
func (c *Connection) Acquire() { c.inUse.Store(true) }

// Release clears the in-use flag.
func (c *Connection) Release() { c.inUse.Store(false) }

// Call sends one framed request and waits for the matching response. Calls
// may be issued concurrently on the same connection; responses are correlated
// by call ID. There is no built-in timeout, pass a context if one is needed.
func (c *Connection) Call(ctx context.Context, payload []byte) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrConnectionClosed
	default:
	}

	callID := c.nextCallID.Add(1)
	respCh := make(chan callResult, 1)
	c.pending.Store(callID, respCh)
	defer c.pending.Delete(callID)

	c.writeMu.Lock()
	err := transport.WriteFrame(c.conn, callID, payload)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("writing to %s: %w", c.eventloop, err)
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-c.closed:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readResponses reads frames in a loop and distributes them to waiting
// calls. A read error tears the connection down and fails every pending
// call.
func (c *Connection) readResponses() {
	for {
		callID, data, err := transport.ReadFrame(c.conn)
		if err != nil {
			c.failPending(err)
			c.Close()
			return
		}

		if respCh, found := c.pending.Load(callID); found {
			respCh <- callResult{data: data, err: nil}
		} else {
			Logger.Warningf("event-loop %s sent a response for unknown call %d", c.eventloop, callID)
		}
	}
}

// failPending delivers err to every call still waiting on this connection.
func (c *Connection) failPending(err error) {
	c.pending.Range(func(id uint64, respCh chan callResult) bool {
		select {
		case respCh <- callResult{err: fmt.Errorf("connection to %s lost: %w", c.eventloop, err)}:
		default:
		}
		c.pending.Delete(id)
		return true
	})
}

// setOnClosed registers the pool's deregistration hook. The connection may
// already have died by the time the pool registers it; in that case the hook
// fires immediately so the dead connection never lingers in a bucket.
func (c *Connection) setOnClosed(hook func(*Connection)) {
	c.hookMu.Lock()
	c.onClosed = hook
	c.hookMu.Unlock()

	select {
	case <-c.closed:
		c.fireOnClosed()
	default:
	}
}

// armReap schedules fn after the keep-alive window; Close stops the timer.
func (c *Connection) armReap(keepalive time.Duration, fn func()) {
	c.hookMu.Lock()
	c.reapTimer = time.AfterFunc(keepalive, fn)
	c.hookMu.Unlock()
}

// deferReap pushes the scheduled reap out by another keep-alive window.
func (c *Connection) deferReap(keepalive time.Duration) {
	c.hookMu.Lock()
	if c.reapTimer != nil {
		c.reapTimer.Reset(keepalive)
	}
	c.hookMu.Unlock()
}

// fireOnClosed invokes the deregistration hook at most once. A nil hook is
// left unconsumed so a registration arriving after Close can still fire it.
func (c *Connection) fireOnClosed() {
	c.hookMu.Lock()
	hook := c.onClosed
	c.hookMu.Unlock()

	if hook == nil {
		return
	}
	c.hookOnce.Do(func() { hook(c) })
}

// Close tears the connection down. It is safe to call multiple times; the
// pool deregisters the connection through the onClosed hook on the first
// call.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.hookMu.Lock()
		timer := c.reapTimer
		c.hookMu.Unlock()
		if timer != nil {
			timer.Stop()
		}

		err = c.conn.Close()
		c.fireOnClosed()
	})
	return err
}
