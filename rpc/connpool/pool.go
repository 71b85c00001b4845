package connpool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rackfleet/rackrpc/rpc/common"
	"github.com/rackfleet/rackrpc/rpc/transport"
)

var Logger = logger.GetLogger("rpc/connpool")

var (
	connectionsOpened = metrics.GetOrCreateCounter(`rackrpc_pool_connections_opened_total`)
	connectionsClosed = metrics.GetOrCreateCounter(`rackrpc_pool_connections_closed_total`)
	connectionsScaled = metrics.GetOrCreateCounter(`rackrpc_pool_scale_ups_total`)
	connectionsReaped = metrics.GetOrCreateCounter(`rackrpc_pool_connections_reaped_total`)
)

// Pool maintains 1..N live connections per region event-loop, selects
// connections for outgoing calls and reacts to saturation by opening bounded
// extra capacity. All selection is uniformly random; there is no fairness
// guarantee across event-loops, only the per-event-loop ceiling.
type Pool struct {
	connector transport.IConnector
	conf      common.PoolConfig
	socket    common.SocketConf

	mu    sync.RWMutex
	conns map[string][]*Connection

	// staged holds at most one mid-handshake connection per event-loop to
	// prevent duplicate concurrent attempts
	staged *xsync.MapOf[string, *Connection]

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewPool creates a connection pool dialing through the given connector.
func NewPool(connector transport.IConnector, conf common.PoolConfig, socket common.SocketConf) (*Pool, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	return &Pool{
		connector: connector,
		conf:      conf,
		socket:    socket,
		conns:     make(map[string][]*Connection),
		staged:    xsync.NewMapOf[string, *Connection](),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// --------------------------------------------------------------------------
// Dialing
// --------------------------------------------------------------------------

// Connect opens one transport-level connection to the given event-loop
// address. Dial failures surface to the caller untouched; the pool never
// retries internally. The returned connection is not yet registered, hand it
// to StageConnection and then AddConnection.
func (p *Pool) Connect(eventloop, address string) (*Connection, error) {
	raw, err := p.connector.Connect(address)
	if err != nil {
		return nil, err
	}
	if err := p.connector.UpgradeConnection(raw, p.socket); err != nil {
		_ = raw.Close()
		return nil, err
	}

	Logger.Debugf("connected to event-loop %s at %s", eventloop, address)
	return newConnection(eventloop, address, raw), nil
}

// Disconnect tears down a connection. Registered connections deregister
// themselves through the pool's close hook.
func (p *Pool) Disconnect(conn *Connection) error {
	return conn.Close()
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// AddConnection registers a connection under its event-loop. A staged entry
// for the same connection is promoted (and removed from staging) in the same
// step. When this is the bucket's first connection the pool eagerly opens
// additional idle connections up to MaxIdleConnections, so bursts don't wait
// on a handshake.
func (p *Pool) AddConnection(eventloop string, conn *Connection) {
	// Promotion clears staging the instant it happens.
	if staged, ok := p.staged.Load(eventloop); ok && staged == conn {
		p.staged.Delete(eventloop)
	}

	p.mu.Lock()
	first := len(p.conns[eventloop]) == 0
	p.conns[eventloop] = append(p.conns[eventloop], conn)
	p.mu.Unlock()

	conn.setOnClosed(func(c *Connection) {
		connectionsClosed.Inc()
		p.RemoveConnection(eventloop, c)
	})
	connectionsOpened.Inc()

	if first && p.conf.MaxIdleConnections > 1 {
		p.fillIdle(eventloop, conn.address)
	}
}

// fillIdle opens idle connections to address until the bucket holds
// MaxIdleConnections. Failures are logged and stop the fill; the bucket
// already has at least one live connection.
func (p *Pool) fillIdle(eventloop, address string) {
	for {
		p.mu.RLock()
		missing := p.conf.MaxIdleConnections - len(p.conns[eventloop])
		p.mu.RUnlock()
		if missing <= 0 {
			return
		}

		conn, err := p.Connect(eventloop, address)
		if err != nil {
			Logger.Warningf("failed to open idle connection to %s (%s): %v", eventloop, address, err)
			return
		}

		p.mu.Lock()
		p.conns[eventloop] = append(p.conns[eventloop], conn)
		p.mu.Unlock()

		conn.setOnClosed(func(c *Connection) {
			connectionsClosed.Inc()
			p.RemoveConnection(eventloop, c)
		})
		connectionsOpened.Inc()
	}
}

// RemoveConnection deregisters a connection. The event-loop bucket is
// deleted entirely once its last connection is gone.
func (p *Pool) RemoveConnection(eventloop string, conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.conns[eventloop]
	for i, c := range bucket {
		if c == conn {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}

	if len(bucket) == 0 {
		delete(p.conns, eventloop)
	} else {
		p.conns[eventloop] = bucket
	}
}

// --------------------------------------------------------------------------
// Selection
// --------------------------------------------------------------------------

// GetConnection returns a random connection to the given event-loop.
func (p *Pool) GetConnection(eventloop string) (*Connection, error) {
	p.mu.RLock()
	bucket := p.conns[eventloop]
	p.mu.RUnlock()

	if len(bucket) == 0 {
		return nil, ErrNoConnectionsAvailable
	}
	return bucket[p.intn(len(bucket))], nil
}

// GetRandomConnection returns a random connection to any event-loop,
// regardless of whether it is in use.
func (p *Pool) GetRandomConnection() (*Connection, error) {
	all := p.GetAllConnections()
	if len(all) == 0 {
		return nil, ErrNoConnectionsAvailable
	}
	return all[p.intn(len(all))], nil
}

// GetRandomFreeConnection returns a random connection that is not currently
// in use. It fails with ErrAllConnectionsBusy when every known connection is
// busy, signalling the caller to open a new connection rather than queue.
func (p *Pool) GetRandomFreeConnection() (*Connection, error) {
	all := p.GetAllConnections()

	free := all[:0]
	for _, c := range all {
		if !c.InUse() {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		return nil, ErrAllConnectionsBusy
	}
	return free[p.intn(len(free))], nil
}

// Bucket returns a copy of the connections registered under one event-loop.
func (p *Pool) Bucket(eventloop string) []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Connection(nil), p.conns[eventloop]...)
}

// GetAllConnections returns every registered connection.
func (p *Pool) GetAllConnections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make([]*Connection, 0, len(p.conns))
	for _, bucket := range p.conns {
		all = append(all, bucket...)
	}
	return all
}

// Snapshot returns a copy of the event-loop to connections mapping.
func (p *Pool) Snapshot() map[string][]*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := make(map[string][]*Connection, len(p.conns))
	for eventloop, bucket := range p.conns {
		snapshot[eventloop] = append([]*Connection(nil), bucket...)
	}
	return snapshot
}

// Eventloops returns the names of all event-loops with at least one
// registered connection.
func (p *Pool) Eventloops() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.conns))
	for eventloop := range p.conns {
		names = append(names, eventloop)
	}
	return names
}

// Len returns the total number of registered connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := 0
	for _, bucket := range p.conns {
		total += len(bucket)
	}
	return total
}

// --------------------------------------------------------------------------
// Scale-up
// --------------------------------------------------------------------------

// ScaleUpConnections opens one extra connection to a random event-loop still
// below its connection ceiling, cloning the address of an existing
// connection. The extra connection is reaped automatically once the
// keep-alive window passes with the connection idle; while it is in use the
// reap is deferred and re-checked at the same interval. Fails with
// ErrMaxConnectionsOpen when no event-loop has spare capacity.
func (p *Pool) ScaleUpConnections() (*Connection, error) {
	p.mu.RLock()
	candidates := make([]string, 0, len(p.conns))
	for eventloop, bucket := range p.conns {
		if len(bucket) < p.conf.MaxConnections {
			candidates = append(candidates, eventloop)
		}
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, ErrMaxConnectionsOpen
	}

	eventloop := candidates[p.intn(len(candidates))]
	existing, err := p.GetConnection(eventloop)
	if err != nil {
		// The bucket emptied between the two looks; treat it as no spare
		// capacity.
		return nil, ErrMaxConnectionsOpen
	}

	conn, err := p.Connect(eventloop, existing.address)
	if err != nil {
		return nil, err
	}
	conn.ephemeral = true
	conn.armReap(p.conf.Keepalive, func() { p.reap(conn) })
	p.AddConnection(eventloop, conn)

	connectionsScaled.Inc()
	Logger.Infof("scaled up connections to event-loop %s (%s)", eventloop, existing.address)
	return conn, nil
}

// reap disposes of a scaled-up connection once it is no longer in use,
// re-arming the timer while it is.
func (p *Pool) reap(conn *Connection) {
	if conn.InUse() {
		conn.deferReap(p.conf.Keepalive)
		return
	}

	connectionsReaped.Inc()
	Logger.Debugf("reaping idle scaled-up connection to event-loop %s", conn.eventloop)
	_ = conn.Close()
}

// --------------------------------------------------------------------------
// Staging
// --------------------------------------------------------------------------

// StageConnection records a connection whose handshake has started. At most
// one staged connection is tracked per event-loop, preventing duplicate
// concurrent attempts.
func (p *Pool) StageConnection(eventloop string, conn *Connection) {
	p.staged.Store(eventloop, conn)
}

// GetStagedConnection returns the mid-handshake connection for an
// event-loop, if any.
func (p *Pool) GetStagedConnection(eventloop string) (*Connection, bool) {
	return p.staged.Load(eventloop)
}

// IsStaged reports whether a handshake is in progress for the event-loop.
func (p *Pool) IsStaged(eventloop string) bool {
	_, ok := p.staged.Load(eventloop)
	return ok
}

// GetStagedConnections returns the event-loops with a handshake in
// progress.
func (p *Pool) GetStagedConnections() []string {
	names := make([]string, 0)
	p.staged.Range(func(eventloop string, _ *Connection) bool {
		names = append(names, eventloop)
		return true
	})
	return names
}

// UnstageConnection drops the staged entry for an event-loop, used when the
// handshake fails.
func (p *Pool) UnstageConnection(eventloop string) {
	p.staged.Delete(eventloop)
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// Close tears down every registered and staged connection.
func (p *Pool) Close() {
	for _, conn := range p.GetAllConnections() {
		_ = conn.Close()
	}
	p.staged.Range(func(eventloop string, conn *Connection) bool {
		_ = conn.Close()
		p.staged.Delete(eventloop)
		return true
	})
}

// intn returns a uniformly random int in [0, n) using the pool's own rng.
func (p *Pool) intn(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Intn(n)
}
