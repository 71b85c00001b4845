package regionclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rackfleet/rackrpc/rpc/connpool"
)

var Logger = logger.GetLogger("rpc/regionclient")

var (
	updatesRun    = metrics.GetOrCreateCounter(`rackrpc_regionclient_updates_total`)
	updatesFailed = metrics.GetOrCreateCounter(`rackrpc_regionclient_update_failures_total`)
)

// Update loop intervals. The loop polls fast while it has nothing or the
// region endpoint cannot be reached, and slows right down once a connection
// to every advertised event-loop is established.
const (
	DefaultIntervalLow  = 1 * time.Second
	DefaultIntervalMid  = 5 * time.Second
	DefaultIntervalHigh = 30 * time.Second
)

// EventloopSource advertises the region's event-loop endpoints: a mapping
// from event-loop name to the addresses it listens on. How the set is
// obtained (typically an HTTP discovery call against the region) is up to the
// implementation.
type EventloopSource interface {
	Eventloops(ctx context.Context) (map[string][]string, error)
}

// Handshake registers a freshly dialed connection with its event-loop. It
// runs while the connection is staged; a failure discards the connection.
type Handshake func(ctx context.Context, conn *connpool.Connection) error

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config configures the region client service.
type Config struct {
	// Source advertises the region's event-loop endpoints
	Source EventloopSource

	// Handshake, if set, runs on every staged connection before it is
	// promoted into the pool
	Handshake Handshake

	// Update loop intervals; zero values fall back to the defaults
	IntervalLow  time.Duration
	IntervalMid  time.Duration
	IntervalHigh time.Duration
}

func (c *Config) withDefaults() Config {
	conf := *c
	if conf.IntervalLow == 0 {
		conf.IntervalLow = DefaultIntervalLow
	}
	if conf.IntervalMid == 0 {
		conf.IntervalMid = DefaultIntervalMid
	}
	if conf.IntervalHigh == 0 {
		conf.IntervalHigh = DefaultIntervalHigh
	}
	return conf
}

// --------------------------------------------------------------------------
// Service
// --------------------------------------------------------------------------

// Service keeps the connection pool reconciled against the set of event-loops
// the region advertises: it periodically fetches the advertised endpoints,
// drops connections to event-loops that vanished or moved, opens connections
// to new ones, and hands out clients for outgoing calls.
type Service struct {
	pool *connpool.Pool
	conf Config

	mu sync.Mutex

	// inflight is non-nil while an update cycle runs; concurrent Update
	// calls piggyback on it instead of starting their own
	inflight chan struct{}

	// lastErr and lastAdvertised describe the most recent completed update;
	// the loop derives its next interval from them
	lastErr        error
	lastAdvertised int

	running bool
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewService creates a stopped region client service managing the given pool.
func NewService(pool *connpool.Pool, conf Config) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("regionclient: pool must not be nil")
	}
	if conf.Source == nil {
		return nil, fmt.Errorf("regionclient: event-loop source must not be nil")
	}

	return &Service{
		pool: pool,
		conf: conf.withDefaults(),
	}, nil
}

// Start launches the update loop. The first update runs immediately.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("regionclient: service already started")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.run(s.stopCh, s.stopped)

	Logger.Infof("region client service started")
	return nil
}

// Stop halts the update loop. Pool connections stay open; tearing them down
// is the pool owner's job.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("regionclient: service is not running")
	}
	s.running = false
	close(s.stopCh)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	Logger.Infof("region client service stopped")
	return nil
}

// run drives the periodic updates until Stop closes stopCh.
func (s *Service) run(stopCh chan struct{}, stopped chan struct{}) {
	defer close(stopped)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		_ = s.Update(context.Background())
		timer.Reset(s.nextInterval())
	}
}

// nextInterval picks the delay before the next update from the outcome of
// the last one: fast while the region is unreachable or nothing is connected,
// medium while some advertised event-loops are still missing, slow once every
// one is connected.
func (s *Service) nextInterval() time.Duration {
	s.mu.Lock()
	lastErr, advertised := s.lastErr, s.lastAdvertised
	s.mu.Unlock()

	connected := len(s.pool.Eventloops())
	switch {
	case lastErr != nil, advertised == 0, connected == 0:
		return s.conf.IntervalLow
	case connected < advertised:
		return s.conf.IntervalMid
	default:
		return s.conf.IntervalHigh
	}
}

// --------------------------------------------------------------------------
// Update cycle
// --------------------------------------------------------------------------

// Update runs one reconciliation cycle: fetch the advertised event-loops,
// drop stale connections, open missing ones. When an update is already in
// flight the call waits for it and returns its outcome instead of starting a
// second cycle.
func (s *Service) Update(ctx context.Context) error {
	s.mu.Lock()
	if inflight := s.inflight; inflight != nil {
		s.mu.Unlock()
		select {
		case <-inflight:
			s.mu.Lock()
			err := s.lastErr
			s.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	inflight := make(chan struct{})
	s.inflight = inflight
	s.mu.Unlock()

	advertised, err := s.doUpdate(ctx)

	s.mu.Lock()
	s.lastErr = err
	s.lastAdvertised = len(advertised)
	s.inflight = nil
	s.mu.Unlock()
	close(inflight)

	return err
}

func (s *Service) doUpdate(ctx context.Context) (map[string][]string, error) {
	updatesRun.Inc()

	advertised, err := s.conf.Source.Eventloops(ctx)
	if err != nil {
		updatesFailed.Inc()
		Logger.Warningf("fetching advertised event-loops failed: %v", err)
		return nil, fmt.Errorf("fetching advertised event-loops: %w", err)
	}

	drops, unstage, connects := s.calculateWork(advertised)

	for _, eventloop := range unstage {
		if conn, ok := s.pool.GetStagedConnection(eventloop); ok {
			s.pool.UnstageConnection(eventloop)
			_ = conn.Close()
		}
	}
	for _, conn := range drops {
		Logger.Infof("dropping connection to event-loop %s (%s): no longer advertised", conn.Eventloop(), conn.Address())
		_ = s.pool.Disconnect(conn)
	}
	for eventloop, addresses := range connects {
		s.makeConnection(ctx, eventloop, addresses)
	}

	return advertised, nil
}

// calculateWork diffs the pool against the advertised endpoint set. It
// returns the connections to drop (their event-loop vanished or stopped
// advertising their address), the staged event-loops to abandon for the same
// reason, and the event-loops to connect to (advertised, not connected, no
// handshake in progress).
func (s *Service) calculateWork(advertised map[string][]string) (drops []*connpool.Connection, unstage []string, connects map[string][]string) {
	snapshot := s.pool.Snapshot()

	for eventloop, bucket := range snapshot {
		addresses, ok := advertised[eventloop]
		if !ok {
			drops = append(drops, bucket...)
			continue
		}
		for _, conn := range bucket {
			if !containsAddress(addresses, conn.Address()) {
				drops = append(drops, conn)
			}
		}
	}

	for _, eventloop := range s.pool.GetStagedConnections() {
		conn, ok := s.pool.GetStagedConnection(eventloop)
		if !ok {
			continue
		}
		if addresses, adv := advertised[eventloop]; !adv || !containsAddress(addresses, conn.Address()) {
			unstage = append(unstage, eventloop)
		}
	}

	connects = make(map[string][]string)
	for eventloop, addresses := range advertised {
		if len(addresses) == 0 {
			continue
		}
		if _, connected := snapshot[eventloop]; connected {
			continue
		}
		if s.pool.IsStaged(eventloop) {
			continue
		}
		connects[eventloop] = addresses
	}

	return drops, unstage, connects
}

// makeConnection dials the advertised addresses of one event-loop in order
// until one succeeds, stages the connection, runs the handshake and promotes
// it into the pool. Failures are logged; the next update cycle retries.
func (s *Service) makeConnection(ctx context.Context, eventloop string, addresses []string) {
	var conn *connpool.Connection
	for _, address := range addresses {
		c, err := s.pool.Connect(eventloop, address)
		if err != nil {
			Logger.Debugf("dialing event-loop %s at %s failed: %v", eventloop, address, err)
			continue
		}
		conn = c
		break
	}
	if conn == nil {
		Logger.Warningf("no advertised address of event-loop %s was reachable", eventloop)
		return
	}

	s.pool.StageConnection(eventloop, conn)
	if s.conf.Handshake != nil {
		if err := s.conf.Handshake(ctx, conn); err != nil {
			Logger.Warningf("handshake with event-loop %s (%s) failed: %v", eventloop, conn.Address(), err)
			s.pool.UnstageConnection(eventloop)
			_ = conn.Close()
			return
		}
	}
	s.pool.AddConnection(eventloop, conn)
	Logger.Infof("connected to event-loop %s at %s", eventloop, conn.Address())
}

func containsAddress(addresses []string, address string) bool {
	for _, a := range addresses {
		if a == address {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Client selection
// --------------------------------------------------------------------------

// GetClient returns a client over a random free connection. With no
// connections at all it fails with ErrNoConnectionsAvailable. When every
// connection is busy it fails with ErrAllConnectionsBusy, unless busyOK is
// set, in which case a random busy connection is returned and calls on it
// queue behind the in-flight ones.
func (s *Service) GetClient(busyOK bool) (*Client, error) {
	if s.pool.Len() == 0 {
		return nil, connpool.ErrNoConnectionsAvailable
	}

	conn, err := s.pool.GetRandomFreeConnection()
	if err == nil {
		return newClient(conn), nil
	}
	if errors.Is(err, connpool.ErrAllConnectionsBusy) && busyOK {
		conn, err := s.pool.GetRandomConnection()
		if err != nil {
			return nil, err
		}
		return newClient(conn), nil
	}
	return nil, err
}

// GetClientNow returns a client, doing whatever it takes to produce one: with
// no connections it forces an update cycle first, and with every connection
// busy it scales the pool up. Only once the pool is at its ceiling does it
// settle for a busy connection.
func (s *Service) GetClientNow(ctx context.Context) (*Client, error) {
	client, err := s.GetClient(false)
	if err == nil {
		return client, nil
	}

	switch {
	case errors.Is(err, connpool.ErrNoConnectionsAvailable):
		if err := s.Update(ctx); err != nil {
			return nil, err
		}
		return s.GetClient(false)

	case errors.Is(err, connpool.ErrAllConnectionsBusy):
		conn, err := s.pool.ScaleUpConnections()
		if err == nil {
			return newClient(conn), nil
		}
		if errors.Is(err, connpool.ErrMaxConnectionsOpen) {
			return s.GetClient(true)
		}
		return nil, err

	default:
		return nil, err
	}
}

// GetAllClients returns one client per registered connection.
func (s *Service) GetAllClients() []*Client {
	conns := s.pool.GetAllConnections()
	clients := make([]*Client, len(conns))
	for i, conn := range conns {
		clients[i] = newClient(conn)
	}
	return clients
}
