package connpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rackfleet/rackrpc/rpc/common"
	"github.com/rackfleet/rackrpc/rpc/transport"
	"github.com/rackfleet/rackrpc/rpc/transport/tcp"
)

// spinEchoRegion starts a TCP server that answers every frame with the same
// call ID and payload, standing in for a region event-loop.
func spinEchoRegion(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					callID, data, err := transport.ReadFrame(conn)
					if err != nil {
						return
					}
					if err := transport.WriteFrame(conn, callID, data); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return l.Addr().String()
}

// failingConnector always fails to dial with a fixed error.
type failingConnector struct{ err error }

func (c *failingConnector) Connect(string) (net.Conn, error) { return nil, c.err }
func (c *failingConnector) GetName() string                  { return "failing" }
func (c *failingConnector) UpgradeConnection(net.Conn, common.SocketConf) error {
	return nil
}

func newTestPool(t *testing.T, conf common.PoolConfig) *Pool {
	t.Helper()

	p, err := NewPool(tcp.NewConnector(), conf, common.SocketConf{TCPNoDelay: true})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

// connectAndAdd dials one connection and registers it.
func connectAndAdd(t *testing.T, p *Pool, eventloop, address string) *Connection {
	t.Helper()

	conn, err := p.Connect(eventloop, address)
	if err != nil {
		t.Fatalf("Connect(%s, %s) failed: %v", eventloop, address, err)
	}
	p.AddConnection(eventloop, conn)
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectFailureSurfacesUntouched(t *testing.T) {
	dialErr := errors.New("connection refused")
	p, err := NewPool(&failingConnector{err: dialErr}, common.DefaultPoolConfig(), common.SocketConf{})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	if _, err := p.Connect("eventloop-0", "10.0.0.1:5250"); !errors.Is(err, dialErr) {
		t.Errorf("Connect error = %v, want the dial error untouched", err)
	}
}

func TestAddConnectionFillsIdleTarget(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 3, MaxConnections: 4, Keepalive: time.Second})

	connectAndAdd(t, p, "region:pid=1", addr)

	p.mu.RLock()
	got := len(p.conns["region:pid=1"])
	p.mu.RUnlock()
	if got != 3 {
		t.Errorf("bucket holds %d connections after first add, want 3 (idle target)", got)
	}
}

func TestRemoveLastConnectionDeletesBucket(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.DefaultPoolConfig())

	conn := connectAndAdd(t, p, "region:pid=1", addr)
	if len(p.Eventloops()) != 1 {
		t.Fatalf("expected one event-loop bucket")
	}

	p.RemoveConnection("region:pid=1", conn)

	if n := len(p.Eventloops()); n != 0 {
		t.Errorf("bucket still present after removing its last connection (%d buckets)", n)
	}
	if _, err := p.GetConnection("region:pid=1"); !errors.Is(err, ErrNoConnectionsAvailable) {
		t.Errorf("GetConnection after bucket removal = %v, want ErrNoConnectionsAvailable", err)
	}
}

func TestConnectionDeathDeregisters(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.DefaultPoolConfig())

	conn := connectAndAdd(t, p, "region:pid=1", addr)
	_ = conn.Close()

	waitFor(t, "bucket removal", func() bool { return p.Len() == 0 })
}

// TestConnectionDeathDuringRegistration tears a connection down concurrently
// with AddConnection. Whichever side wins, the dead connection must not stay
// registered: a remote drop in the registration window would otherwise leave
// a zombie bucket entry the selectors keep handing out.
func TestConnectionDeathDuringRegistration(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 1, MaxConnections: 2, Keepalive: time.Second})

	for i := 0; i < 50; i++ {
		conn, err := p.Connect("region:pid=1", addr)
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = conn.Close()
		}()
		go func() {
			defer wg.Done()
			p.AddConnection("region:pid=1", conn)
		}()
		wg.Wait()

		waitFor(t, "dead connection deregistration", func() bool { return p.Len() == 0 })
	}
}

func TestGetRandomFreeConnection(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 1, MaxConnections: 2, Keepalive: time.Second})

	if _, err := p.GetRandomFreeConnection(); !errors.Is(err, ErrAllConnectionsBusy) {
		t.Errorf("empty pool: error = %v, want ErrAllConnectionsBusy", err)
	}

	c1 := connectAndAdd(t, p, "region:pid=1", addr)
	c2 := connectAndAdd(t, p, "region:pid=2", addr)

	free, err := p.GetRandomFreeConnection()
	if err != nil {
		t.Fatalf("GetRandomFreeConnection failed: %v", err)
	}
	if free != c1 && free != c2 {
		t.Errorf("selected connection is not registered")
	}

	c1.Acquire()
	c2.Acquire()
	if _, err := p.GetRandomFreeConnection(); !errors.Is(err, ErrAllConnectionsBusy) {
		t.Errorf("all busy: error = %v, want ErrAllConnectionsBusy", err)
	}

	c2.Release()
	free, err = p.GetRandomFreeConnection()
	if err != nil {
		t.Fatalf("GetRandomFreeConnection after release failed: %v", err)
	}
	if free != c2 {
		t.Errorf("selected busy connection instead of the free one")
	}
}

func TestScaleUpConnections(t *testing.T) {
	addr := spinEchoRegion(t)

	t.Run("OpensExtraConnection", func(t *testing.T) {
		p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 1, MaxConnections: 2, Keepalive: time.Minute})
		connectAndAdd(t, p, "region:pid=1", addr)

		extra, err := p.ScaleUpConnections()
		if err != nil {
			t.Fatalf("ScaleUpConnections failed: %v", err)
		}
		if !extra.ephemeral {
			t.Errorf("scaled-up connection not marked ephemeral")
		}
		if extra.Address() != addr {
			t.Errorf("scaled-up connection dialed %s, want cloned address %s", extra.Address(), addr)
		}
		if p.Len() != 2 {
			t.Errorf("pool holds %d connections after scale-up, want 2", p.Len())
		}
	})

	t.Run("FailsAtCeiling", func(t *testing.T) {
		p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 1, MaxConnections: 1, Keepalive: time.Minute})
		connectAndAdd(t, p, "region:pid=1", addr)

		if _, err := p.ScaleUpConnections(); !errors.Is(err, ErrMaxConnectionsOpen) {
			t.Errorf("ScaleUpConnections at ceiling = %v, want ErrMaxConnectionsOpen", err)
		}
	})

	t.Run("ReapsIdleAfterKeepalive", func(t *testing.T) {
		p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 1, MaxConnections: 2, Keepalive: 50 * time.Millisecond})
		connectAndAdd(t, p, "region:pid=1", addr)

		if _, err := p.ScaleUpConnections(); err != nil {
			t.Fatalf("ScaleUpConnections failed: %v", err)
		}
		waitFor(t, "idle scaled-up connection reap", func() bool { return p.Len() == 1 })
	})

	t.Run("DefersReapWhileInUse", func(t *testing.T) {
		p := newTestPool(t, common.PoolConfig{MaxIdleConnections: 1, MaxConnections: 2, Keepalive: 50 * time.Millisecond})
		connectAndAdd(t, p, "region:pid=1", addr)

		extra, err := p.ScaleUpConnections()
		if err != nil {
			t.Fatalf("ScaleUpConnections failed: %v", err)
		}
		extra.Acquire()

		// Several keep-alive windows pass without the reap firing.
		time.Sleep(200 * time.Millisecond)
		if p.Len() != 2 {
			t.Fatalf("in-use scaled-up connection was reaped")
		}

		extra.Release()
		waitFor(t, "deferred reap after release", func() bool { return p.Len() == 1 })
	})
}

func TestStaging(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.DefaultPoolConfig())

	conn, err := p.Connect("region:pid=1", addr)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	p.StageConnection("region:pid=1", conn)
	if !p.IsStaged("region:pid=1") {
		t.Errorf("IsStaged = false after StageConnection")
	}
	if staged, ok := p.GetStagedConnection("region:pid=1"); !ok || staged != conn {
		t.Errorf("GetStagedConnection did not return the staged connection")
	}
	if got := p.GetStagedConnections(); len(got) != 1 || got[0] != "region:pid=1" {
		t.Errorf("GetStagedConnections = %v", got)
	}

	// Promotion removes the staged entry the instant it happens.
	p.AddConnection("region:pid=1", conn)
	if p.IsStaged("region:pid=1") {
		t.Errorf("connection still staged after promotion")
	}
	if p.Len() != 1 {
		t.Errorf("pool holds %d connections after promotion, want 1", p.Len())
	}

	// A failed handshake unstages explicitly.
	conn2, err := p.Connect("region:pid=2", addr)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	p.StageConnection("region:pid=2", conn2)
	p.UnstageConnection("region:pid=2")
	if p.IsStaged("region:pid=2") {
		t.Errorf("connection still staged after UnstageConnection")
	}
	_ = conn2.Close()
}

func TestConnectionCall(t *testing.T) {
	addr := spinEchoRegion(t)
	p := newTestPool(t, common.DefaultPoolConfig())

	conn := connectAndAdd(t, p, "region:pid=1", addr)

	t.Run("RoundTrip", func(t *testing.T) {
		resp, err := conn.Call(context.Background(), []byte("list-boot-images"))
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if string(resp) != "list-boot-images" {
			t.Errorf("response = %q, want the echoed payload", resp)
		}
	})

	t.Run("ConcurrentCalls", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				payload := []byte(fmt.Sprintf("call-%d", i))
				resp, err := conn.Call(context.Background(), payload)
				if err != nil {
					errs <- err
					return
				}
				if string(resp) != string(payload) {
					errs <- fmt.Errorf("response %q for request %q", resp, payload)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})

	t.Run("CallAfterClose", func(t *testing.T) {
		_ = conn.Close()
		if _, err := conn.Call(context.Background(), []byte("x")); !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Call after close = %v, want ErrConnectionClosed", err)
		}
	})
}
