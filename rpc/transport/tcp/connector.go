package tcp

import (
	"net"
	"time"

	"github.com/rackfleet/rackrpc/rpc/common"
	"github.com/rackfleet/rackrpc/rpc/transport"
)

// connector implements the IConnector interface for TCP sockets
type connector struct{}

// NewConnector creates the TCP connector used for rack to region
// connections.
func NewConnector() transport.IConnector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "tcp"
}

func (c *connector) Connect(address string) (net.Conn, error) {
	// The zero Dialer dials dual-stack with Happy Eyeballs fallback and no
	// timeout of its own.
	var dialer net.Dialer
	return dialer.Dial("tcp", address)
}

// UpgradeConnection applies performance settings to a TCP connection using
// the configured SocketConf values.
func (c *connector) UpgradeConnection(conn net.Conn, conf common.SocketConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(conf.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if conf.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if conf.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if conf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(conf.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	// Set linger if configured
	if conf.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(conf.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
