package unix

import (
	"net"

	"github.com/rackfleet/rackrpc/rpc/common"
	"github.com/rackfleet/rackrpc/rpc/transport"
)

// connector implements the IConnector interface for Unix domain sockets
type connector struct{}

// NewConnector creates the Unix socket connector, used when the region
// event-loop runs on the same host as the rack agent.
func NewConnector() transport.IConnector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "unix"
}

func (c *connector) Connect(address string) (net.Conn, error) {
	return net.Dial("unix", address)
}

// UpgradeConnection applies the socket buffer sizes; the TCP-only options are
// skipped.
func (c *connector) UpgradeConnection(conn net.Conn, conf common.SocketConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil // Not a unix socket, nothing to upgrade
	}

	if conf.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	if conf.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}

	return nil
}
