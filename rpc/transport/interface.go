package transport

import (
	"net"

	"github.com/rackfleet/rackrpc/rpc/common"
)

// IConnector defines the interface for transport-specific connection
// operations. The connection pool dials through a connector and never
// retries: a dial failure is the caller's to handle. Connectors apply no
// timeout of their own either, timing out a dial is delegated to the
// underlying transport.
type IConnector interface {
	// Connect establishes a single connection to the given address
	Connect(address string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established
	// connection
	UpgradeConnection(conn net.Conn, conf common.SocketConf) error
}
