package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Socket configuration struct
// --------------------------------------------------------------------------

// SocketConf holds socket tuning options applied to freshly dialed
// connections by the transport connectors.
type SocketConf struct {
	// WriteBufferSize is the socket write buffer size in bytes (0 = OS default)
	WriteBufferSize int
	// ReadBufferSize is the socket read buffer size in bytes (0 = OS default)
	ReadBufferSize int
	// TCPNoDelay disables Nagle's algorithm when true
	TCPNoDelay bool
	// TCPKeepAliveSec is the TCP keep-alive period in seconds (0 = disabled)
	TCPKeepAliveSec int
	// TCPLingerSec is the socket linger time in seconds
	TCPLingerSec int
}

// --------------------------------------------------------------------------
// Connection pool configuration struct
// --------------------------------------------------------------------------

// PoolConfig holds all configuration parameters for the connection pool a
// rack controller keeps towards the region event-loops.
type PoolConfig struct {
	// MaxIdleConnections is the number of connections the pool opens eagerly
	// per event-loop so bursts don't wait on a handshake
	MaxIdleConnections int
	// MaxConnections is the hard per-event-loop connection ceiling used by
	// scale-up
	MaxConnections int
	// Keepalive is how long a scaled-up connection is kept around before it
	// is reaped. The reap is deferred while the connection is in use.
	Keepalive time.Duration
}

// DefaultPoolConfig returns the pool configuration used when nothing else is
// specified: a single idle connection per event-loop, one spare slot for
// scale-up and a one second keep-alive window.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConnections: 1,
		MaxConnections:     2,
		Keepalive:          time.Second,
	}
}

// Validate checks the configuration for impossible combinations.
func (c *PoolConfig) Validate() error {
	if c.MaxIdleConnections < 1 {
		return fmt.Errorf("max idle connections must be at least 1, got %d", c.MaxIdleConnections)
	}
	if c.MaxConnections < c.MaxIdleConnections {
		return fmt.Errorf(
			"max connections (%d) must not be smaller than max idle connections (%d)",
			c.MaxConnections, c.MaxIdleConnections,
		)
	}
	if c.Keepalive <= 0 {
		return fmt.Errorf("keepalive must be positive, got %v", c.Keepalive)
	}
	return nil
}

// --------------------------------------------------------------------------
// Agent configuration struct
// --------------------------------------------------------------------------

// AgentConfig holds the full configuration of a rack agent process: the
// connection pool parameters, socket tuning and logging.
type AgentConfig struct {
	// Eventloops maps advertised region event-loop names to their addresses.
	// Normally this set is discovered at runtime; a static map is used by the
	// agent command.
	Eventloops map[string][]string

	// Pool holds the connection pool parameters
	Pool PoolConfig

	// Socket holds socket tuning applied to every dialed connection
	Socket SocketConf

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *AgentConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Connection Pool")
	addField("Max Idle Connections", strconv.Itoa(c.Pool.MaxIdleConnections))
	addField("Max Connections", strconv.Itoa(c.Pool.MaxConnections))
	addField("Keepalive", c.Pool.Keepalive.String())

	addSection("Socket")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))
	addField("TCP No Delay", fmt.Sprintf("%t", c.Socket.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Socket.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Socket.TCPLingerSec))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Event-Loops")
	// Sort keys for consistent output
	keys := make([]string, 0, len(c.Eventloops))
	for k := range c.Eventloops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addField(k, strings.Join(c.Eventloops[k], ", "))
	}

	return sb.String()
}
