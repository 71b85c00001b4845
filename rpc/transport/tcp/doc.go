// Package tcp implements the TCP connector used for rack to region RPC
// connections. The dial is dual-stack (IPv4 and IPv6 with Happy Eyeballs
// fallback) and carries no dial timeout of its own; socket tuning from
// common.SocketConf is applied once the connection is established.
package tcp
