// Package unix provides the Unix domain socket connector for same-host
// rack-to-region connections.
package unix
