// Package transport provides the network connector abstraction used by the
// connection pool, plus the length-delimited frame format spoken on every
// pooled connection.
//
// A connector (see IConnector) knows how to dial one address and how to apply
// socket tuning to the result. The tcp subpackage is the production
// implementation, unix covers same-host setups; tests substitute their own.
//
// Frames carry an 8-byte call ID so responses can be correlated with calls
// that are in flight concurrently on the same connection.
package transport
