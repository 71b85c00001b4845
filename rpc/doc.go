// Package rpc provides the inter-controller RPC transport used between a
// rack controller and the worker processes ("event-loops") of the region
// control plane.
//
// The package is organized into several subpackages:
//
//   - common: configuration structures and logging shared across the RPC
//     system.
//
//   - transport: network connector abstraction and the length-delimited
//     frame format, with TCP and Unix socket implementations.
//
//   - connpool: the connection pool keeping a resilient set of connections
//     from this rack controller to every region event-loop, including staged
//     handshakes and adaptive scale-up.
//
//   - codec: typed wire codecs used to marshal RPC call arguments.
//
//   - regionclient: the client service that discovers the advertised
//     event-loop endpoints, reconciles the pool against them and hands out
//     clients for outgoing calls.
package rpc
