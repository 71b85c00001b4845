// Package connpool maintains the set of RPC connections a rack controller
// keeps towards the worker processes ("event-loops") of the region control
// plane.
//
// Connections are bucketed by event-loop name. Each bucket is kept warm with
// up to MaxIdleConnections opened eagerly when the first connection to an
// event-loop registers, trading memory for latency on the hot path. When
// every connection is busy the pool can open one temporary extra connection
// per request for burst capacity (ScaleUpConnections), bounded by
// MaxConnections per bucket; such connections expire on their own once idle
// for the keep-alive window.
//
// Selection is uniformly random. Capacity problems surface as typed errors
// (ErrAllConnectionsBusy, ErrMaxConnectionsOpen) that the caller must handle;
// the pool never retries or queues internally.
//
// A staging area tracks at most one mid-handshake connection per event-loop
// so concurrent reconnect attempts cannot race each other.
package connpool
