package connpool

import "errors"

var (
	// ErrNoConnectionsAvailable indicates the pool holds no connections at
	// all; the caller should trigger endpoint discovery before retrying.
	ErrNoConnectionsAvailable = errors.New("no connections to any event-loop are available")

	// ErrAllConnectionsBusy indicates every known connection is currently in
	// use; the caller should open a new connection (see ScaleUpConnections)
	// rather than queue behind a busy one.
	ErrAllConnectionsBusy = errors.New("all connections are busy")

	// ErrMaxConnectionsOpen indicates every event-loop bucket has reached its
	// connection ceiling; the caller should back off.
	ErrMaxConnectionsOpen = errors.New("max connections are open")

	// ErrConnectionClosed indicates a call was attempted or in flight on a
	// connection that has been torn down.
	ErrConnectionClosed = errors.New("connection is closed")
)
