// Package regionclient keeps a rack controller connected to its region.
//
// The region runs several event-loop processes and advertises their
// endpoints; this service polls that advertisement and reconciles the
// connection pool against it: connections to event-loops that disappeared or
// moved are dropped, newly advertised event-loops are dialed, handshaken
// while staged and then promoted into the pool. The poll interval adapts to
// the situation, from one second while disconnected up to thirty once every
// advertised event-loop has a connection.
//
// Callers obtain connections through GetClient and GetClientNow. GetClient
// is the polite variant that reports saturation; GetClientNow escalates
// through pool scale-up and a forced update cycle before settling for a busy
// connection.
package regionclient
