// Package dbtasks provides a single-concurrency task queue for blocking
// database work.
//
// RPC handlers must never touch the database inline: a blocking query on a
// network goroutine stalls call processing for every peer. Instead they
// submit callables here. The service executes them on one dedicated worker
// goroutine, strictly one at a time and in submission order, so writes
// against the backing store are globally serialized without any locking in
// the handlers themselves.
//
// Three submission flavors exist: Submit (fire-and-forget with optional
// result callbacks; failures are logged and swallowed), Deferred (returns an
// awaitable, cancellable handle) and Barrier (a marker whose handle resolves
// once everything submitted before it has finished).
//
// Every task submitted while the service is running is eventually executed
// or explicitly cancelled, never silently dropped: Stop drains the whole
// queue before returning.
package dbtasks
