// Package cmd implements the command-line interface for rackrpc. It provides
// a hierarchical command structure for running the rack agent and for
// measuring codec throughput.
//
// The package is organized into several subpackages:
//
//   - agent: Command for running the rack-side RPC agent (pool + region client + task queue)
//   - perf: Codec performance measurement
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See rackrpc -help for a list of all commands.
package cmd
