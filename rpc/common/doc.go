// Package common contains the configuration structures and logging utilities
// shared by the RPC subsystem of the rack controller.
//
// Key Components:
//
//   - PoolConfig/SocketConf/AgentConfig: configuration structs with
//     human-readable String() representations used at startup.
//
//   - Logger factory: a custom ILogger implementation and InitLoggers, which
//     configures the named loggers used throughout the rpc and dbtasks
//     packages.
//
// The package deliberately has no dependencies on the rest of the rpc tree so
// that every other package can import it.
package common
