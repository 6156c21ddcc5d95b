// Package cmd implements the command-line interface of dDoc. It provides a
// hierarchical command structure for running a server and for talking to one
// as a client.
//
// The package is organized into several subpackages:
//
//   - serve: starts a server with standalone or replicated shards
//   - ns: collection and index management (create, drop, list, ensure-index)
//   - doc: document operations (insert, remove, find)
//   - repl: replica set role inspection and step down
//   - lock: locks kept in a temporary collection
//   - perf: load tests against a running server
//   - util: shared flag, configuration and output helpers (internal use)
//
// See ddoc -help for a list of all commands.
package cmd
