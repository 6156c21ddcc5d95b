// Package dstore implements store.IStore for a member of a replica set.
//
// Writes are turned into oplog operations and proposed to a repl.Replicator in
// the term the role manager reports as writable. A member that is not a
// writable primary (a secondary, a recovering member or a primary that is
// still running its promotion sweep) rejects writes with NotPrimary. Every
// member applies committed operations to its own engine, so reads such as Find
// and ListNamespaces are served locally by any member.
//
// Replicators that report a busy state are retried a few times before the
// write fails.
package dstore
