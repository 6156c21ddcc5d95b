// Package store defines the command surface of a dDoc shard and its error
// taxonomy.
//
// IStore covers the catalog (CreateNamespace, EnsureIndex, Drop,
// ListNamespaces), documents (Insert, Remove, Find) and the replica set role
// (StepDown, GetRoleStatus). Two implementations exist:
//
//   - dstore: a member of a replica set. Writes go through the operation log of
//     a repl.Replicator and are only accepted by a writable primary.
//   - lstore: a single node that is always primary, used for development and
//     tests.
//
// The rpc packages expose an IStore over the network and implement it again
// on the client side.
//
// Errors returned by a store are *Error values carrying a RetCode. Use
// errors.Is with the exported sentinels:
//
//	if errors.Is(err, store.ErrNotPrimary) {
//		// retry on the primary
//	}
package store
