// Package repl defines how the operation log is replicated between members.
//
// A Replicator accepts proposals on the leader, replicates them to a majority,
// and applies committed entries to the local db.Engine strictly in log order.
// Two implementations exist:
//
//   - memrepl: members of one process connected by an in-memory network. Elections,
//     terms and the log follow the usual majority rules; it is used for embedding
//     and for deterministic cluster tests.
//   - raftrepl: members on different hosts using Dragonboat.
//
// Leadership as seen by the replicator is the input of the role manager (lib/role),
// which decides when a member is a writable primary.
//
// WaitFor and Retry are the bounded polling helpers used to observe role
// convergence: every wait has an interval and is cancelled by its context.
package repl
