// Package oplog defines the replicated operation log of dDoc.
//
// Every catalog and document mutation is an Op. Ops are proposed by the primary,
// wrapped into an Entry{Term, Seq, Op} by the replicator and applied by every
// member strictly in (term, seq) order. Application reports a Result per entry;
// domain outcomes such as AlreadyExists are results, not errors, so that replay
// of the log is deterministic on every member.
//
// Encoding:
//
//	Ops, entries and results are encoded with msgpack using short field tags.
//	Document values are normalized (see lib/value) after decoding, numbers are
//	therefore always float64.
//
// Operation Types:
//
//   - Noop: appended by a new leader to commit entries of earlier terms
//   - Create / EnsureIndex / Drop: catalog operations, all idempotent on replay
//   - Insert / Remove: document operations
package oplog
