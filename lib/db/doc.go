// Package db defines the storage engine interface of dDoc.
//
// An Engine holds everything a replica persists:
//   - the namespace catalog (collections and indexes, see lib/catalog)
//   - the documents of every collection, keyed by their encoded identity
//   - the entries of every index, keyed by the encoded key tuple plus identity
//   - the applied log watermark
//   - the replication log and hard state (LogStore), used by replicators that
//     keep their own log
//
// Key Concepts:
//
//   - Log-then-apply: the engine never mutates on its own. All state changes come
//     through Apply with a committed oplog.Entry, and the watermark is written in
//     the same transaction as the mutation. Entries at or below the watermark are
//     skipped, which makes replay after restart idempotent.
//
//   - Ordered keys: document and index keys use the order-preserving encoding of
//     lib/value, so a Range over encoded keys is a range over values.
//
//   - Index invariant: at every quiescent point an index holds exactly one entry
//     per document of its collection. Verify checks this.
//
// Related Packages:
//
// The engines/boltdb package (github.com/ValentinKolb/dDoc/lib/db/engines/boltdb)
// implements the Engine on top of bbolt.
//
// The testing package (github.com/ValentinKolb/dDoc/lib/db/testing) provides a
// conformance suite for Engine implementations.
package db
