// Package lstore implements a standalone, single-node document store based on
// the store.IStore interface. It applies operations directly to a db.Engine
// without replication.
//
// Operations are numbered by a local sequence counter that continues at the
// applied watermark of the engine, so a store reopened on the same file keeps
// numbering where it stopped. Every open starts a new term and behaves like the
// promotion of a replica set member: temporary namespaces left behind by the
// previous run are dropped before the store is returned.
//
// A standalone store is always a writable primary. StepDown is not supported.
//
// Usage Example:
//
//	engine, err := boltdb.Open("/var/lib/ddoc/standalone.db", nil)
//	if err != nil { ... }
//	s, err := lstore.NewLocalStore(engine)
//	if err != nil { ... }
//	id, err := s.Insert("users", map[string]any{"name": "ada"})
//
// For replica sets use the dstore package, which offers the same interface on
// top of a repl.Replicator.
package lstore
