// Package testing provides standardised tests and benchmarks for
// storage engines that satisfy the db.Engine interface.
//
// The package contains:
//   - RunEngineTests: a conformance suite for catalog semantics (create, ensureIndex,
//     drop idempotence), the index invariant, watermark handling, reopen
//     persistence, snapshots and the log store
//   - RunEngineBenchmarks: throughput of inserts, index scans and snapshots
//
// Example usage:
//
//	factory := boltdb.NewFactory(&boltdb.Options{NoSync: true})
//
//	// Running the standard test suite
//	dbtesting.RunEngineTests(t, "BoltDB", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunEngineBenchmarks(b, "BoltDB", factory)
package testing
