// Package raftrepl replicates the operation log with Dragonboat.
//
// Every shard runs an on-disk state machine over a db.Engine. The raft index
// of an entry becomes its sequence number, and the engine persists the applied
// watermark with each mutation, so a restarted replica resumes from its engine
// and skips entries it already applied. Snapshots stream the engine dump.
//
// Leadership is reported by the NodeHost's raft event listener. A Host owns
// the NodeHost and dispatches the events to the Replica of each shard.
//
// Usage Example:
//
//	host, err := raftrepl.NewHost(serverConfig.ToNodeHostConfig())
//	if err != nil { ... }
//	engine, err := boltdb.Open(path, nil)
//	if err != nil { ... }
//	r, err := host.StartReplica(members, false, serverConfig.ToDragonboatConfig(shardID), engine)
package raftrepl
