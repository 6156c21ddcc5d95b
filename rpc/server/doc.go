// Package server implements the RPC server of dDoc. It routes requests to the
// shards of the member and translates them into store.IStore calls.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a store.IStore.
//
//   - NewIStoreServerAdapter: Adapter translating RPC messages to store.IStore
//     method calls. Store errors travel back with their return code.
//
//   - NewRPCServer: Creates a server with the given transport and serializer.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLStore},
//	    {ShardID: 200, Type: common.ShardTypeDStore},
//	  },
//	  Endpoint:       "0.0.0.0:8080",
//	  DataDir:        "/var/lib/ddoc",
//	  ReplicaID:      1,
//	  ClusterMembers: map[uint64]string{1: "node1:63001", 2: "node2:63001", 3: "node3:63001"},
//	  TimeoutSecond:  5,
//	  LogLevel:       "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewMsgpackSerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports two shard types, which can be mixed within a single server:
//
//   - ShardTypeLStore: A standalone store that is always primary, suitable for
//     single-node deployments or development environments.
//
//   - ShardTypeDStore: A replica set member replicated with Dragonboat. The RAFT
//     configuration (RTTMillisecond, SnapshotEntries, CompactionOverhead, DataDir,
//     ReplicaID and ClusterMembers) must be set. All dstore shards of a member
//     share one NodeHost.
//
// Every shard keeps its data in <DataDir>/ddoc-<shard>-<replica>.db.
//
// Thread Safety:
//
//	The server handles concurrent requests. Serve and Close must not be called
//	concurrently.
package server
