package serve

import (
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dDoc server",
		Long:    `Start the dDoc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_LOG_LEVEL=debug)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "shards"
	ServeCmd.PersistentFlags().String(key, "100=lstore", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: lstore (standalone, always primary), dstore (replica set member)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two members. The election and heartbeat timeouts are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(dstore) SnapshotEntries defines after how many applied log entries the state machine is snapshotted. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("(dstore) CompactionOverhead defines how many log entries are kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory holding the database files and the raft log"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(dstore) ReplicaID is the unique name of this member (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(dstore) ClusterMembers is a comma-separated list of the raft addresses of all members in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(dstore) Timeout in seconds for a replicated write"))

	key = "catch-up-timeout"
	ServeCmd.PersistentFlags().Int64(key, 10, cmdUtil.WrapString("(dstore) Timeout in seconds for catching up with the log before becoming secondary or writable primary"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.CatchUpTimeoutSecond = viper.GetInt64("catch-up-timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	if _, err := common.ParseLogLevel(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = cmdUtil.ReplicaID(id)
	} else if serveCmdConfig.HasReplicatedShard() {
		return fmt.Errorf("replica-id is required for dstore shards")
	} else {
		serveCmdConfig.ReplicaID = 1
	}

	if members := viper.GetString("cluster-members"); members != "" {
		serveCmdConfig.ClusterMembers, err = parseMembers(members)
		if err != nil {
			return err
		}
	} else if serveCmdConfig.HasReplicatedShard() {
		return fmt.Errorf("cluster-members is required for dstore shards")
	}

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasReplicatedShard() {
		return fmt.Errorf("no address found for replica %s in cluster members", viper.GetString("replica-id"))
	}

	return nil
}

// parseShards parses "ID=TYPE,..."
func parseShards(s string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	seen := map[uint64]bool{}
	for _, shardConfig := range strings.Split(s, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}
		if seen[shardID] {
			return nil, fmt.Errorf("shard %d is defined twice", shardID)
		}
		seen[shardID] = true

		shardType, err := common.ParseShardType(parts[1])
		if err != nil {
			return nil, err
		}

		shards = append(shards, common.ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// parseMembers parses "name=address,..." into replica ids and raft addresses
func parseMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[cmdUtil.ReplicaID(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

// run starts the dDoc server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
	)

	return serv.Serve()
}
