package common

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// Shards
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLStore ServerShardType = "lstore" // standalone store, always primary
	ShardTypeDStore ServerShardType = "dstore" // replica set member replicated with raft
)

// ParseShardType parses the TYPE part of a shard definition.
func ParseShardType(s string) (ServerShardType, error) {
	switch t := ServerShardType(strings.ToLower(strings.TrimSpace(s))); t {
	case ShardTypeLStore, ShardTypeDStore:
		return t, nil
	default:
		return "", fmt.Errorf("invalid shard type %q, must be one of %s, %s", s, ShardTypeLStore, ShardTypeDStore)
	}
}

type ServerShard struct {
	ShardID uint64
	Type    ServerShardType
}

// --------------------------------------------------------------------------
// Server configuration
// --------------------------------------------------------------------------

// Dragonboat measures election and heartbeat timeouts in RTTs.
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ServerConfig configures the shards of one member and, for dstore shards,
// the raft replica set they belong to.
type ServerConfig struct {
	Shards []ServerShard

	// raft parameters (dstore shards only)
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// DataDir holds the bbolt files of all shards and the raft log
	DataDir string

	// timeouts of replicated writes and of catching up with the log
	TimeoutSecond        int64
	CatchUpTimeoutSecond int64

	// Endpoint is the listen address of the HTTP API
	Endpoint string

	LogLevel string
}

// HasReplicatedShard checks if the configuration contains any replicated shards
func (c *ServerConfig) HasReplicatedShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeDStore {
			return true
		}
	}
	return false
}

// Validate checks that the configuration can be served.
func (c *ServerConfig) Validate() error {
	var errs []error
	if len(c.Shards) == 0 {
		errs = append(errs, errors.New("no shards configured"))
	}
	seen := map[uint64]bool{}
	for _, s := range c.Shards {
		if seen[s.ShardID] {
			errs = append(errs, fmt.Errorf("shard %d is defined twice", s.ShardID))
		}
		seen[s.ShardID] = true
		if _, err := ParseShardType(string(s.Type)); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.HasReplicatedShard() {
		if c.ReplicaID == 0 {
			errs = append(errs, errors.New("replica id must not be 0"))
		}
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			errs = append(errs, fmt.Errorf("no address for replica %d in cluster members", c.ReplicaID))
		}
		if c.RTTMillisecond == 0 {
			errs = append(errs, errors.New("rtt must be positive"))
		}
	}
	return errors.Join(errs...)
}

// EngineFile returns the path of the bbolt file of a shard on this member.
func (c *ServerConfig) EngineFile(shardID uint64) string {
	return filepath.Join(c.DataDir, fmt.Sprintf("ddoc-%d-%d.db", shardID, c.ReplicaID))
}

// WriteTimeout bounds a replicated write, 5s if unset.
func (c *ServerConfig) WriteTimeout() time.Duration {
	return secondsOr(c.TimeoutSecond, 5*time.Second)
}

// CatchUpTimeout bounds catching up with the log, 10s if unset.
func (c *ServerConfig) CatchUpTimeout() time.Duration {
	return secondsOr(c.CatchUpTimeoutSecond, 10*time.Second)
}

func secondsOr(s int64, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s) * time.Second
}

// ToDragonboatConfig returns the raft configuration of a dstore shard
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig returns the configuration of the NodeHost shared by all
// dstore shards of the member
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var out table
	out.section("RPC Server")
	out.field("Endpoint", c.Endpoint)
	out.field("Log Level", c.LogLevel)
	out.field("Data Directory", c.DataDir)

	out.section("Shards")
	for _, shard := range c.Shards {
		out.field(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if !c.HasReplicatedShard() {
		return out.String()
	}

	out.section("RAFT Parameters")
	out.field("Replica ID", strconv.FormatUint(c.ReplicaID, 10))
	out.field("RAFT Address", c.ClusterMembers[c.ReplicaID])
	out.field("Round Trip Time", fmt.Sprintf("%d ms", c.RTTMillisecond))
	out.field("Election Timeout", fmt.Sprintf("%d ms", c.RTTMillisecond*electionRTTFactor))
	out.field("Heartbeat Interval", fmt.Sprintf("%d ms", c.RTTMillisecond*heartbeatRTTFactor))
	out.field("Snapshot Entries", strconv.FormatUint(c.SnapshotEntries, 10))
	out.field("Compaction Overhead", strconv.FormatUint(c.CompactionOverhead, 10))
	out.field("Write Timeout", c.WriteTimeout().String())
	out.field("Catch Up Timeout", c.CatchUpTimeout().String())

	out.section("Replica Set")
	ids := make([]uint64, 0, len(c.ClusterMembers))
	for id := range c.ClusterMembers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out.field(strconv.FormatUint(id, 10), c.ClusterMembers[id])
	}
	return out.String()
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var out table
	out.section("Client Configuration")
	out.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	out.field("Retry Count", strconv.Itoa(c.RetryCount))
	out.section("Endpoints")
	for i, endpoint := range c.Endpoints {
		out.field(strconv.Itoa(i), endpoint)
	}
	return out.String()
}

// table renders configuration sections for the startup log.
type table struct {
	strings.Builder
}

func (t *table) section(title string) {
	fmt.Fprintf(t, "\n%s\n", strings.ToUpper(title))
}

func (t *table) field(name, value string) {
	fmt.Fprintf(t, "  %-22s: %s\n", name, value)
}
