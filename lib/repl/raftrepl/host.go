package raftrepl

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/lni/dragonboat/v4/raftio"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("repl")

// Host wraps a Dragonboat NodeHost that runs one replica per shard and
// dispatches leadership events to them.
type Host struct {
	nh       *dragonboat.NodeHost
	replicas *xsync.MapOf[uint64, *Replica]
}

// NewHost creates the NodeHost. The raft event listener of nhc is replaced.
func NewHost(nhc config.NodeHostConfig) (*Host, error) {
	h := &Host{replicas: xsync.NewMapOf[uint64, *Replica]()}
	nhc.RaftEventListener = h
	nh, err := dragonboat.NewNodeHost(nhc)
	if err != nil {
		return nil, fmt.Errorf("failed to create node host: %w", err)
	}
	h.nh = nh
	return h, nil
}

// LeaderUpdated implements raftio.IRaftEventListener.
func (h *Host) LeaderUpdated(info raftio.LeaderInfo) {
	r, ok := h.replicas.Load(info.ShardID)
	if !ok {
		return
	}
	r.leaderUpdated(repl.LeaderInfo{LeaderID: info.LeaderID, Term: info.Term})
}

// StartReplica starts the replica of a shard on top of engine. members maps
// replica ids to raft addresses and is ignored when the shard was started
// before on this host.
func (h *Host) StartReplica(members map[uint64]string, join bool, cfg config.Config, engine db.Engine) (*Replica, error) {
	r := &Replica{
		host:        h,
		shardID:     cfg.ShardID,
		replicaID:   cfg.ReplicaID,
		engine:      engine,
		failed:      &atomic.Pointer[error]{},
		subscribers: xsync.NewMapOf[uint64, func(repl.LeaderInfo)](),
	}
	if _, loaded := h.replicas.LoadOrStore(cfg.ShardID, r); loaded {
		return nil, fmt.Errorf("shard %d already started", cfg.ShardID)
	}

	create := func(shardID uint64, replicaID uint64) sm.IOnDiskStateMachine {
		return &stateMachine{shardID: shardID, replicaID: replicaID, engine: engine, failed: r.failed}
	}
	if err := h.nh.StartOnDiskReplica(members, join, create, cfg); err != nil {
		h.replicas.Delete(cfg.ShardID)
		return nil, fmt.Errorf("failed to start shard %d: %w", cfg.ShardID, err)
	}
	log.Infof("started replica %d of shard %d", cfg.ReplicaID, cfg.ShardID)
	return r, nil
}

// Close stops every shard of the host. Engines are closed by their replicas.
func (h *Host) Close() {
	h.nh.Close()
}
