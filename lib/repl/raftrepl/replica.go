package raftrepl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/lni/dragonboat/v4"
	"github.com/puzpuzpuz/xsync/v3"
)

// Replica is the repl.Replicator of one shard on a Host.
type Replica struct {
	host      *Host
	shardID   uint64
	replicaID uint64
	engine    db.Engine
	failed    *atomic.Pointer[error]

	mu     sync.Mutex
	leader repl.LeaderInfo

	subscribers *xsync.MapOf[uint64, func(repl.LeaderInfo)]
	subSeq      atomic.Uint64
	closeOnce   sync.Once
}

var _ repl.Replicator = (*Replica)(nil)

func (r *Replica) ReplicaID() uint64 { return r.replicaID }

// ShardID returns the id of the shard the replica belongs to.
func (r *Replica) ShardID() uint64 { return r.shardID }

func (r *Replica) Engine() db.Engine { return r.engine }

func (r *Replica) Err() error {
	if p := r.failed.Load(); p != nil {
		return *p
	}
	return nil
}

// LeaderInfo returns the leadership of the last leader event. Before the
// first event the NodeHost is asked directly.
func (r *Replica) LeaderInfo() repl.LeaderInfo {
	r.mu.Lock()
	li := r.leader
	r.mu.Unlock()
	if li.Term != 0 {
		return li
	}
	leaderID, term, valid, err := r.host.nh.GetLeaderID(r.shardID)
	if err != nil || !valid {
		return li
	}
	return repl.LeaderInfo{LeaderID: leaderID, Term: term}
}

func (r *Replica) leaderUpdated(li repl.LeaderInfo) {
	r.mu.Lock()
	if li.Term < r.leader.Term {
		r.mu.Unlock()
		return
	}
	r.leader = li
	r.mu.Unlock()
	log.Infof("shard %d: leader is %d in term %d (local replica %d)", r.shardID, li.LeaderID, li.Term, r.replicaID)
	r.subscribers.Range(func(_ uint64, fn func(repl.LeaderInfo)) bool {
		fn(li)
		return true
	})
}

func (r *Replica) Subscribe(fn func(repl.LeaderInfo)) func() {
	id := r.subSeq.Add(1)
	r.subscribers.Store(id, fn)
	return func() { r.subscribers.Delete(id) }
}

// Propose proposes op through raft and returns the result of applying it
// locally. The term check happens before proposing, a leadership change
// between the check and the commit is not detected.
func (r *Replica) Propose(ctx context.Context, term uint64, op oplog.Op) (oplog.Result, error) {
	if err := r.Err(); err != nil {
		return oplog.Result{}, err
	}
	li := r.LeaderInfo()
	if term != 0 && (!li.IsLeader(r.replicaID) || li.Term != term) {
		return oplog.Result{}, fmt.Errorf("%w: leader %d in term %d", repl.ErrNotLeader, li.LeaderID, li.Term)
	}

	entry := oplog.Entry{Term: li.Term, Op: op}
	cmd, err := entry.Serialize()
	if err != nil {
		return oplog.Result{}, err
	}
	result, err := r.host.nh.SyncPropose(ctx, r.host.nh.GetNoOPSession(r.shardID), cmd)
	if err != nil {
		return oplog.Result{}, convertError(err)
	}
	var res oplog.Result
	if err := res.Deserialize(result.Data); err != nil {
		return oplog.Result{}, err
	}
	return res, nil
}

// CatchUp issues a linearizable read, which returns once the local state
// machine applied everything committed before the read.
func (r *Replica) CatchUp(ctx context.Context) error {
	if err := r.Err(); err != nil {
		return err
	}
	for {
		_, err := r.host.nh.SyncRead(ctx, r.shardID, barrier{})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: replica %d applied %v: %v", repl.ErrCatchUpTimeout, r.replicaID, r.engine.Applied(), err)
		}
		if !errors.Is(err, dragonboat.ErrShardNotReady) && !errors.Is(err, dragonboat.ErrSystemBusy) {
			return convertError(err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TransferLeadership asks Dragonboat to hand leadership to target, or to the
// member with the lowest id if target is zero, and waits until the local
// replica is no longer leader. Dragonboat cannot prevent the replica from
// being elected again, the role manager transfers leadership away while the
// hold-off lasts.
func (r *Replica) TransferLeadership(ctx context.Context, target uint64, _ time.Duration) error {
	if !r.LeaderInfo().IsLeader(r.replicaID) {
		return repl.ErrNotLeader
	}
	if target == 0 {
		followers, err := r.Followers(ctx)
		if err != nil {
			return err
		}
		if len(followers) == 0 {
			return fmt.Errorf("%w: no member to transfer leadership to", repl.ErrNoQuorum)
		}
		target = followers[0].ReplicaID
	}
	if err := r.host.nh.RequestLeaderTransfer(r.shardID, target); err != nil {
		return convertError(err)
	}
	log.Infof("shard %d: replica %d transfers leadership to %d", r.shardID, r.replicaID, target)
	return repl.WaitFor(ctx, 10*time.Millisecond, func() (bool, error) {
		return !r.LeaderInfo().IsLeader(r.replicaID), nil
	})
}

// Followers returns the other voting members of the shard. Dragonboat does
// not expose their progress, they are reported as caught up since a leader
// transfer waits for the target to catch up.
func (r *Replica) Followers(ctx context.Context) ([]repl.FollowerInfo, error) {
	if !r.LeaderInfo().IsLeader(r.replicaID) {
		return nil, repl.ErrNotLeader
	}
	m, err := r.host.nh.SyncGetShardMembership(ctx, r.shardID)
	if err != nil {
		return nil, convertError(err)
	}
	out := make([]repl.FollowerInfo, 0, len(m.Nodes))
	for id := range m.Nodes {
		if id != r.replicaID {
			out = append(out, repl.FollowerInfo{ReplicaID: id, CaughtUp: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReplicaID < out[j].ReplicaID })
	return out, nil
}

// Close stops the shard and closes the engine.
func (r *Replica) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if serr := r.host.nh.StopShard(r.shardID); serr != nil && !errors.Is(serr, dragonboat.ErrShardNotFound) {
			log.Warningf("failed to stop shard %d: %v", r.shardID, serr)
		}
		r.host.replicas.Delete(r.shardID)
		err = r.engine.Close()
	})
	return err
}

// convertError maps Dragonboat errors onto the errors of the repl package.
func convertError(err error) error {
	switch {
	case errors.Is(err, dragonboat.ErrSystemBusy):
		return fmt.Errorf("%w: %v", repl.ErrBusy, err)
	case errors.Is(err, dragonboat.ErrShardNotReady):
		return fmt.Errorf("%w: %v", repl.ErrNotLeader, err)
	case errors.Is(err, dragonboat.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", repl.ErrNoQuorum, err)
	case errors.Is(err, dragonboat.ErrClosed), errors.Is(err, dragonboat.ErrShardClosed):
		return fmt.Errorf("%w: %v", repl.ErrClosed, err)
	default:
		return err
	}
}
