package raftrepl

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// barrier is the query of a linearizable read. Lookup answers it with the
// applied position.
type barrier struct{}

// stateMachine is the on-disk state machine of a shard. The engine persists
// the applied watermark with every mutation, so Open resumes from it.
type stateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    db.Engine
	failed    *atomic.Pointer[error]
}

// Open returns the raft index of the last applied entry.
func (fsm *stateMachine) Open(_ <-chan struct{}) (uint64, error) {
	applied := fsm.engine.Applied()
	log.Infof("shard %d replica %d opened at %v", fsm.shardID, fsm.replicaID, applied)
	return applied.Seq, nil
}

// Update applies committed entries in log order. The raft index becomes the
// sequence number of the entry.
func (fsm *stateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	start := time.Now()

	for idx, e := range entries {
		if fsm.failed.Load() != nil {
			res := oplog.Resultf(oplog.ResultInvalid, "replica %d stopped applying the log", fsm.replicaID)
			entries[idx].Result = sm.Result{Value: uint64(res.Code), Data: res.Serialize()}
			continue
		}

		var entry oplog.Entry
		if err := entry.Deserialize(e.Cmd); err != nil {
			res := oplog.Resultf(oplog.ResultInvalid, "%v", err)
			entries[idx].Result = sm.Result{Value: uint64(res.Code), Data: res.Serialize()}
			continue
		}
		entry.Seq = e.Index

		res, err := fsm.engine.Apply(entry)
		if err != nil {
			err = fmt.Errorf("shard %d: %w", fsm.shardID, err)
			fsm.failed.Store(&err)
			log.Errorf("replica %d failed to apply %v: %v", fsm.replicaID, entry.Position(), err)
			res = oplog.Resultf(oplog.ResultInvalid, "%v", err)
		}
		entries[idx].Result = sm.Result{Value: uint64(res.Code), Data: res.Serialize()}
	}

	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		log.Infof("state machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// Lookup answers read barriers with the applied position.
func (fsm *stateMachine) Lookup(q interface{}) (interface{}, error) {
	if _, ok := q.(barrier); !ok {
		return nil, fmt.Errorf("invalid query type: %T", q)
	}
	return fsm.engine.Applied(), nil
}

func (fsm *stateMachine) Sync() error {
	return fsm.engine.Sync()
}

// PrepareSnapshot is not used. Save reads a consistent view of the engine that
// may be newer than the snapshot index. Entries replayed on top of it are at or
// below the watermark and are skipped.
func (fsm *stateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

func (fsm *stateMachine) SaveSnapshot(_ interface{}, w io.Writer, _ <-chan struct{}) error {
	return fsm.engine.Save(w)
}

func (fsm *stateMachine) RecoverFromSnapshot(r io.Reader, _ <-chan struct{}) error {
	if err := fsm.engine.Load(r); err != nil {
		return err
	}
	log.Infof("replica %d recovered from snapshot at %v", fsm.replicaID, fsm.engine.Applied())
	return nil
}

// Close is a no-op, the engine is closed by the replica.
func (fsm *stateMachine) Close() error {
	return nil
}
