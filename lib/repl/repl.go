package repl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
)

// --------------------------------------------------------------------------
// Roles
// --------------------------------------------------------------------------

// Role is the replica set role of a member.
type Role uint8

const (
	RoleRecovering Role = iota // Catching up with the log, serves no writes.
	RoleSecondary              // Follows the primary.
	RolePrimary                // Leader of the current term.
)

func (r Role) String() string {
	switch r {
	case RoleRecovering:
		return "Recovering"
	case RoleSecondary:
		return "Secondary"
	case RolePrimary:
		return "Primary"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// RoleStatus describes the role of a member as seen by the member itself.
type RoleStatus struct {
	ReplicaID    uint64 `json:"replicaId"`
	Role         Role   `json:"role"`
	Term         uint64 `json:"term"`
	KnownPrimary uint64 `json:"knownPrimary"` // 0 if no primary is known
	Writable     bool   `json:"writable"`     // primary and promotion sweep finished
}

func (s RoleStatus) String() string {
	return fmt.Sprintf("replica %d: %s term=%d primary=%d writable=%v", s.ReplicaID, s.Role, s.Term, s.KnownPrimary, s.Writable)
}

// --------------------------------------------------------------------------
// Replicator
// --------------------------------------------------------------------------

// LeaderInfo is the view of a member on the current leadership.
type LeaderInfo struct {
	LeaderID uint64 // 0 if no leader is known
	Term     uint64
}

// IsLeader reports whether replicaID is the leader.
func (li LeaderInfo) IsLeader(replicaID uint64) bool {
	return li.LeaderID != 0 && li.LeaderID == replicaID
}

// FollowerInfo is the replication progress of a member as seen by the leader.
type FollowerInfo struct {
	ReplicaID uint64
	Match     uint64 // highest log sequence known to be stored on the member
	CaughtUp  bool   // stores every entry of the leader
}

// Replicator delivers log entries from the leader to all members and applies
// them to the local engine strictly in log order.
type Replicator interface {
	// ReplicaID returns the id of the local member.
	ReplicaID() uint64

	// Propose appends op to the log and waits until it is committed and applied
	// locally. If term is not zero the proposal is rejected with ErrNotLeader
	// unless the local member is leader in exactly that term.
	Propose(ctx context.Context, term uint64, op oplog.Op) (res oplog.Result, err error)

	// CatchUp waits until the local engine applied every entry that is known
	// to be committed. Fails with ErrCatchUpTimeout if ctx expires first.
	CatchUp(ctx context.Context) (err error)

	// LeaderInfo returns the current leadership as seen by the local member.
	LeaderInfo() (info LeaderInfo)

	// Subscribe registers fn for leadership changes. fn is called from a
	// replicator goroutine and must not block.
	Subscribe(fn func(LeaderInfo)) (unsubscribe func())

	// TransferLeadership makes the local leader give up leadership, to target if
	// it is not zero. The local member does not campaign for holdOff.
	TransferLeadership(ctx context.Context, target uint64, holdOff time.Duration) (err error)

	// Followers returns the replication progress of the other members.
	// Only the leader knows it, other members return ErrNotLeader.
	Followers(ctx context.Context) (followers []FollowerInfo, err error)

	// Engine returns the local storage engine. Reads go directly to it.
	Engine() (engine db.Engine)

	// Err returns the error that stopped the local member from applying the
	// log, nil while it is healthy.
	Err() (err error)

	// Close stops the replicator and closes the engine.
	Close() (err error)
}

// Errors of the replication layer.
var (
	ErrNotLeader      = errors.New("not the leader")
	ErrNoQuorum       = errors.New("no quorum")
	ErrCatchUpTimeout = errors.New("timed out catching up with the log")
	ErrClosed         = errors.New("replicator closed")
	ErrBusy           = errors.New("replicator busy")
)

// --------------------------------------------------------------------------
// Waiting
// --------------------------------------------------------------------------

// WaitFor polls cond every interval until it returns true, returns an error or
// ctx is done. Callers bound the wait with a context deadline.
func WaitFor(ctx context.Context, interval time.Duration, cond func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("condition not met: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitForTimeout is WaitFor with a deadline relative to now.
func WaitForTimeout(timeout, interval time.Duration, cond func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return WaitFor(ctx, interval, cond)
}

// Retry calls fn until it succeeds, fails with an error that is not transient,
// or ctx is done. ErrNotLeader, ErrNoQuorum and ErrBusy are transient.
func Retry(ctx context.Context, interval time.Duration, fn func() error) error {
	var last error
	err := WaitFor(ctx, interval, func() (bool, error) {
		last = fn()
		if last == nil {
			return true, nil
		}
		if errors.Is(last, ErrNotLeader) || errors.Is(last, ErrNoQuorum) || errors.Is(last, ErrBusy) {
			return false, nil
		}
		return false, last
	})
	if err != nil && last != nil && !errors.Is(err, last) {
		return fmt.Errorf("%w (last error: %v)", err, last)
	}
	return err
}
