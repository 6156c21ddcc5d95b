package memrepl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/stretchr/testify/require"
)

func ctxTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func waitLeader(t *testing.T, c *Cluster) *Replica {
	t.Helper()
	leader, err := c.WaitLeader(ctxTimeout(t, 5*time.Second))
	require.NoError(t, err, "no leader elected")
	return leader
}

func TestElectsSingleLeader(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)

	// all members eventually agree on the leader of the term
	err := repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		want := leader.LeaderInfo()
		for _, id := range c.Members() {
			if c.Replica(id).LeaderInfo() != want {
				return false, nil
			}
		}
		return true, nil
	})
	require.NoError(t, err)
}

func TestProposeReplicates(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)
	ctx := ctxTimeout(t, 5*time.Second)

	res, err := leader.Propose(ctx, 0, oplog.Create(leader.ReplicaID(), "coll", false))
	require.NoError(t, err)
	require.Equal(t, oplog.ResultOK, res.Code)

	res, err = leader.Propose(ctx, 0, oplog.Create(leader.ReplicaID(), "coll", false))
	require.NoError(t, err)
	require.Equal(t, oplog.ResultAlreadyExists, res.Code)

	for _, id := range c.Members() {
		r := c.Replica(id)
		require.NoError(t, repl.WaitFor(ctx, 5*time.Millisecond, func() (bool, error) {
			_, ok, err := r.Engine().GetNamespace("coll")
			return ok, err
		}), "replica %d never applied the create", id)
	}
}

func TestProposeOnFollower(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)
	ctx := ctxTimeout(t, 5*time.Second)

	for _, id := range c.Members() {
		if id == leader.ReplicaID() {
			continue
		}
		_, err := c.Replica(id).Propose(ctx, 0, oplog.Create(id, "coll", false))
		require.ErrorIs(t, err, repl.ErrNotLeader)
	}

	// a proposal for another term is rejected by the leader too
	_, err := leader.Propose(ctx, leader.LeaderInfo().Term+1, oplog.Noop(leader.ReplicaID()))
	require.ErrorIs(t, err, repl.ErrNotLeader)
}

func TestNoQuorum(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)

	for _, id := range c.Members() {
		if id != leader.ReplicaID() {
			require.NoError(t, c.Stop(id))
		}
	}

	ctx := ctxTimeout(t, 300*time.Millisecond)
	_, err := leader.Propose(ctx, 0, oplog.Create(leader.ReplicaID(), "coll", false))
	if !errors.Is(err, repl.ErrNoQuorum) && !errors.Is(err, repl.ErrNotLeader) {
		t.Fatalf("Propose without majority = %v, want ErrNoQuorum or ErrNotLeader", err)
	}
}

func TestTermsIncrease(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)
	term := leader.LeaderInfo().Term

	c.Net.Isolate(leader.ReplicaID())
	defer c.Net.Heal(leader.ReplicaID())

	var next *Replica
	require.NoError(t, repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		for _, id := range c.Members() {
			r := c.Replica(id)
			if id != leader.ReplicaID() && r.LeaderInfo().IsLeader(id) {
				next = r
				return true, nil
			}
		}
		return false, nil
	}))
	require.Greater(t, next.LeaderInfo().Term, term)

	// the old leader learns about the newer term after healing
	c.Net.Heal(leader.ReplicaID())
	require.NoError(t, repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		return !leader.LeaderInfo().IsLeader(leader.ReplicaID()) && leader.LeaderInfo().Term >= next.LeaderInfo().Term, nil
	}))
}

func TestRestartKeepsLog(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)
	ctx := ctxTimeout(t, 10*time.Second)

	var follower uint64
	for _, id := range c.Members() {
		if id != leader.ReplicaID() {
			follower = id
			break
		}
	}
	require.NoError(t, c.Stop(follower))

	for _, name := range []string{"a", "b", "c"} {
		res, err := leader.Propose(ctx, 0, oplog.Create(leader.ReplicaID(), name, false))
		require.NoError(t, err)
		require.Equal(t, oplog.ResultOK, res.Code)
	}

	require.NoError(t, c.Restart(follower))
	r := c.Replica(follower)
	require.NoError(t, repl.WaitFor(ctx, 5*time.Millisecond, func() (bool, error) {
		n, err := r.Engine().ListNamespaces(catalog.Collections())
		return len(n) == 3, err
	}))
	require.NoError(t, r.CatchUp(ctx))

	last, err := r.Engine().LastLog()
	require.NoError(t, err)
	leaderLast, err := leader.Engine().LastLog()
	require.NoError(t, err)
	require.LessOrEqual(t, r.Engine().Applied().Seq, last.Seq)
	require.Equal(t, leaderLast.Seq, last.Seq)
}

func TestTransferLeadership(t *testing.T) {
	c := NewCluster(t, 3)
	leader := waitLeader(t, c)
	ctx := ctxTimeout(t, 5*time.Second)

	var target uint64
	for _, id := range c.Members() {
		if id != leader.ReplicaID() {
			target = id
			break
		}
	}
	require.ErrorIs(t, c.Replica(target).TransferLeadership(ctx, 0, 0), repl.ErrNotLeader)

	require.NoError(t, leader.TransferLeadership(ctx, target, time.Second))
	require.False(t, leader.LeaderInfo().IsLeader(leader.ReplicaID()))

	require.NoError(t, repl.WaitFor(ctx, 5*time.Millisecond, func() (bool, error) {
		l := c.Leader()
		return l != nil && l.ReplicaID() != leader.ReplicaID(), nil
	}))
}

func TestSubscribe(t *testing.T) {
	c := NewCluster(t, 1)
	r := c.Replica(1)

	infos := make(chan repl.LeaderInfo, 16)
	unsubscribe := r.Subscribe(func(li repl.LeaderInfo) {
		select {
		case infos <- li:
		default:
		}
	})
	defer unsubscribe()
	if r.LeaderInfo().IsLeader(1) {
		return
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case li := <-infos:
			if li.IsLeader(1) {
				return
			}
		case <-timeout:
			t.Fatal("never notified about own leadership")
		}
	}
}
