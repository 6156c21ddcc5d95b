package role

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/repl/memrepl"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{CatchUpTimeout: 2 * time.Second, StepDownWait: 2 * time.Second, SweepTimeout: 2 * time.Second, Interval: 10 * time.Millisecond}

// gatedReplicator lets tests hold or fail the proposals of the promotion sweep.
type gatedReplicator struct {
	repl.Replicator
	gate  chan struct{}
	fails atomic.Int32
}

func (g *gatedReplicator) Propose(ctx context.Context, term uint64, op oplog.Op) (oplog.Result, error) {
	if op.Sweep {
		if g.fails.Add(-1) >= 0 {
			return oplog.Result{}, errors.New("injected failure")
		}
		if g.gate != nil {
			select {
			case <-g.gate:
			case <-ctx.Done():
				return oplog.Result{}, ctx.Err()
			}
		}
	}
	return g.Replicator.Propose(ctx, term, op)
}

func leader(t *testing.T, c *memrepl.Cluster) *memrepl.Replica {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l, err := c.WaitLeader(ctx)
	require.NoError(t, err)
	return l
}

func propose(t *testing.T, r repl.Replicator, op oplog.Op) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Propose(ctx, 0, op)
	require.NoError(t, err)
	require.Equal(t, oplog.ResultOK, res.Code, res.Msg)
}

func waitStatus(t *testing.T, m *Manager, cond func(repl.RoleStatus) bool) repl.RoleStatus {
	t.Helper()
	var s repl.RoleStatus
	err := repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		s = m.Status()
		return cond(s), nil
	})
	require.NoError(t, err, "last status: %s", s)
	return s
}

func writable(s repl.RoleStatus) bool { return s.Role == repl.RolePrimary && s.Writable }

func temporaries(t *testing.T, r repl.Replicator) int {
	t.Helper()
	nss, err := r.Engine().ListNamespaces(catalog.Pattern{}.WithTemporary(true))
	require.NoError(t, err)
	return len(nss)
}

func TestPromotionSweep(t *testing.T) {
	c := memrepl.NewCluster(t, 1)
	r := leader(t, c)
	propose(t, r, oplog.Create(1, "temp1", true))
	propose(t, r, oplog.EnsureIndex(1, "temp1", catalog.KeySpec{{Field: "x", Direction: 1}}))
	propose(t, r, oplog.Create(1, "keep1", false))
	require.Equal(t, 3, temporaries(t, r))

	m := New(r, testConfig)
	defer m.Close()

	s := waitStatus(t, m, writable)
	require.Equal(t, r.LeaderInfo().Term, s.Term)
	require.Equal(t, 0, temporaries(t, r))

	_, ok, err := r.Engine().GetNamespace("keep1")
	require.NoError(t, err)
	require.True(t, ok)

	term, err := m.WritableTerm()
	require.NoError(t, err)
	require.Equal(t, s.Term, term)
}

func TestFencedDuringSweep(t *testing.T) {
	c := memrepl.NewCluster(t, 1)
	r := leader(t, c)
	propose(t, r, oplog.Create(1, "temp1", true))

	g := &gatedReplicator{Replicator: r, gate: make(chan struct{})}
	m := New(g, testConfig)
	defer m.Close()

	s := waitStatus(t, m, func(s repl.RoleStatus) bool { return s.Role == repl.RolePrimary })
	require.False(t, s.Writable)
	_, err := m.WritableTerm()
	require.ErrorIs(t, err, repl.ErrNotLeader)

	close(g.gate)
	waitStatus(t, m, writable)
	require.Equal(t, 0, temporaries(t, r))
}

func TestSweepRetriedOnNextPromotion(t *testing.T) {
	c := memrepl.NewCluster(t, 1)
	r := leader(t, c)
	propose(t, r, oplog.Create(1, "temp1", true))
	firstTerm := r.LeaderInfo().Term

	g := &gatedReplicator{Replicator: r}
	g.fails.Store(1)
	m := New(g, testConfig)
	defer m.Close()

	s := waitStatus(t, m, writable)
	require.Greater(t, s.Term, firstTerm, "the sweep must succeed in a later term")
	require.Equal(t, 0, temporaries(t, r))
}

func TestStepDown(t *testing.T) {
	c := memrepl.NewCluster(t, 3)
	managers := map[uint64]*Manager{}
	for _, id := range c.Members() {
		m := New(c.Replica(id), testConfig)
		defer m.Close()
		managers[id] = m
	}

	l := leader(t, c)
	primary := managers[l.ReplicaID()]
	s := waitStatus(t, primary, writable)

	for id, m := range managers {
		if id == l.ReplicaID() {
			continue
		}
		waitStatus(t, m, func(s repl.RoleStatus) bool { return s.Role == repl.RoleSecondary })
		err := m.StepDown(context.Background(), time.Second, false)
		require.ErrorIs(t, err, repl.ErrNotLeader, "step down on a secondary")
	}

	require.NoError(t, primary.StepDown(context.Background(), 2*time.Second, false))
	require.Equal(t, repl.RoleSecondary, primary.Status().Role)

	// another member takes over in a later term
	err := repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		for id, m := range managers {
			if st := m.Status(); id != l.ReplicaID() && writable(st) && st.Term > s.Term {
				return true, nil
			}
		}
		return false, nil
	})
	require.NoError(t, err)
	require.NotEqual(t, repl.RolePrimary, primary.Status().Role)
}
