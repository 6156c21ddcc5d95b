package dstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db/engines/boltdb"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/repl/memrepl"
	"github.com/ValentinKolb/dDoc/lib/role"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/stretchr/testify/require"
)

// replicaSet is a memrepl cluster with a role manager and a store per member.
type replicaSet struct {
	t        *testing.T
	cluster  *memrepl.Cluster
	managers map[uint64]*role.Manager
	stores   map[uint64]store.IStore
}

func newReplicaSet(t *testing.T, n int) *replicaSet {
	rs := &replicaSet{
		t:        t,
		cluster:  memrepl.NewCluster(t, n),
		managers: map[uint64]*role.Manager{},
		stores:   map[uint64]store.IStore{},
	}
	for _, id := range rs.cluster.Members() {
		rs.attach(id)
	}
	t.Cleanup(func() {
		for _, m := range rs.managers {
			m.Close()
		}
	})
	return rs
}

func (rs *replicaSet) attach(id uint64) {
	r := rs.cluster.Replica(id)
	m := role.New(r, role.Config{CatchUpTimeout: 2 * time.Second, StepDownWait: 2 * time.Second, Interval: 10 * time.Millisecond})
	rs.managers[id] = m
	rs.stores[id] = NewDistributedStore(r, m, time.Second)
}

func (rs *replicaSet) restart(id uint64) {
	rs.t.Helper()
	rs.managers[id].Close()
	require.NoError(rs.t, rs.cluster.Restart(id))
	rs.attach(id)
}

// primary waits for a writable primary other than exclude.
func (rs *replicaSet) primary(exclude uint64) uint64 {
	rs.t.Helper()
	var primary uint64
	err := repl.WaitForTimeout(10*time.Second, 5*time.Millisecond, func() (bool, error) {
		for id, m := range rs.managers {
			if s := m.Status(); id != exclude && s.Role == repl.RolePrimary && s.Writable {
				primary = id
				return true, nil
			}
		}
		return false, nil
	})
	require.NoError(rs.t, err, "no writable primary")
	return primary
}

func (rs *replicaSet) secondary(primary uint64) uint64 {
	for _, id := range rs.cluster.Members() {
		if id != primary {
			return id
		}
	}
	rs.t.Fatal("no secondary")
	return 0
}

func count(t *testing.T, s store.IStore, p catalog.Pattern) int {
	t.Helper()
	nss, err := s.ListNamespaces(p)
	require.NoError(t, err)
	return len(nss)
}

var (
	tempCollections = catalog.Pattern{NamePrefix: "temp"}.WithKind(catalog.KindCollection)
	tempIndexes     = catalog.Pattern{OwnerPrefix: "temp"}.WithKind(catalog.KindIndex)
	keepCollections = catalog.Pattern{NamePrefix: "keep"}.WithKind(catalog.KindCollection)
)

// expectCounts waits until a member shows the expected namespaces.
func expectCounts(t *testing.T, s store.IStore, tempColls, tempIdx, keep int) {
	t.Helper()
	err := repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		return count(t, s, tempCollections) == tempColls && count(t, s, tempIndexes) == tempIdx && count(t, s, keepCollections) == keep, nil
	})
	require.NoError(t, err, "temp collections=%d temp indexes=%d keep=%d, want %d %d %d",
		count(t, s, tempCollections), count(t, s, tempIndexes), count(t, s, keepCollections), tempColls, tempIdx, keep)
}

func TestTemporaryNamespacesDroppedOnPromotion(t *testing.T) {
	rs := newReplicaSet(t, 2)
	p := rs.primary(0)
	s := rs.stores[p]

	require.NoError(t, s.CreateNamespace("temp1", map[string]any{"temp": true}))
	require.NoError(t, s.EnsureIndex("temp1", catalog.KeySpec{{Field: "x", Direction: 1}}))
	require.NoError(t, s.CreateNamespace("temp2", map[string]any{"temp": 1}))
	require.NoError(t, s.EnsureIndex("temp2", catalog.KeySpec{{Field: "x", Direction: 1}}))
	require.NoError(t, s.CreateNamespace("keep1", map[string]any{"temp": false}))
	require.NoError(t, s.CreateNamespace("keep2", map[string]any{"temp": 0}))
	require.NoError(t, s.CreateNamespace("keep3", nil))
	_, err := s.Insert("keep4", map[string]any{})
	require.NoError(t, err)

	err = s.CreateNamespace("keep1", nil)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// 2 identity indexes and 2 indexes on x
	sec := rs.secondary(p)
	expectCounts(t, s, 2, 4, 4)
	expectCounts(t, rs.stores[sec], 2, 4, 4)

	// restarting the secondary does not drop anything
	rs.restart(sec)
	expectCounts(t, rs.stores[sec], 2, 4, 4)
	err = repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		return rs.managers[sec].Status().Role == repl.RoleSecondary, nil
	})
	require.NoError(t, err)

	// writes on a secondary fail
	err = rs.stores[sec].CreateNamespace("other", nil)
	require.ErrorIs(t, err, store.ErrNotPrimary)

	require.NoError(t, s.StepDown(50, true))
	require.Equal(t, sec, rs.primary(p))

	expectCounts(t, rs.stores[sec], 0, 0, 4)
	expectCounts(t, s, 0, 0, 4)

	status, err := s.GetRoleStatus()
	require.NoError(t, err)
	require.NotEqual(t, repl.RolePrimary, status.Role)
}

func TestStepDownOnSecondary(t *testing.T) {
	rs := newReplicaSet(t, 3)
	p := rs.primary(0)
	sec := rs.secondary(p)

	err := repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
		return rs.managers[sec].Status().Role == repl.RoleSecondary, nil
	})
	require.NoError(t, err)

	err = rs.stores[sec].StepDown(10, false)
	require.ErrorIs(t, err, store.ErrNotPrimary)
	require.Equal(t, store.RetCNotPrimary, store.CodeOf(err))

	status, err := rs.stores[sec].GetRoleStatus()
	require.NoError(t, err)
	require.Equal(t, p, status.KnownPrimary)
}

func TestNoMajority(t *testing.T) {
	rs := newReplicaSet(t, 3)
	p := rs.primary(0)
	for _, id := range rs.cluster.Members() {
		if id != p {
			rs.managers[id].Close()
			require.NoError(t, rs.cluster.Stop(id))
		}
	}

	err := rs.stores[p].CreateNamespace("coll", nil)
	if !errors.Is(err, store.ErrNoMajority) && !errors.Is(err, store.ErrNotPrimary) {
		t.Fatalf("write without majority = %v, want NoMajority or NotPrimary", err)
	}

	// reads are still served
	_, err = rs.stores[p].ListNamespaces(catalog.Collections())
	require.NoError(t, err)
}

func TestDocumentsAndCoveredQuery(t *testing.T) {
	rs := newReplicaSet(t, 3)
	s := rs.stores[rs.primary(0)]

	for i := 0; i < 10; i++ {
		_, err := s.Insert("c", map[string]any{"_id": i})
		require.NoError(t, err)
	}
	for _, id := range []any{"1", map[string]any{"bar": 1}, nil} {
		_, err := s.Insert("c", map[string]any{"_id": id})
		require.NoError(t, err)
	}
	_, err := s.Insert("c", map[string]any{"_id": 3})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	generated, err := s.Insert("d", map[string]any{"x": 1})
	require.NoError(t, err)
	require.IsType(t, "", generated)

	// every member answers the covered query from its own index
	for _, member := range rs.stores {
		err := repl.WaitForTimeout(5*time.Second, 5*time.Millisecond, func() (bool, error) {
			docs, explain, err := member.Find(query.Query{
				Collection: "c",
				Projection: map[string]any{"_id": 1},
				Sort:       catalog.KeySpec{{Field: "_id", Direction: -1}},
				Hint:       "_id_",
			})
			if err != nil {
				return false, err
			}
			return len(docs) == 13 && explain.IndexOnly && explain.DocumentsFetched == 0, nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Remove("c", 3))
	docs, _, err := s.Find(query.Query{Collection: "c", Filter: map[string]any{"_id": 3}})
	require.NoError(t, err)
	require.Empty(t, docs)

	_, _, err = s.Find(query.Query{Collection: "c", Hint: "missing_1"})
	require.ErrorIs(t, err, store.ErrInvalidOperation)
}

func TestIdempotentReplay(t *testing.T) {
	rs := newReplicaSet(t, 3)
	p := rs.primary(0)
	s := rs.stores[p]

	require.NoError(t, s.CreateNamespace("temp1", map[string]any{"temporary": true}))
	require.NoError(t, s.EnsureIndex("a", catalog.KeySpec{{Field: "x", Direction: -1}}))
	for i := 0; i < 20; i++ {
		_, err := s.Insert("a", map[string]any{"_id": i, "x": i % 4})
		require.NoError(t, err)
	}
	require.NoError(t, s.Remove("a", 7))
	require.NoError(t, s.Drop("temp1"))

	leader := rs.cluster.Replica(p)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, leader.CatchUp(ctx))

	entries, err := leader.Engine().LogEntries(1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	fresh, err := boltdb.Open(t.TempDir()+"/replay.db", &boltdb.Options{NoSync: true})
	require.NoError(t, err)
	defer fresh.Close()

	// replaying from a stale checkpoint skips what was already applied
	half := len(entries) / 2
	for _, batch := range [][]int{{0, half}, {0, len(entries)}} {
		for _, e := range entries[batch[0]:batch[1]] {
			_, err := fresh.Apply(e)
			require.NoError(t, err)
		}
	}

	var live, replayed bytes.Buffer
	require.NoError(t, leader.Engine().Save(&live))
	require.NoError(t, fresh.Save(&replayed))
	require.Equal(t, live.Bytes(), replayed.Bytes())
	require.NoError(t, fresh.Verify())
}
