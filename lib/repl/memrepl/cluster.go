package memrepl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/boltdb"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"golang.org/x/sync/errgroup"
)

// Cluster is a replica set of one process with replica ids 1..n. Every replica
// stores its engine in its own directory so it can be stopped and restarted.
type Cluster struct {
	Net     *Network
	dir     string
	factory db.Factory
	cfg     Config

	mu       sync.Mutex
	replicas map[uint64]*Replica
}

// ClusterConfig configures a Cluster.
type ClusterConfig struct {
	Size              int
	Dir               string
	Factory           db.Factory // defaults to bbolt without fsync
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// NewCluster starts a cluster of n replicas in a temporary directory of t.
// The cluster is closed when the test ends.
func NewCluster(t testing.TB, n int) *Cluster {
	t.Helper()
	c, err := StartCluster(ClusterConfig{
		Size:              n,
		Dir:               t.TempDir(),
		ElectionTimeout:   50 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("failed to close cluster: %v", err)
		}
	})
	return c
}

// StartCluster starts a cluster.
func StartCluster(cc ClusterConfig) (*Cluster, error) {
	if cc.Size <= 0 {
		return nil, fmt.Errorf("cluster size must be positive, got %d", cc.Size)
	}
	if cc.Factory == nil {
		cc.Factory = boltdb.NewFactory(&boltdb.Options{NoSync: true})
	}
	members := make([]uint64, cc.Size)
	for i := range members {
		members[i] = uint64(i + 1)
	}
	c := &Cluster{
		Net:      NewNetwork(),
		dir:      cc.Dir,
		factory:  cc.Factory,
		cfg:      Config{Members: members, ElectionTimeout: cc.ElectionTimeout, HeartbeatInterval: cc.HeartbeatInterval},
		replicas: map[uint64]*Replica{},
	}
	for _, id := range members {
		if err := c.Restart(id); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Members returns the ids of all members.
func (c *Cluster) Members() []uint64 {
	return append([]uint64(nil), c.cfg.Members...)
}

// Replica returns the running replica with the given id, nil if it is stopped.
func (c *Cluster) Replica(id uint64) *Replica {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replicas[id]
}

// Stop stops a replica, its engine stays on disk.
func (c *Cluster) Stop(id uint64) error {
	c.mu.Lock()
	r := c.replicas[id]
	delete(c.replicas, id)
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Close()
}

// Restart (re)starts a replica from its engine on disk.
func (c *Cluster) Restart(id uint64) error {
	if err := c.Stop(id); err != nil {
		return err
	}
	engine, err := c.factory(c.dir, id)
	if err != nil {
		return fmt.Errorf("failed to open engine of replica %d: %w", id, err)
	}
	cfg := c.cfg
	cfg.ReplicaID = id
	r, err := Start(cfg, engine, c.Net)
	if err != nil {
		_ = engine.Close()
		return err
	}
	c.mu.Lock()
	c.replicas[id] = r
	c.mu.Unlock()
	return nil
}

// Leader returns the replica that considers itself leader in the highest term.
func (c *Cluster) Leader() *Replica {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *Replica
	var bestTerm uint64
	for id, r := range c.replicas {
		if info := r.LeaderInfo(); info.IsLeader(id) && info.Term >= bestTerm {
			best, bestTerm = r, info.Term
		}
	}
	return best
}

// WaitLeader waits until a leader is elected and returns it.
func (c *Cluster) WaitLeader(ctx context.Context) (*Replica, error) {
	var leader *Replica
	err := repl.WaitFor(ctx, 5*time.Millisecond, func() (bool, error) {
		leader = c.Leader()
		return leader != nil, nil
	})
	return leader, err
}

// Close stops all replicas.
func (c *Cluster) Close() error {
	c.mu.Lock()
	replicas := c.replicas
	c.replicas = map[uint64]*Replica{}
	c.mu.Unlock()

	var g errgroup.Group
	for _, r := range replicas {
		g.Go(r.Close)
	}
	return g.Wait()
}
