package memrepl

import (
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/puzpuzpuz/xsync/v3"
)

// Network connects the replicas of one process. Messages are direct method
// calls on the peer; a stopped or isolated replica is unreachable.
type Network struct {
	replicas *xsync.MapOf[uint64, *Replica]
	isolated *xsync.MapOf[uint64, bool]
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		replicas: xsync.NewMapOf[uint64, *Replica](),
		isolated: xsync.NewMapOf[uint64, bool](),
	}
}

// Isolate cuts a replica off from all other replicas.
func (n *Network) Isolate(id uint64) {
	n.isolated.Store(id, true)
}

// Heal reconnects an isolated replica.
func (n *Network) Heal(id uint64) {
	n.isolated.Delete(id)
}

func (n *Network) register(r *Replica) {
	n.replicas.Store(r.id, r)
}

func (n *Network) unregister(r *Replica) {
	n.replicas.Compute(r.id, func(old *Replica, loaded bool) (*Replica, bool) {
		// a restarted replica may already have replaced r
		return old, !loaded || old == r
	})
}

// peer returns the replica to if it can be reached from from.
func (n *Network) peer(from, to uint64) (*Replica, bool) {
	if iso, _ := n.isolated.Load(from); iso {
		return nil, false
	}
	if iso, _ := n.isolated.Load(to); iso {
		return nil, false
	}
	return n.replicas.Load(to)
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

type voteRequest struct {
	Term      uint64
	Candidate uint64
	LastSeq   uint64
	LastTerm  uint64
}

type voteResponse struct {
	Term    uint64
	Granted bool
}

type appendRequest struct {
	Term     uint64
	Leader   uint64
	PrevSeq  uint64
	PrevTerm uint64
	Entries  []oplog.Entry
	Commit   uint64
}

type appendResponse struct {
	Term    uint64
	Success bool
	LastSeq uint64 // hint for the leader when the append was rejected
}
