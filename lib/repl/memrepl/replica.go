package memrepl

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("repl")

// maxAppendEntries bounds the entries sent in one append request.
const maxAppendEntries = 256

// Config configures a replica.
type Config struct {
	// ReplicaID is the id of the local member, must not be zero.
	ReplicaID uint64
	// Members are the ids of all voting members, including the local one.
	Members []uint64
	// ElectionTimeout is the base election timeout, the effective timeout is
	// randomized in [ElectionTimeout, 2*ElectionTimeout).
	ElectionTimeout time.Duration
	// HeartbeatInterval is the interval of leader heartbeats.
	HeartbeatInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 150 * time.Millisecond
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = c.ElectionTimeout / 5
	}
}

type state uint8

const (
	stateFollower state = iota
	stateCandidate
	stateLeader
)

type waiter struct {
	opID string
	ch   chan proposalResult
}

type proposalResult struct {
	res oplog.Result
	err error
}

// Replica is a member of an in-process replica set. It implements repl.Replicator.
type Replica struct {
	id      uint64
	cfg     Config
	net     *Network
	engine  db.Engine
	members []uint64

	mu sync.Mutex
	// persistent state, mirrored in the engine
	term     uint64
	votedFor uint64
	entries  []oplog.Entry // entries[i].Seq == i+1
	// volatile state
	state           state
	leader          uint64
	commit          uint64
	heardTerm       uint64 // term in which the current leader last contacted us
	leaderStartSeq  uint64 // seq of the noop appended when we became leader
	electionAt      time.Time
	noCampaignUntil time.Time
	// leader state
	match map[uint64]uint64
	next  map[uint64]uint64

	waiters map[uint64]waiter

	subscribers *xsync.MapOf[uint64, func(repl.LeaderInfo)]
	subSeq      atomic.Uint64

	replicateKick chan struct{}
	applyKick     chan struct{}
	notifyKick    chan struct{}
	stopc         chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once

	failed atomic.Pointer[error]
	rand   *rand.Rand
}

// Start starts a replica on an engine and registers it with the network.
// The persisted hard state and log of the engine are restored.
func Start(cfg Config, engine db.Engine, net *Network) (*Replica, error) {
	cfg.setDefaults()
	if cfg.ReplicaID == 0 {
		return nil, fmt.Errorf("replica id must not be zero")
	}

	hs, err := engine.HardState()
	if err != nil {
		return nil, fmt.Errorf("failed to read hard state: %w", err)
	}
	entries, err := engine.LogEntries(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			return nil, fmt.Errorf("log is not contiguous at entry %d (seq %d)", i, e.Seq)
		}
	}

	r := &Replica{
		id:            cfg.ReplicaID,
		cfg:           cfg,
		net:           net,
		engine:        engine,
		members:       append([]uint64(nil), cfg.Members...),
		term:          hs.Term,
		votedFor:      hs.VotedFor,
		entries:       entries,
		commit:        engine.Applied().Seq, // applied entries are committed
		match:         map[uint64]uint64{},
		next:          map[uint64]uint64{},
		waiters:       map[uint64]waiter{},
		subscribers:   xsync.NewMapOf[uint64, func(repl.LeaderInfo)](),
		replicateKick: make(chan struct{}, 1),
		applyKick:     make(chan struct{}, 1),
		notifyKick:    make(chan struct{}, 1),
		stopc:         make(chan struct{}),
		rand:          rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ReplicaID))),
	}
	r.resetElectionTimer()

	net.register(r)
	r.wg.Add(3)
	go r.tickLoop()
	go r.applyLoop()
	go r.notifyLoop()
	kick(r.applyKick)

	log.Infof("replica %d started at term %d with %d log entries (applied %v)", r.id, r.term, len(entries), engine.Applied())
	return r, nil
}

// --------------------------------------------------------------------------
// repl.Replicator
// --------------------------------------------------------------------------

// ReplicaID returns the id of the replica.
func (r *Replica) ReplicaID() uint64 { return r.id }

// Engine returns the local engine.
func (r *Replica) Engine() db.Engine { return r.engine }

// Err returns the error that stopped the replica from applying the log.
func (r *Replica) Err() error {
	if p := r.failed.Load(); p != nil {
		return *p
	}
	return nil
}

// LeaderInfo returns the current leadership as seen by this replica.
func (r *Replica) LeaderInfo() repl.LeaderInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return repl.LeaderInfo{LeaderID: r.leader, Term: r.term}
}

// Subscribe registers fn for leadership changes.
func (r *Replica) Subscribe(fn func(repl.LeaderInfo)) func() {
	id := r.subSeq.Add(1)
	r.subscribers.Store(id, fn)
	return func() { r.subscribers.Delete(id) }
}

// Propose appends op to the log and waits until it is applied locally.
func (r *Replica) Propose(ctx context.Context, term uint64, op oplog.Op) (oplog.Result, error) {
	if err := r.Err(); err != nil {
		return oplog.Result{}, err
	}

	r.mu.Lock()
	if r.state != stateLeader || (term != 0 && term != r.term) {
		r.mu.Unlock()
		return oplog.Result{}, repl.ErrNotLeader
	}
	entry := oplog.Entry{Term: r.term, Seq: r.lastSeq() + 1, Op: op}
	if err := r.appendLocked(entry); err != nil {
		r.mu.Unlock()
		return oplog.Result{}, err
	}
	ch := make(chan proposalResult, 1)
	r.waiters[entry.Seq] = waiter{opID: op.ID, ch: ch}
	r.mu.Unlock()

	kick(r.replicateKick)

	select {
	case res := <-ch:
		return res.res, res.err
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, entry.Seq)
		r.mu.Unlock()
		return oplog.Result{}, fmt.Errorf("%w: entry %v not committed: %v", repl.ErrNoQuorum, entry.Position(), ctx.Err())
	case <-r.stopc:
		return oplog.Result{}, repl.ErrClosed
	}
}

// CatchUp waits until every entry known to be committed is applied. A leader
// is caught up once the entry that started its term is applied, a follower
// once it heard from the leader of its term and applied its commit index.
func (r *Replica) CatchUp(ctx context.Context) error {
	err := repl.WaitFor(ctx, 5*time.Millisecond, func() (bool, error) {
		if err := r.Err(); err != nil {
			return false, err
		}
		applied := r.engine.Applied().Seq
		r.mu.Lock()
		defer r.mu.Unlock()
		switch {
		case r.state == stateLeader:
			return applied >= r.leaderStartSeq && applied >= r.commit, nil
		case r.leader != 0 && r.heardTerm == r.term:
			return applied >= r.commit, nil
		default:
			return false, nil
		}
	})
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: replica %d applied %v", repl.ErrCatchUpTimeout, r.id, r.engine.Applied())
	}
	return err
}

// TransferLeadership steps down and asks target (or the most up-to-date
// follower if target is zero) to campaign immediately. The replica does not
// campaign for holdOff.
func (r *Replica) TransferLeadership(ctx context.Context, target uint64, holdOff time.Duration) error {
	r.mu.Lock()
	if r.state != stateLeader {
		r.mu.Unlock()
		return repl.ErrNotLeader
	}
	r.mu.Unlock()

	// bring the followers up to date before giving up leadership
	r.replicate(ctx)

	r.mu.Lock()
	if r.state != stateLeader {
		r.mu.Unlock()
		return repl.ErrNotLeader
	}
	if target == 0 {
		var best uint64
		for _, p := range r.peers() {
			if _, ok := r.net.peer(r.id, p); ok && (target == 0 || r.match[p] > best) {
				target, best = p, r.match[p]
			}
		}
	}
	term := r.term
	r.noCampaignUntil = time.Now().Add(holdOff)
	r.becomeFollowerLocked(term, 0)
	r.mu.Unlock()
	kick(r.notifyKick)

	log.Infof("replica %d stepped down in term %d, transferring leadership to %d (hold off %v)", r.id, term, target, holdOff)
	if target == 0 {
		return nil
	}
	if p, ok := r.net.peer(r.id, target); ok {
		p.timeoutNow(term)
	}
	return nil
}

// Followers returns the replication progress of the other members.
func (r *Replica) Followers(ctx context.Context) ([]repl.FollowerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateLeader {
		return nil, repl.ErrNotLeader
	}
	last := r.lastSeq()
	out := make([]repl.FollowerInfo, 0, len(r.members)-1)
	for _, p := range r.peers() {
		out = append(out, repl.FollowerInfo{ReplicaID: p, Match: r.match[p], CaughtUp: r.match[p] >= last})
	}
	return out, nil
}

// Close stops the replica and closes its engine.
func (r *Replica) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopc)
		r.wg.Wait()
		r.net.unregister(r)
		err = r.engine.Close()
		log.Infof("replica %d stopped", r.id)
	})
	return err
}

// --------------------------------------------------------------------------
// Message handlers
// --------------------------------------------------------------------------

func (r *Replica) handleVote(req voteRequest) voteResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Term < r.term || r.Err() != nil {
		return voteResponse{Term: r.term}
	}
	if req.Term > r.term {
		r.becomeFollowerLocked(req.Term, 0)
	}

	lastSeq, lastTerm := r.lastSeq(), r.termAt(r.lastSeq())
	upToDate := req.LastTerm > lastTerm || (req.LastTerm == lastTerm && req.LastSeq >= lastSeq)
	if (r.votedFor == 0 || r.votedFor == req.Candidate) && upToDate {
		r.votedFor = req.Candidate
		r.persistHardStateLocked()
		r.resetElectionTimer()
		return voteResponse{Term: r.term, Granted: true}
	}
	return voteResponse{Term: r.term}
}

func (r *Replica) handleAppend(req appendRequest) appendResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Term < r.term {
		return appendResponse{Term: r.term}
	}
	if req.Term > r.term || r.state != stateFollower || r.leader != req.Leader {
		r.becomeFollowerLocked(req.Term, req.Leader)
	}
	r.heardTerm = req.Term
	r.resetElectionTimer()

	if req.PrevSeq > r.lastSeq() || r.termAt(req.PrevSeq) != req.PrevTerm {
		hint := r.lastSeq()
		if req.PrevSeq > 0 && hint >= req.PrevSeq {
			hint = req.PrevSeq - 1
		}
		return appendResponse{Term: r.term, LastSeq: hint}
	}

	for i, e := range req.Entries {
		if e.Seq <= r.lastSeq() && r.termAt(e.Seq) == e.Term {
			continue
		}
		if e.Seq <= r.commit {
			log.Errorf("replica %d: leader %d tried to overwrite committed entry %d", r.id, req.Leader, e.Seq)
			return appendResponse{Term: r.term, LastSeq: r.commit}
		}
		if err := r.engine.AppendLog(req.Entries[i:]...); err != nil {
			log.Errorf("replica %d: failed to persist entries: %v", r.id, err)
			return appendResponse{Term: r.term, LastSeq: r.lastSeq()}
		}
		r.entries = append(r.entries[:e.Seq-1], req.Entries[i:]...)
		break
	}

	if lastNew := req.PrevSeq + uint64(len(req.Entries)); req.Commit > r.commit {
		r.commit = min(req.Commit, lastNew)
		kick(r.applyKick)
	}
	return appendResponse{Term: r.term, Success: true, LastSeq: r.lastSeq()}
}

// timeoutNow makes the replica campaign immediately, used for leadership transfer.
func (r *Replica) timeoutNow(term uint64) {
	r.mu.Lock()
	if r.term == term && r.state != stateLeader {
		r.electionAt = time.Now()
	}
	r.mu.Unlock()
}

// --------------------------------------------------------------------------
// Election
// --------------------------------------------------------------------------

func (r *Replica) campaign() {
	r.mu.Lock()
	if r.state == stateLeader || time.Now().Before(r.electionAt) || time.Now().Before(r.noCampaignUntil) || r.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.term++
	r.votedFor = r.id
	r.state = stateCandidate
	r.leader = 0
	r.persistHardStateLocked()
	r.resetElectionTimer()
	req := voteRequest{Term: r.term, Candidate: r.id, LastSeq: r.lastSeq(), LastTerm: r.termAt(r.lastSeq())}
	r.mu.Unlock()
	kick(r.notifyKick)

	log.Debugf("replica %d campaigning in term %d", r.id, req.Term)

	var votes atomic.Int32
	votes.Add(1)
	var g errgroup.Group
	for _, p := range r.peers() {
		peer, ok := r.net.peer(r.id, p)
		if !ok {
			continue
		}
		g.Go(func() error {
			resp := peer.handleVote(req)
			if resp.Granted {
				votes.Add(1)
				return nil
			}
			r.observeTerm(resp.Term)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	won := r.state == stateCandidate && r.term == req.Term && int(votes.Load()) > len(r.members)/2
	if won {
		r.becomeLeaderLocked()
	}
	r.mu.Unlock()

	if won {
		kick(r.notifyKick)
		kick(r.replicateKick)
	} else {
		log.Debugf("replica %d lost election in term %d with %d of %d votes", r.id, req.Term, votes.Load(), len(r.members))
	}
}

func (r *Replica) becomeLeaderLocked() {
	r.state = stateLeader
	r.leader = r.id
	for _, p := range r.peers() {
		r.next[p] = r.lastSeq() + 1
		r.match[p] = 0
	}
	// entries of earlier terms are committed through an entry of this term
	noop := oplog.Entry{Term: r.term, Seq: r.lastSeq() + 1, Op: oplog.Noop(r.id)}
	if err := r.appendLocked(noop); err != nil {
		log.Errorf("replica %d: failed to append noop: %v", r.id, err)
		r.becomeFollowerLocked(r.term, 0)
		return
	}
	r.leaderStartSeq = noop.Seq
	log.Infof("replica %d won election for term %d", r.id, r.term)
	r.advanceCommitLocked()
}

func (r *Replica) becomeFollowerLocked(term, leader uint64) {
	if term > r.term {
		r.term = term
		r.votedFor = 0
		r.persistHardStateLocked()
	}
	r.state = stateFollower
	r.leader = leader
	if leader != 0 {
		r.heardTerm = term
	}
	r.resetElectionTimer()
}

// observeTerm steps down if a peer reports a newer term.
func (r *Replica) observeTerm(term uint64) {
	r.mu.Lock()
	stepped := term > r.term
	if stepped {
		r.becomeFollowerLocked(term, 0)
	}
	r.mu.Unlock()
	if stepped {
		kick(r.notifyKick)
	}
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// replicate sends one append request to every reachable peer and advances
// the commit index.
func (r *Replica) replicate(ctx context.Context) {
	r.mu.Lock()
	if r.state != stateLeader {
		r.mu.Unlock()
		return
	}
	term := r.term
	peers := r.peers()
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, p := range peers {
		peer, ok := r.net.peer(r.id, p)
		if !ok {
			continue
		}
		g.Go(func() error {
			r.replicateTo(peer, term)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	if r.state == stateLeader && r.term == term {
		r.advanceCommitLocked()
	}
	r.mu.Unlock()
}

func (r *Replica) replicateTo(peer *Replica, term uint64) {
	r.mu.Lock()
	if r.state != stateLeader || r.term != term {
		r.mu.Unlock()
		return
	}
	next := r.next[peer.id]
	if next == 0 {
		next = 1
	}
	prev := next - 1
	end := min(r.lastSeq(), prev+maxAppendEntries)
	req := appendRequest{
		Term:     term,
		Leader:   r.id,
		PrevSeq:  prev,
		PrevTerm: r.termAt(prev),
		Entries:  append([]oplog.Entry(nil), r.entries[prev:end]...),
		Commit:   r.commit,
	}
	r.mu.Unlock()

	resp := peer.handleAppend(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if resp.Term > r.term {
		r.becomeFollowerLocked(resp.Term, 0)
		kick(r.notifyKick)
		return
	}
	if r.state != stateLeader || r.term != term {
		return
	}
	if resp.Success {
		r.match[peer.id] = max(r.match[peer.id], prev+uint64(len(req.Entries)))
		r.next[peer.id] = r.match[peer.id] + 1
		if r.next[peer.id] <= r.lastSeq() {
			kick(r.replicateKick)
		}
		return
	}
	r.next[peer.id] = max(1, min(next-1, resp.LastSeq+1))
	kick(r.replicateKick)
}

func (r *Replica) advanceCommitLocked() {
	for n := r.lastSeq(); n > r.commit; n-- {
		if r.termAt(n) != r.term {
			break
		}
		count := 1
		for _, p := range r.peers() {
			if r.match[p] >= n {
				count++
			}
		}
		if count > len(r.members)/2 {
			r.commit = n
			kick(r.applyKick)
			return
		}
	}
}

// --------------------------------------------------------------------------
// Loops
// --------------------------------------------------------------------------

func (r *Replica) tickLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval / 2)
	defer ticker.Stop()
	lastHeartbeat := time.Time{}

	for {
		select {
		case <-r.stopc:
			return
		case <-r.replicateKick:
			r.replicate(context.Background())
			lastHeartbeat = time.Now()
		case <-ticker.C:
			r.mu.Lock()
			leader := r.state == stateLeader
			r.mu.Unlock()
			if leader {
				if time.Since(lastHeartbeat) >= r.cfg.HeartbeatInterval {
					r.replicate(context.Background())
					lastHeartbeat = time.Now()
				}
				continue
			}
			r.campaign()
		}
	}
}

func (r *Replica) applyLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopc:
			return
		case <-r.applyKick:
		}

		for {
			r.mu.Lock()
			applied := r.engine.Applied().Seq
			if applied >= r.commit || applied >= r.lastSeq() {
				r.mu.Unlock()
				break
			}
			entry := r.entries[applied]
			r.mu.Unlock()

			res, err := r.engine.Apply(entry)
			if err != nil {
				err = fmt.Errorf("replica %d failed to apply %v: %w", r.id, entry.Position(), err)
				log.Errorf("%v", err)
				r.failed.Store(&err)
				kick(r.notifyKick)
				return
			}
			r.deliver(entry, res)
		}
	}
}

func (r *Replica) deliver(entry oplog.Entry, res oplog.Result) {
	r.mu.Lock()
	w, ok := r.waiters[entry.Seq]
	delete(r.waiters, entry.Seq)
	r.mu.Unlock()
	if !ok {
		return
	}
	if w.opID == entry.Op.ID {
		w.ch <- proposalResult{res: res}
	} else {
		// the proposal was replaced by an entry of a later leader
		w.ch <- proposalResult{err: repl.ErrNotLeader}
	}
}

// notifyLoop delivers leadership changes to subscribers. Changes are
// coalesced, subscribers always see the latest state.
func (r *Replica) notifyLoop() {
	defer r.wg.Done()
	var last repl.LeaderInfo
	for {
		select {
		case <-r.stopc:
			return
		case <-r.notifyKick:
		}
		info := r.LeaderInfo()
		if info == last && r.Err() == nil {
			continue
		}
		last = info
		r.subscribers.Range(func(_ uint64, fn func(repl.LeaderInfo)) bool {
			fn(info)
			return true
		})
	}
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func (r *Replica) appendLocked(entries ...oplog.Entry) error {
	if err := r.engine.AppendLog(entries...); err != nil {
		return fmt.Errorf("failed to persist log entries: %w", err)
	}
	r.entries = append(r.entries, entries...)
	r.advanceCommitLocked()
	return nil
}

func (r *Replica) persistHardStateLocked() {
	if err := r.engine.SetHardState(db.HardState{Term: r.term, VotedFor: r.votedFor}); err != nil {
		log.Errorf("replica %d: failed to persist hard state: %v", r.id, err)
	}
}

func (r *Replica) resetElectionTimer() {
	base := r.cfg.ElectionTimeout
	r.electionAt = time.Now().Add(base + time.Duration(r.rand.Int63n(int64(base))))
}

func (r *Replica) lastSeq() uint64 {
	return uint64(len(r.entries))
}

func (r *Replica) termAt(seq uint64) uint64 {
	if seq == 0 || seq > r.lastSeq() {
		return 0
	}
	return r.entries[seq-1].Term
}

func (r *Replica) peers() []uint64 {
	out := make([]uint64, 0, len(r.members))
	for _, m := range r.members {
		if m != r.id {
			out = append(out, m)
		}
	}
	return out
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

var _ repl.Replicator = (*Replica)(nil)
