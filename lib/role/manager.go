package role

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("role")

// DefaultStepDownWait is how long a non-forced step down waits for a caught-up
// secondary by default.
const DefaultStepDownWait = 10 * time.Second

// Config configures a Manager.
type Config struct {
	// CatchUpTimeout bounds catching up with the log before a member becomes
	// secondary or runs the promotion sweep. Defaults to 10s.
	CatchUpTimeout time.Duration
	// StepDownWait is how long a non-forced step down waits for a caught-up
	// secondary. Defaults to 10s.
	StepDownWait time.Duration
	// SweepTimeout bounds the promotion sweep. Defaults to 30s.
	SweepTimeout time.Duration
	// Interval is the period in which the role is re-evaluated without a
	// leadership event. Defaults to 100ms.
	Interval time.Duration
}

func (c *Config) setDefaults() {
	if c.CatchUpTimeout == 0 {
		c.CatchUpTimeout = 10 * time.Second
	}
	if c.StepDownWait == 0 {
		c.StepDownWait = DefaultStepDownWait
	}
	if c.SweepTimeout == 0 {
		c.SweepTimeout = 30 * time.Second
	}
	if c.Interval == 0 {
		c.Interval = 100 * time.Millisecond
	}
}

// Manager derives the role of a member from the leadership reported by its
// replicator. A member that becomes leader in term T is primary for T but
// only writable once every temporary namespace has been dropped through the
// log. All role transitions happen on one goroutine.
type Manager struct {
	rep repl.Replicator
	cfg Config

	mu          sync.Mutex
	status      repl.RoleStatus
	highestTerm uint64
	barredUntil time.Time

	subscribers *xsync.MapOf[uint64, func(repl.RoleStatus)]
	subSeq      atomic.Uint64

	kick        chan struct{}
	stopc       chan struct{}
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// New starts a role manager for rep. The member starts as Recovering.
func New(rep repl.Replicator, cfg Config) *Manager {
	cfg.setDefaults()
	m := &Manager{
		rep:         rep,
		cfg:         cfg,
		status:      repl.RoleStatus{ReplicaID: rep.ReplicaID(), Role: repl.RoleRecovering},
		subscribers: xsync.NewMapOf[uint64, func(repl.RoleStatus)](),
		kick:        make(chan struct{}, 1),
		stopc:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.unsubscribe = rep.Subscribe(func(repl.LeaderInfo) { m.notify() })
	go m.run()
	m.notify()
	return m
}

// Status returns the current role of the member.
func (m *Manager) Status() repl.RoleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// WritableTerm returns the term in which the member accepts writes. It fails
// with repl.ErrNotLeader unless the member is a primary that finished its
// promotion sweep.
func (m *Manager) WritableTerm() (uint64, error) {
	s := m.Status()
	if s.Role != repl.RolePrimary || !s.Writable {
		return 0, fmt.Errorf("%w: replica %d is %s (writable=%v)", repl.ErrNotLeader, s.ReplicaID, s.Role, s.Writable)
	}
	return s.Term, nil
}

// Subscribe registers fn for role changes. fn is called on the manager's
// goroutine and must not block.
func (m *Manager) Subscribe(fn func(repl.RoleStatus)) func() {
	id := m.subSeq.Add(1)
	m.subscribers.Store(id, fn)
	return func() { m.subscribers.Delete(id) }
}

// StepDown demotes the primary and bars it from becoming primary again for
// the hold-off. Without force a caught-up secondary must exist.
func (m *Manager) StepDown(ctx context.Context, holdOff time.Duration, force bool) error {
	s := m.Status()
	if s.Role != repl.RolePrimary {
		return fmt.Errorf("%w: replica %d is %s", repl.ErrNotLeader, s.ReplicaID, s.Role)
	}

	var target uint64
	if !force {
		wctx, cancel := context.WithTimeout(ctx, m.cfg.StepDownWait)
		err := repl.WaitFor(wctx, 10*time.Millisecond, func() (bool, error) {
			followers, err := m.rep.Followers(wctx)
			if err != nil {
				return false, err
			}
			for _, f := range followers {
				if f.CaughtUp {
					target = f.ReplicaID
					return true, nil
				}
			}
			return false, nil
		})
		cancel()
		if err != nil {
			if errors.Is(err, repl.ErrNotLeader) {
				return err
			}
			return fmt.Errorf("%w: no secondary caught up within %v", repl.ErrCatchUpTimeout, m.cfg.StepDownWait)
		}
	}

	m.mu.Lock()
	m.barredUntil = time.Now().Add(holdOff)
	m.mu.Unlock()

	if err := m.rep.TransferLeadership(ctx, target, holdOff); err != nil && !errors.Is(err, repl.ErrNotLeader) {
		return err
	}
	m.setStatus(repl.RoleStatus{ReplicaID: s.ReplicaID, Role: repl.RoleSecondary, Term: s.Term})
	metrics.GetOrCreateCounter(`ddoc_role_stepdowns_total`).Inc()
	log.Infof("replica %d stepped down in term %d (force=%v, target=%d, hold off %v)", s.ReplicaID, s.Term, force, target, holdOff)
	m.notify()
	return nil
}

// Close stops the manager. The replicator is not closed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.unsubscribe()
		close(m.stopc)
		<-m.done
	})
}

// --------------------------------------------------------------------------
// Role transitions
// --------------------------------------------------------------------------

func (m *Manager) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopc:
			return
		case <-m.kick:
		case <-ticker.C:
		}
		m.reconcile()
	}
}

func (m *Manager) reconcile() {
	id := m.rep.ReplicaID()
	info := m.rep.LeaderInfo()

	if err := m.rep.Err(); err != nil {
		if m.Status().Role != repl.RoleRecovering {
			log.Errorf("replica %d cannot apply the log and re-enters recovering: %v", id, err)
		}
		m.setStatus(repl.RoleStatus{ReplicaID: id, Role: repl.RoleRecovering, Term: info.Term})
		return
	}

	m.mu.Lock()
	if info.Term < m.highestTerm {
		m.mu.Unlock()
		return
	}
	m.highestTerm = info.Term
	cur := m.status
	barredFor := time.Until(m.barredUntil)
	m.mu.Unlock()

	if info.IsLeader(id) {
		if cur.Role == repl.RolePrimary && cur.Term == info.Term {
			return
		}
		if barredFor > 0 {
			log.Infof("replica %d elected in term %d while barred, transferring leadership", id, info.Term)
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CatchUpTimeout)
			defer cancel()
			if err := m.rep.TransferLeadership(ctx, 0, barredFor); err != nil {
				log.Warningf("replica %d failed to transfer leadership: %v", id, err)
			}
			m.setStatus(repl.RoleStatus{ReplicaID: id, Role: repl.RoleSecondary, Term: info.Term})
			return
		}
		m.promote(info.Term)
		return
	}

	next := repl.RoleStatus{ReplicaID: id, Role: repl.RoleSecondary, Term: info.Term, KnownPrimary: info.LeaderID}
	if cur.Role == repl.RoleRecovering {
		if info.LeaderID == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CatchUpTimeout)
		err := m.rep.CatchUp(ctx)
		cancel()
		if err != nil {
			log.Warningf("replica %d stays recovering: %v", id, err)
			return
		}
	}
	m.setStatus(next)
}

// promote makes the member primary for term and runs the promotion sweep.
// The term only becomes writable once the sweep committed.
func (m *Manager) promote(term uint64) {
	id := m.rep.ReplicaID()
	m.setStatus(repl.RoleStatus{ReplicaID: id, Role: repl.RolePrimary, Term: term, KnownPrimary: id})
	metrics.GetOrCreateCounter(`ddoc_role_promotions_total`).Inc()
	log.Infof("replica %d is primary for term %d, running promotion sweep", id, term)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SweepTimeout)
	defer cancel()
	dropped, err := m.sweep(ctx, term)
	if err != nil {
		metrics.GetOrCreateCounter(`ddoc_role_sweep_failures_total`).Inc()
		log.Errorf("replica %d: promotion sweep of term %d failed after %d drops: %v", id, term, dropped, err)
		// a later promotion retries the sweep
		if m.rep.LeaderInfo().IsLeader(id) {
			if err := m.rep.TransferLeadership(ctx, 0, 0); err != nil {
				log.Warningf("replica %d failed to give up leadership: %v", id, err)
			}
		}
		m.setStatus(repl.RoleStatus{ReplicaID: id, Role: repl.RoleSecondary, Term: term})
		return
	}

	m.mu.Lock()
	stale := m.status.Role != repl.RolePrimary || m.status.Term != term
	m.mu.Unlock()
	if stale {
		return
	}
	m.setStatus(repl.RoleStatus{ReplicaID: id, Role: repl.RolePrimary, Term: term, KnownPrimary: id, Writable: true})
	log.Infof("replica %d is writable in term %d after dropping %d temporary namespaces", id, term, dropped)
}

// sweep drops every temporary namespace through the log, fenced to term.
func (m *Manager) sweep(ctx context.Context, term uint64) (int, error) {
	if err := m.rep.CatchUp(ctx); err != nil {
		return 0, err
	}
	temps, err := m.rep.Engine().ListNamespaces(catalog.Pattern{}.WithTemporary(true))
	if err != nil {
		return 0, fmt.Errorf("failed to list temporary namespaces: %w", err)
	}

	dropped := map[string]bool{}
	for _, ns := range temps {
		if ns.IsIndex() && dropped[ns.Owner] {
			continue
		}
		op := oplog.Drop(m.rep.ReplicaID(), ns.Name)
		op.Sweep = true
		res, err := m.rep.Propose(ctx, term, op)
		if err != nil {
			return len(dropped), fmt.Errorf("failed to drop %s: %w", ns.Name, err)
		}
		if res.Code != oplog.ResultOK && res.Code != oplog.ResultSkipped {
			return len(dropped), fmt.Errorf("failed to drop %s: %s %s", ns.Name, res.Code, res.Msg)
		}
		dropped[ns.Name] = true
		metrics.GetOrCreateCounter(`ddoc_role_sweep_drops_total`).Inc()
		log.Infof("dropped temporary namespace %s in term %d", ns.Name, term)
	}
	return len(dropped), nil
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func (m *Manager) setStatus(s repl.RoleStatus) {
	m.mu.Lock()
	changed := m.status != s
	if changed && (m.status.Role != s.Role || m.status.Writable != s.Writable) {
		log.Infof("replica %d: %s -> %s (term %d, writable %v)", s.ReplicaID, m.status.Role, s.Role, s.Term, s.Writable)
	}
	m.status = s
	m.mu.Unlock()
	if !changed {
		return
	}
	m.subscribers.Range(func(_ uint64, fn func(repl.RoleStatus)) bool {
		fn(s)
		return true
	})
}

func (m *Manager) notify() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}
