package lstore

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// replicaID is the member id a standalone store reports.
const replicaID = 1

type storeImpl struct {
	engine db.Engine
	exec   *query.Executor
	term   uint64

	mu  sync.Mutex // serializes sequence numbers and apply
	seq uint64
}

// NewLocalStore creates a standalone store on top of engine. Opening the store
// starts a new term and drops every temporary namespace, like the promotion of
// a replica set member.
func NewLocalStore(engine db.Engine) (store.IStore, error) {
	hs, err := engine.HardState()
	if err != nil {
		return nil, fmt.Errorf("failed to read hard state: %w", err)
	}
	hs.Term++
	hs.VotedFor = replicaID
	if err := engine.SetHardState(hs); err != nil {
		return nil, fmt.Errorf("failed to persist hard state: %w", err)
	}

	s := &storeImpl{
		engine: engine,
		exec:   query.NewExecutor(engine),
		term:   hs.Term,
		seq:    engine.Applied().Seq,
	}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

// incAndGetIndex returns the next log sequence number. The caller holds mu.
func (s *storeImpl) incAndGetIndex() uint64 {
	s.seq++
	return s.seq
}

// apply applies op as the next entry of the local log.
func (s *storeImpl) apply(op oplog.Op) (oplog.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := oplog.Entry{Term: s.term, Seq: s.incAndGetIndex(), Op: op}
	res, err := s.engine.Apply(entry)
	if err != nil {
		// the entry was not persisted, its sequence number is free again
		s.seq--
		return oplog.Result{}, err
	}
	return res, nil
}

func (s *storeImpl) write(op oplog.Op) error {
	res, err := s.apply(op)
	if err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return store.FromResult(res)
}

// sweep drops the temporary namespaces left behind by the last run.
func (s *storeImpl) sweep() error {
	temps, err := s.engine.ListNamespaces(catalog.Pattern{}.WithTemporary(true))
	if err != nil {
		return fmt.Errorf("failed to list temporary namespaces: %w", err)
	}
	dropped := map[string]bool{}
	for _, ns := range temps {
		if ns.IsIndex() && dropped[ns.Owner] {
			continue
		}
		op := oplog.Drop(replicaID, ns.Name)
		op.Sweep = true
		res, err := s.apply(op)
		if err != nil {
			return fmt.Errorf("failed to drop %s: %w", ns.Name, err)
		}
		if res.Code != oplog.ResultOK {
			return fmt.Errorf("failed to drop %s: %s %s", ns.Name, res.Code, res.Msg)
		}
		dropped[ns.Name] = true
		metrics.GetOrCreateCounter(`ddoc_role_sweep_drops_total`).Inc()
	}
	if len(dropped) > 0 {
		log.Infof("dropped %d temporary namespaces in term %d", len(dropped), s.term)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) CreateNamespace(name string, opts map[string]any) error {
	co, err := catalog.ParseCreateOptions(opts)
	if err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	if err := catalog.ValidateCollectionName(name); err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return s.write(oplog.Create(replicaID, name, co.Temporary))
}

func (s *storeImpl) EnsureIndex(collection string, ks catalog.KeySpec) error {
	if err := ks.Validate(); err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return s.write(oplog.EnsureIndex(replicaID, collection, ks))
}

func (s *storeImpl) Drop(name string) error {
	return s.write(oplog.Drop(replicaID, name))
}

func (s *storeImpl) Insert(collection string, doc map[string]any) (any, error) {
	doc, id, err := store.PrepareInsert(doc, uuid.NewString)
	if err != nil {
		return nil, err
	}
	if err := s.write(oplog.Insert(replicaID, collection, doc)); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *storeImpl) Remove(collection string, id any) error {
	nid, err := value.Normalize(id)
	if err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return s.write(oplog.Remove(replicaID, collection, nid))
}

func (s *storeImpl) ListNamespaces(p catalog.Pattern) ([]catalog.Namespace, error) {
	nss, err := s.engine.ListNamespaces(p)
	if err != nil {
		return nil, store.FromReplError(err)
	}
	return nss, nil
}

func (s *storeImpl) Find(q query.Query) ([]map[string]any, query.Explain, error) {
	docs, explain, err := s.exec.FindAll(q)
	if err != nil {
		return nil, explain, store.FromReplError(err)
	}
	return docs, explain, nil
}

func (s *storeImpl) StepDown(uint64, bool) error {
	return store.NewError(store.RetCUnsupportedOperation, "a standalone store cannot step down")
}

func (s *storeImpl) GetRoleStatus() (repl.RoleStatus, error) {
	return repl.RoleStatus{
		ReplicaID:    replicaID,
		Role:         repl.RolePrimary,
		Term:         s.term,
		KnownPrimary: replicaID,
		Writable:     true,
	}, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	info := s.engine.GetInfo()
	status, _ := s.GetRoleStatus()
	info.Metadata = map[string]any{"engine": info.Metadata, "role": status}
	return info, nil
}

// String describes the store for log output.
func (s *storeImpl) String() string {
	return fmt.Sprintf("lstore(term %d)", s.term)
}
