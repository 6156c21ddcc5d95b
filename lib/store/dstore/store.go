package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/role"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the replicated implementation of store.IStore. Writes are
// proposed to the replicator in the writable term of the role manager, reads
// go to the local engine.
type storeImpl struct {
	rep     repl.Replicator
	roles   *role.Manager
	exec    *query.Executor
	timeout time.Duration
}

// NewDistributedStore creates a store on top of a replicator and the role
// manager of the same member.
func NewDistributedStore(rep repl.Replicator, roles *role.Manager, timeout time.Duration) store.IStore {
	return &storeImpl{
		rep:     rep,
		roles:   roles,
		exec:    query.NewExecutor(rep.Engine()),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write operation (used by interface methods)
// --------------------------------------------------------------------------

// write proposes op in the writable term and converts the result of applying
// it into a store error.
func (s *storeImpl) write(op oplog.Op) error {
	for i := 0; i < retries; i++ {
		term, err := s.roles.WritableTerm()
		if err != nil {
			return store.FromReplError(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.rep.Propose(ctx, term, op)
		cancel()

		if errors.Is(err, repl.ErrBusy) {
			log.Infof("Propose: replicator busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return store.FromReplError(err)
		}
		return store.FromResult(res)
	}
	return store.NewError(store.RetCInternalError, "timeout")
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
	return s.write(oplog.Create(s.rep.ReplicaID(), name, co.Temporary))
}

func (s *storeImpl) EnsureIndex(collection string, ks catalog.KeySpec) error {
	if err := ks.Validate(); err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return s.write(oplog.EnsureIndex(s.rep.ReplicaID(), collection, ks))
}

func (s *storeImpl) Drop(name string) error {
	return s.write(oplog.Drop(s.rep.ReplicaID(), name))
}

func (s *storeImpl) Insert(collection string, doc map[string]any) (any, error) {
	doc, id, err := store.PrepareInsert(doc, uuid.NewString)
	if err != nil {
		return nil, err
	}
	if err := s.write(oplog.Insert(s.rep.ReplicaID(), collection, doc)); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *storeImpl) Remove(collection string, id any) error {
	nid, err := value.Normalize(id)
	if err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return s.write(oplog.Remove(s.rep.ReplicaID(), collection, nid))
}

func (s *storeImpl) ListNamespaces(p catalog.Pattern) ([]catalog.Namespace, error) {
	nss, err := s.rep.Engine().ListNamespaces(p)
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

func (s *storeImpl) StepDown(timeoutSeconds uint64, force bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout+role.DefaultStepDownWait)
	defer cancel()
	if err := s.roles.StepDown(ctx, time.Duration(timeoutSeconds)*time.Second, force); err != nil {
		return store.FromReplError(err)
	}
	return nil
}

func (s *storeImpl) GetRoleStatus() (repl.RoleStatus, error) {
	return s.roles.Status(), nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	info := s.rep.Engine().GetInfo()
	info.Metadata = map[string]any{"engine": info.Metadata, "role": s.roles.Status()}
	return info, nil
}

// String describes the store for log output.
func (s *storeImpl) String() string {
	return fmt.Sprintf("dstore(replica %d)", s.rep.ReplicaID())
}
