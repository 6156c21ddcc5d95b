package client

import (
	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

func (i *rpcStore) invoke(req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) CreateNamespace(name string, opts map[string]any) error {
	_, err := i.invoke(common.NewCreateNamespaceRequest(name, opts))
	return err
}

func (i *rpcStore) EnsureIndex(collection string, ks catalog.KeySpec) error {
	_, err := i.invoke(common.NewEnsureIndexRequest(collection, ks))
	return err
}

func (i *rpcStore) Drop(name string) error {
	_, err := i.invoke(common.NewDropRequest(name))
	return err
}

func (i *rpcStore) Insert(collection string, doc map[string]any) (any, error) {
	resp, err := i.invoke(common.NewInsertRequest(collection, doc))
	if err != nil {
		return nil, err
	}
	return resp.ID, nil
}

func (i *rpcStore) Remove(collection string, id any) error {
	_, err := i.invoke(common.NewRemoveRequest(collection, id))
	return err
}

func (i *rpcStore) ListNamespaces(p catalog.Pattern) ([]catalog.Namespace, error) {
	resp, err := i.invoke(common.NewListNamespacesRequest(p))
	if err != nil {
		return nil, err
	}
	return resp.Namespaces, nil
}

func (i *rpcStore) Find(q query.Query) ([]map[string]any, query.Explain, error) {
	resp, err := i.invoke(common.NewFindRequest(q))
	if err != nil {
		return nil, query.Explain{}, err
	}
	var explain query.Explain
	if resp.Explain != nil {
		explain = *resp.Explain
	}
	return resp.Docs, explain, nil
}

func (i *rpcStore) StepDown(timeoutSeconds uint64, force bool) error {
	_, err := i.invoke(common.NewStepDownRequest(timeoutSeconds, force))
	return err
}

func (i *rpcStore) GetRoleStatus() (repl.RoleStatus, error) {
	resp, err := i.invoke(common.NewGetRoleStatusRequest())
	if err != nil || resp.Status == nil {
		return repl.RoleStatus{}, err
	}
	return *resp.Status, nil
}

func (i *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	resp, err := i.invoke(common.NewGetDBInfoRequest())
	if err != nil || resp.Info == nil {
		return db.DatabaseInfo{}, err
	}
	return *resp.Info, nil
}
