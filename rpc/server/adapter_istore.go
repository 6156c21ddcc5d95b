package server

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTCreateNamespace:
		return common.NewResponse(req.MsgType, s.CreateNamespace(req.Name, req.Options))
	case common.MsgTEnsureIndex:
		return common.NewResponse(req.MsgType, s.EnsureIndex(req.Name, req.KeySpec))
	case common.MsgTDrop:
		return common.NewResponse(req.MsgType, s.Drop(req.Name))
	case common.MsgTInsert:
		id, err := s.Insert(req.Name, req.Doc)
		return common.NewInsertResponse(id, err)
	case common.MsgTRemove:
		return common.NewResponse(req.MsgType, s.Remove(req.Name, req.ID))
	case common.MsgTListNamespaces:
		var p catalog.Pattern
		if req.Pattern != nil {
			p = *req.Pattern
		}
		nss, err := s.ListNamespaces(p)
		return common.NewListNamespacesResponse(nss, err)
	case common.MsgTFind:
		if req.Query == nil {
			return common.NewResponse(req.MsgType, store.NewError(store.RetCInvalidOperation, "find without query"))
		}
		docs, explain, err := s.Find(*req.Query)
		return common.NewFindResponse(docs, explain, err)
	case common.MsgTStepDown:
		return common.NewResponse(req.MsgType, s.StepDown(req.TimeoutSeconds, req.Force))
	case common.MsgTGetRoleStatus:
		status, err := s.GetRoleStatus()
		return common.NewGetRoleStatusResponse(status, err)
	case common.MsgTGetDBInfo:
		info, err := s.GetDBInfo()
		return common.NewGetDBInfoResponse(info, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
