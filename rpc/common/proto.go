package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Name           string           `json:"name,omitempty"`           // Used for: CreateNamespace, EnsureIndex, Drop, Insert, Remove
	Options        map[string]any   `json:"options,omitempty"`        // Used for: CreateNamespace
	KeySpec        catalog.KeySpec  `json:"keySpec,omitempty"`        // Used for: EnsureIndex
	Doc            map[string]any   `json:"doc,omitempty"`            // Used for: Insert
	ID             any              `json:"id,omitempty"`             // Used for: Remove (request), Insert (response)
	Pattern        *catalog.Pattern `json:"pattern,omitempty"`        // Used for: ListNamespaces
	Query          *query.Query     `json:"query,omitempty"`          // Used for: Find
	TimeoutSeconds uint64           `json:"timeoutSeconds,omitempty"` // Used for: StepDown
	Force          bool             `json:"force,omitempty"`          // Used for: StepDown

	// Response only fields
	Docs       []map[string]any    `json:"docs,omitempty"`       // Used for: Find
	Explain    *query.Explain      `json:"explain,omitempty"`    // Used for: Find
	Namespaces []catalog.Namespace `json:"namespaces,omitempty"` // Used for: ListNamespaces
	Status     *repl.RoleStatus    `json:"status,omitempty"`     // Used for: GetRoleStatus
	Info       *db.DatabaseInfo    `json:"info,omitempty"`       // Used for: GetDBInfo
	Code       store.RetCode       `json:"code,omitempty"`       // RetCSuccess if no error
	Err        string              `json:"err,omitempty"`        // Empty if no error, otherwise contains the error message
}

// SetErr stores err in the response. Store errors keep their return code,
// other errors are reported as internal errors.
func (m *Message) SetErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Code = store.CodeOf(err)
	var se *store.Error
	if errors.As(err, &se) {
		m.Err = se.Msg
	} else {
		m.Err = err.Error()
	}
	return m
}

// AsError rebuilds the store error carried by a response, nil if there is none.
func (m *Message) AsError() error {
	if m.Code == store.RetCSuccess && m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	code := m.Code
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCreateNamespaceRequest creates a new CreateNamespace request
func NewCreateNamespaceRequest(name string, opts map[string]any) *Message {
	return &Message{MsgType: MsgTCreateNamespace, Name: name, Options: opts}
}

// NewEnsureIndexRequest creates a new EnsureIndex request
func NewEnsureIndexRequest(collection string, ks catalog.KeySpec) *Message {
	return &Message{MsgType: MsgTEnsureIndex, Name: collection, KeySpec: ks}
}

// NewDropRequest creates a new Drop request
func NewDropRequest(name string) *Message {
	return &Message{MsgType: MsgTDrop, Name: name}
}

// NewInsertRequest creates a new Insert request
func NewInsertRequest(collection string, doc map[string]any) *Message {
	return &Message{MsgType: MsgTInsert, Name: collection, Doc: doc}
}

// NewInsertResponse creates a new Insert response
func NewInsertResponse(id any, err error) *Message {
	return (&Message{MsgType: MsgTInsert, ID: id}).SetErr(err)
}

// NewRemoveRequest creates a new Remove request
func NewRemoveRequest(collection string, id any) *Message {
	return &Message{MsgType: MsgTRemove, Name: collection, ID: id}
}

// NewListNamespacesRequest creates a new ListNamespaces request
func NewListNamespacesRequest(p catalog.Pattern) *Message {
	return &Message{MsgType: MsgTListNamespaces, Pattern: &p}
}

// NewListNamespacesResponse creates a new ListNamespaces response
func NewListNamespacesResponse(nss []catalog.Namespace, err error) *Message {
	return (&Message{MsgType: MsgTListNamespaces, Namespaces: nss}).SetErr(err)
}

// NewFindRequest creates a new Find request
func NewFindRequest(q query.Query) *Message {
	return &Message{MsgType: MsgTFind, Query: &q}
}

// NewFindResponse creates a new Find response
func NewFindResponse(docs []map[string]any, explain query.Explain, err error) *Message {
	return (&Message{MsgType: MsgTFind, Docs: docs, Explain: &explain}).SetErr(err)
}

// NewStepDownRequest creates a new StepDown request
func NewStepDownRequest(timeoutSeconds uint64, force bool) *Message {
	return &Message{MsgType: MsgTStepDown, TimeoutSeconds: timeoutSeconds, Force: force}
}

// NewGetRoleStatusRequest creates a new GetRoleStatus request
func NewGetRoleStatusRequest() *Message {
	return &Message{MsgType: MsgTGetRoleStatus}
}

// NewGetRoleStatusResponse creates a new GetRoleStatus response
func NewGetRoleStatusResponse(status repl.RoleStatus, err error) *Message {
	return (&Message{MsgType: MsgTGetRoleStatus, Status: &status}).SetErr(err)
}

// NewGetDBInfoRequest creates a new GetDBInfo request
func NewGetDBInfoRequest() *Message {
	return &Message{MsgType: MsgTGetDBInfo}
}

// NewGetDBInfoResponse creates a new GetDBInfo response
func NewGetDBInfoResponse(info db.DatabaseInfo, err error) *Message {
	return (&Message{MsgType: MsgTGetDBInfo, Info: &info}).SetErr(err)
}

// NewResponse creates a response without payload for write operations
func NewResponse(t MessageType, err error) *Message {
	return (&Message{MsgType: t}).SetErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    store.RetCInternalError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:         "success",
	MsgTError:           "error",
	MsgTCreateNamespace: "createNamespace",
	MsgTEnsureIndex:     "ensureIndex",
	MsgTDrop:            "drop",
	MsgTInsert:          "insert",
	MsgTRemove:          "remove",
	MsgTListNamespaces:  "listNamespaces",
	MsgTFind:            "find",
	MsgTStepDown:        "stepDown",
	MsgTGetRoleStatus:   "getRoleStatus",
	MsgTGetDBInfo:       "getDBInfo",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Catalog operations

	MsgTCreateNamespace // Create a collection
	MsgTEnsureIndex     // Create an index unless an equivalent one exists
	MsgTDrop            // Drop a collection or index
	MsgTListNamespaces  // List namespaces matching a pattern

	// Document operations

	MsgTInsert // Insert a document
	MsgTRemove // Remove a document by identity
	MsgTFind   // Run a query

	// Replica set operations

	MsgTStepDown      // Demote the primary
	MsgTGetRoleStatus // Role of the serving member
	MsgTGetDBInfo     // Engine information
)
