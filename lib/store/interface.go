package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the command surface of a dDoc shard.
// All write operations return only an error (nil on success), read operations
// return the requested data along with an error. Errors returned by the store
// are *Error values, use errors.Is with the sentinels below to check them.
type IStore interface {
	// CreateNamespace creates a collection. Accepted options are "temp" or
	// "temporary" with a bool, 0 or 1 value. Fails with ErrAlreadyExists if the
	// name is taken.
	CreateNamespace(name string, opts map[string]any) (err error)
	// EnsureIndex creates an index on a collection unless an equivalent index exists.
	// The collection is created if it does not exist.
	EnsureIndex(collection string, ks catalog.KeySpec) (err error)
	// Drop drops a collection with all of its indexes, or a single index.
	// Dropping a namespace that does not exist is not an error.
	Drop(name string) (err error)
	// Insert inserts a document and returns its identity. A missing _id is generated.
	Insert(collection string, doc map[string]any) (id any, err error)
	// Remove removes a document by identity.
	Remove(collection string, id any) (err error)
	// ListNamespaces returns the namespaces matching the pattern, sorted by name.
	ListNamespaces(p catalog.Pattern) (nss []catalog.Namespace, err error)
	// Find runs a query and returns all results together with the explain output.
	Find(q query.Query) (docs []map[string]any, explain query.Explain, err error)
	// StepDown demotes the primary and bars it from re-election for timeoutSeconds.
	// Fails with ErrNotPrimary on a non-primary.
	StepDown(timeoutSeconds uint64, force bool) (err error)
	// GetRoleStatus returns the role of the serving member.
	GetRoleStatus() (status repl.RoleStatus, err error)
	// GetDBInfo returns metadata about the engine underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("StoreError (code %s)", e.Code)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new store error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the return code of err. Errors that are not store errors
// map to RetCInternalError, nil maps to RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// Sentinel errors for errors.Is checks.
var (
	ErrAlreadyExists         = NewError(RetCAlreadyExists, "")
	ErrNotPrimary            = NewError(RetCNotPrimary, "")
	ErrNoMajority            = NewError(RetCNoMajority, "")
	ErrReplicationLagTimeout = NewError(RetCReplicationLagTimeout, "")
	ErrNamespaceNotFound     = NewError(RetCNamespaceNotFound, "")
	ErrDuplicateKey          = NewError(RetCDuplicateKey, "")
	ErrInvalidOperation      = NewError(RetCInvalidOperation, "")
)

// FromResult converts the result of an applied log entry into a store error.
func FromResult(res oplog.Result) error {
	switch res.Code {
	case oplog.ResultOK, oplog.ResultSkipped:
		return nil
	case oplog.ResultAlreadyExists:
		return NewError(RetCAlreadyExists, res.Msg)
	case oplog.ResultNamespaceNotFound:
		return NewError(RetCNamespaceNotFound, res.Msg)
	case oplog.ResultDuplicateKey:
		return NewError(RetCDuplicateKey, res.Msg)
	case oplog.ResultInvalid:
		return NewError(RetCInvalidOperation, res.Msg)
	default:
		return Errorf(RetCInternalError, "unexpected result %s: %s", res.Code, res.Msg)
	}
}

// FromReplError converts errors of the replication and query layers into store errors.
func FromReplError(err error) error {
	var e *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return err
	case errors.Is(err, repl.ErrNotLeader):
		return NewError(RetCNotPrimary, err.Error())
	case errors.Is(err, repl.ErrNoQuorum):
		return NewError(RetCNoMajority, err.Error())
	case errors.Is(err, repl.ErrCatchUpTimeout):
		return NewError(RetCReplicationLagTimeout, err.Error())
	case errors.Is(err, query.ErrIndexNotFound), errors.Is(err, query.ErrInvalidQuery):
		return NewError(RetCInvalidOperation, err.Error())
	default:
		return NewError(RetCInternalError, err.Error())
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess               RetCode = iota // 0: Command executed successfully.
	RetCInternalError                        // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                 // 2: Operation is not supported.
	RetCInvalidOperation                     // 3: Invalid operation.
	RetCAlreadyExists                        // 4: Namespace already exists.
	RetCNotPrimary                           // 5: Write or step down on a member that is not a writable primary.
	RetCNoMajority                           // 6: No majority of members is reachable.
	RetCReplicationLagTimeout                // 7: A member could not catch up with the log in time.
	RetCNamespaceNotFound                    // 8: Namespace does not exist.
	RetCDuplicateKey                         // 9: Document identity already exists.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCAlreadyExists:
		return "AlreadyExists"
	case RetCNotPrimary:
		return "NotPrimary"
	case RetCNoMajority:
		return "NoMajority"
	case RetCReplicationLagTimeout:
		return "ReplicationLagTimeout"
	case RetCNamespaceNotFound:
		return "NamespaceNotFound"
	case RetCDuplicateKey:
		return "DuplicateKey"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}
